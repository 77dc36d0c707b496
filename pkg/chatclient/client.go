// Package chatclient is the Go client for the realtime chat channel. It keeps
// the per-counterpart unread counters and presence flags a chat UI needs,
// updating them as events arrive and reconciling with the server's
// conversation list on demand.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mentorlink/mentorlink-api/internal/dto"
)

// EventHandler receives every decoded server event after the client state has
// been updated. Data holds the raw payload of the envelope.
type EventHandler func(event string, data json.RawMessage)

// Options configures a chat client connection.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host/ws/chat.
	URL string
	// Token is the bearer credential presented in the handshake.
	Token string
	// OnEvent, when set, observes every server event.
	OnEvent EventHandler
	Logger  zerolog.Logger
}

// Client is one authenticated chat channel plus its local view of unread and
// presence state.
type Client struct {
	conn    *websocket.Conn
	state   *State
	onEvent EventHandler
	logger  zerolog.Logger

	writeMu sync.Mutex
}

// Dial opens and authenticates a chat channel. The token travels in the
// handshake query string; the server rejects the upgrade before any event is
// processed when it is missing or invalid.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	endpoint, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid chat endpoint: %w", err)
	}

	query := endpoint.Query()
	query.Set("token", opts.Token)
	endpoint.RawQuery = query.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("chat handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("chat dial failed: %w", err)
	}

	client := &Client{
		conn:    conn,
		state:   NewState(),
		onEvent: opts.OnEvent,
		logger:  opts.Logger.With().Str("component", "chat_client").Logger(),
	}
	client.state.setConnected(true)

	return client, nil
}

// State exposes the client's unread/presence tracker.
func (c *Client) State() *State {
	return c.state
}

// Listen consumes server events until the connection drops or ctx is
// cancelled. It must run on its own goroutine when the caller also sends.
func (c *Client) Listen(ctx context.Context) error {
	defer c.state.setConnected(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var envelope dto.ChatEnvelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			return err
		}

		c.apply(envelope)

		if c.onEvent != nil {
			c.onEvent(envelope.Event, envelope.Data)
		}
	}
}

// apply folds one server event into the local state.
func (c *Client) apply(envelope dto.ChatEnvelope) {
	switch envelope.Event {
	case dto.EventMessageNotification:
		var payload dto.MessageNotificationPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			c.logger.Warn().Err(err).Msg("invalid messageNotification payload")
			return
		}
		c.state.noteIncoming(payload.From)
	case dto.EventUserTyping:
		var payload dto.TypingPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return
		}
		c.state.setTyping(payload.UserID, true)
	case dto.EventUserStoppedTyping:
		var payload dto.TypingPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return
		}
		c.state.setTyping(payload.UserID, false)
	case dto.EventError:
		var payload dto.ErrorPayload
		if err := json.Unmarshal(envelope.Data, &payload); err == nil {
			c.logger.Warn().Str("message", payload.Message).Msg("chat server reported an error")
		}
	}
}

// OpenConversation joins a counterpart's room, acknowledges their messages and
// makes the conversation active so its counter stays at zero.
func (c *Client) OpenConversation(counterpartID string) error {
	if err := c.Join(counterpartID); err != nil {
		return err
	}
	if err := c.MarkAsRead(counterpartID); err != nil {
		return err
	}
	c.state.SetActive(counterpartID)
	return nil
}

// Join requests the room and history snapshot for a counterpart.
func (c *Client) Join(counterpartID string) error {
	return c.emit(dto.EventJoin, dto.JoinRequest{CounterpartID: counterpartID})
}

// Send delivers one message to a recipient.
func (c *Client) Send(recipientID, message string) error {
	return c.emit(dto.EventSendMessage, dto.ChatSendRequest{RecipientID: recipientID, Message: message})
}

// Typing signals the counterpart that this user is typing.
func (c *Client) Typing(recipientID string) error {
	return c.emit(dto.EventTyping, dto.TypingRequest{RecipientID: recipientID})
}

// StopTyping clears the typing indicator.
func (c *Client) StopTyping(recipientID string) error {
	return c.emit(dto.EventStopTyping, dto.TypingRequest{RecipientID: recipientID})
}

// MarkAsRead acknowledges every unread message from the given sender and
// zeroes the local counter.
func (c *Client) MarkAsRead(senderID string) error {
	if err := c.emit(dto.EventMarkAsRead, dto.MarkReadRequest{SenderID: senderID}); err != nil {
		return err
	}
	c.state.clearUnread(senderID)
	return nil
}

// Close tears the channel down.
func (c *Client) Close() error {
	c.state.setConnected(false)
	return c.conn.Close()
}

func (c *Client) emit(event string, payload interface{}) error {
	envelope, err := dto.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(envelope)
}
