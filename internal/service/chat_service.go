package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/mentorlink/mentorlink-api/internal/dto"
	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/internal/observability"
	"github.com/mentorlink/mentorlink-api/internal/repository"
)

const (
	chatSendBufferSize = 32
	chatHistoryLimit   = 50

	heartbeatInterval = 30 * time.Second
	// pongWait bounds how long a silent channel survives. Missed pongs push
	// the read deadline past this and the reader tears the channel down.
	pongWait    = 75 * time.Second
	presenceTTL = 90 * time.Second

	lastMessageTTL = 30 * time.Minute
)

// Failures surfaced to clients as error events on the websocket, or mapped to
// status codes on the REST surface.
var (
	ErrEmptyMessage      = errors.New("message cannot be empty")
	ErrSelfMessage       = errors.New("cannot message yourself")
	ErrRecipientNotFound = errors.New("recipient not found")
)

// ChatConnectionOptions wraps the identity bound during the HTTP upgrade.
// Event payloads never override it.
type ChatConnectionOptions struct {
	User          dto.UserSummary
	CorrelationID string
	Context       context.Context
}

// ChatService is the realtime message broker plus the REST-facing operations
// that share its persistence contract.
type ChatService interface {
	ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions)
	ResolveIdentity(ctx context.Context, userID string) (dto.UserSummary, error)
	Messages(ctx context.Context, userID, recipientID string) ([]dto.ChatMessageResponse, error)
	Send(ctx context.Context, senderID string, payload dto.RestSendRequest) (dto.ChatMessageResponse, error)
	MarkRead(ctx context.Context, userID, senderID string) (int64, error)
	Online(ctx context.Context, userID string) (bool, error)
	Start(ctx context.Context)
}

type chatService struct {
	messages       repository.MessageRepository
	users          repository.UserRepository
	redis          *redis.Client
	redisStream    string
	redisCache     string
	presencePrefix string
	nats           *nats.Conn
	natsSubject    string
	validator      *validator.Validate
	logger         zerolog.Logger
	tracer         trace.Tracer
	sanitizer      *bluemonday.Policy
	hub            *chatHub
	nodeID         string
}

type chatClient struct {
	conn       *websocket.Conn
	send       chan dto.ChatEnvelope
	user       dto.UserSummary
	rooms      map[string]struct{}
	activeRoom string
	service    *chatService
	closed     chan struct{}
	once       sync.Once
	baseCtx    context.Context
}

// fanoutEvent relays a room broadcast between server nodes over redis pub/sub
// and NATS, deduplicated by the originating node id.
type fanoutEvent struct {
	Source  string          `json:"source"`
	Room    string          `json:"room"`
	Exclude string          `json:"exclude,omitempty"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	SentAt  time.Time       `json:"sent_at"`
}

// NewChatService creates the websocket chat broker.
func NewChatService(messages repository.MessageRepository, users repository.UserRepository, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) ChatService {
	stream := ""
	cachePrefix := ""
	presencePrefix := ""
	natsSubject := ""
	if channelBase != "" {
		stream = channelBase + ":chat"
		cachePrefix = channelBase + ":chat:last"
		presencePrefix = channelBase + ":presence"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".chat"
	}

	return &chatService{
		messages:       messages,
		users:          users,
		redis:          redisClient,
		redisStream:    stream,
		redisCache:     cachePrefix,
		presencePrefix: presencePrefix,
		nats:           natsConn,
		natsSubject:    natsSubject,
		validator:      validate,
		logger:         logger.With().Str("component", "chat_service").Logger(),
		tracer:         otel.Tracer("github.com/mentorlink/mentorlink-api/internal/service/chat"),
		sanitizer:      bluemonday.StrictPolicy(),
		hub:            newChatHub(logger.With().Str("component", "chat_hub").Logger()),
		nodeID:         uuid.NewString(),
	}
}

func (s *chatService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *chatService) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &chatClient{
		conn:    conn,
		send:    make(chan dto.ChatEnvelope, chatSendBufferSize),
		user:    opts.User,
		rooms:   make(map[string]struct{}),
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	s.hub.register(client)
	s.markOnline(baseCtx, client.user.ID)
	observability.ChatConnectionsActive().Inc()

	go client.writer()
	client.reader()

	s.markOffline(context.Background(), client.user.ID)
	observability.ChatConnectionsActive().Dec()
}

// ResolveIdentity maps an authenticated token subject onto its directory
// record. A valid token whose user no longer exists must not open a channel.
func (s *chatService) ResolveIdentity(ctx context.Context, userID string) (dto.UserSummary, error) {
	return s.lookupUser(ctx, userID)
}

// Messages returns the full history with a counterpart and, matching the
// page-load behavior of the web client, marks that counterpart's messages read.
func (s *chatService) Messages(ctx context.Context, userID, recipientID string) ([]dto.ChatMessageResponse, error) {
	if _, err := s.lookupUser(ctx, recipientID); err != nil {
		return nil, err
	}

	history, err := s.messages.ListBetween(ctx, userID, recipientID, 0)
	if err != nil {
		return nil, err
	}

	responses, err := s.enrich(ctx, history)
	if err != nil {
		return nil, err
	}

	if _, err := s.messages.MarkConversationRead(ctx, recipientID, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to mark conversation read")
	}

	return responses, nil
}

// Send persists one message without the realtime fan-out. The websocket path
// and this one share the same validation and persistence contract.
func (s *chatService) Send(ctx context.Context, senderID string, payload dto.RestSendRequest) (dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	return s.persistMessage(ctx, senderID, payload.RecipientID, payload.Content)
}

func (s *chatService) MarkRead(ctx context.Context, userID, senderID string) (int64, error) {
	return s.messages.MarkConversationRead(ctx, senderID, userID)
}

// Online reports whether any node currently holds a channel for the user.
func (s *chatService) Online(ctx context.Context, userID string) (bool, error) {
	if s.redis == nil || s.presencePrefix == "" {
		return false, nil
	}

	count, err := s.redis.Exists(ctx, s.presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// persistMessage validates, sanitizes and stores one message. Both the
// websocket and REST send paths funnel through here.
func (s *chatService) persistMessage(ctx context.Context, senderID, recipientID, body string) (dto.ChatMessageResponse, error) {
	clean := strings.TrimSpace(s.sanitizer.Sanitize(body))
	if clean == "" {
		return dto.ChatMessageResponse{}, ErrEmptyMessage
	}

	if recipientID == senderID {
		return dto.ChatMessageResponse{}, ErrSelfMessage
	}

	recipient, err := s.lookupUser(ctx, recipientID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	sender, err := s.lookupUser(ctx, senderID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("chat.sender_id", senderID),
		attribute.String("chat.receiver_id", recipientID),
	}
	spanCtx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(attrs...))
	defer span.End()

	model := models.ChatMessage{
		SenderID:   senderID,
		ReceiverID: recipientID,
		Body:       clean,
	}
	if err := s.messages.Save(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}

	response := dto.NewChatMessageResponse(model)
	response.Sender = &sender
	response.Receiver = &recipient

	s.cacheLastMessage(spanCtx, RoomKey(senderID, recipientID), response)

	observability.ChatMessagesSent().Inc()

	return response, nil
}

func (s *chatService) lookupUser(ctx context.Context, id string) (dto.UserSummary, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.UserSummary{}, ErrRecipientNotFound
		}
		return dto.UserSummary{}, err
	}
	return dto.NewUserSummary(user), nil
}

// enrich joins directory snapshots onto a batch of messages.
func (s *chatService) enrich(ctx context.Context, messages []models.ChatMessage) ([]dto.ChatMessageResponse, error) {
	idSet := make(map[string]struct{})
	for _, message := range messages {
		idSet[message.SenderID] = struct{}{}
		idSet[message.ReceiverID] = struct{}{}
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries := make(map[string]dto.UserSummary, len(users))
	for _, user := range users {
		summaries[user.ID] = dto.NewUserSummary(user)
	}

	responses := make([]dto.ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		response := dto.NewChatMessageResponse(message)
		if sender, ok := summaries[message.SenderID]; ok {
			senderCopy := sender
			response.Sender = &senderCopy
		}
		if receiver, ok := summaries[message.ReceiverID]; ok {
			receiverCopy := receiver
			response.Receiver = &receiverCopy
		}
		responses = append(responses, response)
	}

	return responses, nil
}

// emitRoom broadcasts an event to the local members of a room and relays it to
// the other nodes.
func (s *chatService) emitRoom(ctx context.Context, roomID, event string, payload interface{}, excludeUserID string) {
	envelope, err := dto.NewEnvelope(event, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("failed to encode chat event")
		return
	}

	s.hub.broadcast(roomID, envelope, excludeUserID)

	if err := s.publish(ctx, fanoutEvent{
		Source:  s.nodeID,
		Room:    roomID,
		Exclude: excludeUserID,
		Event:   event,
		Data:    envelope.Data,
		SentAt:  time.Now().UTC(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("failed to relay chat event")
	}
}

func (s *chatService) publish(ctx context.Context, event fanoutEvent) error {
	if (s.redis == nil || s.redisStream == "") && (s.nats == nil || s.natsSubject == "") {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *chatService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		s.handleFanout([]byte(msg.Payload))
	}
}

func (s *chatService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "mentorlink-chat", func(msg *nats.Msg) {
		s.handleFanout(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

func (s *chatService) handleFanout(data []byte) {
	var event fanoutEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid chat fanout event")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	s.hub.broadcast(event.Room, dto.ChatEnvelope{Event: event.Event, Data: event.Data}, event.Exclude)
}

// cacheLastMessage keeps the newest message of a room in redis so a joining
// channel sees it immediately, before the history query returns.
func (s *chatService) cacheLastMessage(ctx context.Context, roomID string, message dto.ChatMessageResponse) {
	if s.redis == nil || s.redisCache == "" {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal chat message for cache")
		return
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, roomID)
	if err := s.redis.Set(ctx, key, payload, lastMessageTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache chat message")
	}
}

func (s *chatService) fetchLastMessage(ctx context.Context, roomID string) *dto.ChatMessageResponse {
	if s.redis == nil || s.redisCache == "" {
		return nil
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, roomID)
	result, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return nil
	}

	var message dto.ChatMessageResponse
	if err := json.Unmarshal([]byte(result), &message); err != nil {
		s.logger.Warn().Err(err).Msg("failed to unmarshal cached chat message")
		return nil
	}

	return &message
}

func (s *chatService) presenceKey(userID string) string {
	return fmt.Sprintf("%s:%s", s.presencePrefix, userID)
}

func (s *chatService) markOnline(ctx context.Context, userID string) {
	if s.redis == nil || s.presencePrefix == "" {
		return
	}
	if err := s.redis.Set(ctx, s.presenceKey(userID), s.nodeID, presenceTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to record presence")
	}
}

func (s *chatService) markOffline(ctx context.Context, userID string) {
	if s.redis == nil || s.presencePrefix == "" {
		return
	}
	if err := s.redis.Del(ctx, s.presenceKey(userID)).Err(); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to clear presence")
	}
}

// dispatch routes one inbound envelope to its event handler. All failures are
// converted into an error event on this channel; nothing here may take the
// broker down.
func (s *chatService) dispatch(ctx context.Context, client *chatClient, envelope dto.ChatEnvelope) {
	switch envelope.Event {
	case dto.EventJoin:
		s.handleJoin(ctx, client, envelope.Data)
	case dto.EventSendMessage:
		s.handleSend(ctx, client, envelope.Data)
	case dto.EventTyping:
		s.handleTyping(client, envelope.Data, dto.EventUserTyping)
	case dto.EventStopTyping:
		s.handleTyping(client, envelope.Data, dto.EventUserStoppedTyping)
	case dto.EventMarkAsRead:
		s.handleMarkAsRead(ctx, client, envelope.Data)
	default:
		client.emitError(fmt.Sprintf("unknown event %q", envelope.Event))
	}
}

func (s *chatService) handleJoin(ctx context.Context, client *chatClient, data json.RawMessage) {
	var payload dto.JoinRequest
	if err := s.decode(data, &payload); err != nil {
		client.emitError("invalid join payload")
		return
	}

	counterpart, err := s.lookupUser(ctx, payload.CounterpartID)
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			client.emitError("Recipient not found")
			return
		}
		s.logger.Error().Err(err).Str("user_id", client.user.ID).Msg("join failed")
		client.emitError("Failed to join chat")
		return
	}

	room := RoomKey(client.user.ID, counterpart.ID)
	if last := s.fetchLastMessage(ctx, room); last != nil {
		client.emit(dto.EventNewMessage, *last)
	}

	history, err := s.messages.ListBetween(ctx, client.user.ID, counterpart.ID, chatHistoryLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", client.user.ID).Msg("failed to load chat history")
		client.emitError("Failed to join chat")
		return
	}

	responses, err := s.enrich(ctx, history)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", client.user.ID).Msg("failed to enrich chat history")
		client.emitError("Failed to join chat")
		return
	}

	s.hub.joinRoom(client, room)

	client.emit(dto.EventChatHistory, dto.ChatHistoryPayload{Messages: responses})
}

func (s *chatService) handleSend(ctx context.Context, client *chatClient, data json.RawMessage) {
	var payload dto.ChatSendRequest
	if err := s.decode(data, &payload); err != nil {
		client.emitError("invalid message payload")
		return
	}

	response, err := s.persistMessage(ctx, client.user.ID, payload.RecipientID, payload.Message)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyMessage):
			client.emitError("Message cannot be empty")
		case errors.Is(err, ErrSelfMessage):
			client.emitError("Cannot message yourself")
		case errors.Is(err, ErrRecipientNotFound):
			client.emitError("Recipient not found")
		default:
			s.logger.Error().Err(err).Str("user_id", client.user.ID).Msg("failed to send message")
			client.emitError("Failed to send message")
		}
		return
	}

	room := RoomKey(client.user.ID, payload.RecipientID)
	s.emitRoom(ctx, room, dto.EventNewMessage, response, "")
	s.emitRoom(ctx, payload.RecipientID, dto.EventMessageNotification, dto.MessageNotificationPayload{
		From:    client.user.ID,
		Message: response,
	}, "")
}

func (s *chatService) handleTyping(client *chatClient, data json.RawMessage, event string) {
	var payload dto.TypingRequest
	if err := s.decode(data, &payload); err != nil {
		return
	}

	room := RoomKey(client.user.ID, payload.RecipientID)
	s.emitRoom(client.baseCtx, room, event, dto.TypingPayload{
		UserID:   client.user.ID,
		Username: client.user.Username,
	}, client.user.ID)
}

func (s *chatService) handleMarkAsRead(ctx context.Context, client *chatClient, data json.RawMessage) {
	var payload dto.MarkReadRequest
	if err := s.decode(data, &payload); err != nil {
		client.emitError("invalid markAsRead payload")
		return
	}

	rows, err := s.messages.MarkConversationRead(ctx, payload.SenderID, client.user.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", client.user.ID).Msg("failed to mark messages read")
		return
	}
	s.logger.Debug().Int64("rows", rows).Str("user_id", client.user.ID).Msg("conversation acknowledged")

	s.emitRoom(ctx, payload.SenderID, dto.EventMessagesRead, dto.MessagesReadPayload{ReadBy: client.user.ID}, "")
}

func (s *chatService) decode(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return err
	}
	return s.validator.Struct(out)
}

func (c *chatClient) reader() {
	defer c.close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.service.markOnline(c.baseCtx, c.user.ID)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var envelope dto.ChatEnvelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			c.service.logger.Debug().Err(err).Str("user_id", c.user.ID).Msg("chat read loop ended")
			return
		}

		c.service.dispatch(c.baseCtx, c, envelope)
	}
}

func (c *chatClient) writer() {
	defer c.close()

	for {
		select {
		case envelope, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(envelope); err != nil {
				c.service.logger.Debug().Err(err).Str("user_id", c.user.ID).Msg("chat write loop terminated")
				return
			}
		case <-time.After(heartbeatInterval):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Str("user_id", c.user.ID).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

// emit queues an event for this channel only.
func (c *chatClient) emit(event string, payload interface{}) {
	envelope, err := dto.NewEnvelope(event, payload)
	if err != nil {
		c.service.logger.Error().Err(err).Str("event", event).Msg("failed to encode chat event")
		return
	}

	select {
	case c.send <- envelope:
	default:
		c.service.logger.Warn().Str("user_id", c.user.ID).Str("event", event).Msg("sender queue full, dropping event")
	}
}

func (c *chatClient) emitError(message string) {
	c.emit(dto.EventError, dto.ErrorPayload{Message: message})
}

func (c *chatClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.unregister(c)
		_ = c.conn.Close()
	})
}
