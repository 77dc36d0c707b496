package dto

import (
	"encoding/json"
	"time"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

// Websocket event names. These are the compatibility surface shared with the
// web client; renaming one is a breaking protocol change.
const (
	EventJoin        = "join"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"
	EventMarkAsRead  = "markAsRead"

	EventChatHistory         = "chatHistory"
	EventNewMessage          = "newMessage"
	EventMessageNotification = "messageNotification"
	EventUserTyping          = "userTyping"
	EventUserStoppedTyping   = "userStoppedTyping"
	EventMessagesRead        = "messagesRead"
	EventError               = "error"
)

// ChatEnvelope frames every message exchanged over the chat websocket.
type ChatEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest opens a conversation with a counterpart and requests history.
type JoinRequest struct {
	CounterpartID string `json:"counterpartId" validate:"required,max=64"`
}

// ChatSendRequest carries a message sent over the websocket.
type ChatSendRequest struct {
	RecipientID string `json:"recipientId" validate:"required,max=64"`
	Message     string `json:"message" validate:"required,min=1,max=4000"`
}

// TypingRequest signals a typing indicator change for a conversation.
type TypingRequest struct {
	RecipientID string `json:"recipientId" validate:"required,max=64"`
}

// MarkReadRequest acknowledges all unread messages from the given sender.
type MarkReadRequest struct {
	SenderID string `json:"senderId" validate:"required,max=64"`
}

// RestSendRequest is the body of POST /messages.
type RestSendRequest struct {
	RecipientID string `json:"recipientId" validate:"required,max=64"`
	Content     string `json:"content" validate:"required,min=1,max=4000"`
}

// ChatMessageResponse is the serialized representation of a chat message,
// enriched with sender and receiver directory snapshots when available.
type ChatMessageResponse struct {
	ID         uint         `json:"id"`
	SenderID   string       `json:"senderId"`
	ReceiverID string       `json:"receiverId"`
	Body       string       `json:"message"`
	IsRead     bool         `json:"isRead"`
	SentAt     time.Time    `json:"sentAt"`
	Sender     *UserSummary `json:"sender,omitempty"`
	Receiver   *UserSummary `json:"receiver,omitempty"`
}

// ChatHistoryPayload is emitted once per join with the recent history snapshot.
type ChatHistoryPayload struct {
	Messages []ChatMessageResponse `json:"messages"`
}

// MessageNotificationPayload is delivered to the receiver's personal room so
// an open client learns about messages outside the active conversation.
type MessageNotificationPayload struct {
	From    string              `json:"from"`
	Message ChatMessageResponse `json:"message"`
}

// TypingPayload identifies who is (or stopped) typing in a room.
type TypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// MessagesReadPayload tells a sender their messages were acknowledged.
type MessagesReadPayload struct {
	ReadBy string `json:"readBy"`
}

// ErrorPayload reports a handler failure to the offending channel only.
type ErrorPayload struct {
	Message string `json:"message"`
}

// LastMessageSummary is the most recent message of a conversation entry.
type LastMessageSummary struct {
	ID       uint      `json:"id"`
	Content  string    `json:"content"`
	SenderID string    `json:"senderId"`
	SentAt   time.Time `json:"sentAt"`
}

// ConversationResponse is one entry of the conversation list: the counterpart,
// the latest message either way, and how many of their messages are unread.
type ConversationResponse struct {
	Participant UserSummary        `json:"participant"`
	LastMessage LastMessageSummary `json:"lastMessage"`
	UnreadCount int64              `json:"unreadCount"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:         message.ID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		Body:       message.Body,
		IsRead:     message.IsRead,
		SentAt:     message.SentAt,
	}
}

// NewEnvelope marshals a payload into a framed websocket event.
func NewEnvelope(event string, payload interface{}) (ChatEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ChatEnvelope{}, err
	}
	return ChatEnvelope{Event: event, Data: data}, nil
}
