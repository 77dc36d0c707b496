package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/mentorlink-api/internal/dto"
	"github.com/mentorlink/mentorlink-api/internal/service"
)

type stubChatService struct {
	messages     []dto.ChatMessageResponse
	sendResponse dto.ChatMessageResponse
	sendErr      error
	messagesErr  error
	markedRows   int64
	online       bool
}

func (s *stubChatService) ServeConnection(*websocket.Conn, service.ChatConnectionOptions) {}

func (s *stubChatService) ResolveIdentity(_ context.Context, userID string) (dto.UserSummary, error) {
	return dto.UserSummary{ID: userID}, nil
}

func (s *stubChatService) Messages(_ context.Context, _, _ string) ([]dto.ChatMessageResponse, error) {
	return s.messages, s.messagesErr
}

func (s *stubChatService) Send(_ context.Context, _ string, _ dto.RestSendRequest) (dto.ChatMessageResponse, error) {
	return s.sendResponse, s.sendErr
}

func (s *stubChatService) MarkRead(_ context.Context, _, _ string) (int64, error) {
	return s.markedRows, nil
}

func (s *stubChatService) Online(_ context.Context, _ string) (bool, error) {
	return s.online, nil
}

func (s *stubChatService) Start(context.Context) {}

type stubConversationService struct {
	conversations []dto.ConversationResponse
	err           error
}

func (s *stubConversationService) List(context.Context, string) ([]dto.ConversationResponse, error) {
	return s.conversations, s.err
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func newChatTestApp(chat service.ChatService, conversations service.ConversationService, authenticated bool) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/chat")
	if authenticated {
		group.Use(func(c *fiber.Ctx) error {
			c.Locals("user_id", "u1")
			return c.Next()
		})
	}

	handler := NewChatHandler(chat, conversations, zerolog.Nop())
	handler.Register(group, nil)
	return app
}

func decodeEnvelope(t *testing.T, body io.Reader) apiEnvelope {
	t.Helper()
	var envelope apiEnvelope
	require.NoError(t, json.NewDecoder(body).Decode(&envelope))
	return envelope
}

func TestChatHandlerListConversations(t *testing.T) {
	conversations := &stubConversationService{
		conversations: []dto.ConversationResponse{
			{
				Participant: dto.UserSummary{ID: "u2", Username: "mentor"},
				LastMessage: dto.LastMessageSummary{ID: 1, Content: "hi", SenderID: "u2", SentAt: time.Now().UTC()},
				UnreadCount: 3,
			},
		},
	}
	app := newChatTestApp(&stubChatService{}, conversations, true)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/chat/conversations", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	envelope := decodeEnvelope(t, resp.Body)
	assert.True(t, envelope.Success)

	var payload []dto.ConversationResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	require.Len(t, payload, 1)
	assert.Equal(t, "u2", payload[0].Participant.ID)
	assert.Equal(t, int64(3), payload[0].UnreadCount)
}

func TestChatHandlerRequiresAuthentication(t *testing.T) {
	app := newChatTestApp(&stubChatService{}, &stubConversationService{}, false)

	for _, route := range []struct {
		method string
		path   string
	}{
		{fiber.MethodGet, "/api/chat/conversations"},
		{fiber.MethodGet, "/api/chat/messages/u2"},
		{fiber.MethodPost, "/api/chat/messages"},
		{fiber.MethodPut, "/api/chat/messages/read/u2"},
	} {
		req := httptest.NewRequest(route.method, route.path, strings.NewReader("{}"))
		req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, "%s %s", route.method, route.path)
	}
}

func TestChatHandlerMessages(t *testing.T) {
	chat := &stubChatService{
		messages: []dto.ChatMessageResponse{
			{ID: 1, SenderID: "u2", ReceiverID: "u1", Body: "hello"},
		},
	}
	app := newChatTestApp(chat, &stubConversationService{}, true)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/chat/messages/u2", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	envelope := decodeEnvelope(t, resp.Body)
	var payload []dto.ChatMessageResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	require.Len(t, payload, 1)
	assert.Equal(t, "hello", payload[0].Body)
}

func TestChatHandlerMessagesUnknownRecipient(t *testing.T) {
	chat := &stubChatService{messagesErr: service.ErrRecipientNotFound}
	app := newChatTestApp(chat, &stubConversationService{}, true)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/chat/messages/ghost", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestChatHandlerSend(t *testing.T) {
	chat := &stubChatService{
		sendResponse: dto.ChatMessageResponse{ID: 7, SenderID: "u1", ReceiverID: "u2", Body: "hello"},
	}
	app := newChatTestApp(chat, &stubConversationService{}, true)

	req := httptest.NewRequest(fiber.MethodPost, "/api/chat/messages", strings.NewReader(`{"recipientId":"u2","content":"hello"}`))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	envelope := decodeEnvelope(t, resp.Body)
	var payload dto.ChatMessageResponse
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, uint(7), payload.ID)
	assert.Equal(t, "hello", payload.Body)
}

func TestChatHandlerSendErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"empty message", service.ErrEmptyMessage, fiber.StatusBadRequest},
		{"self message", service.ErrSelfMessage, fiber.StatusBadRequest},
		{"unknown recipient", service.ErrRecipientNotFound, fiber.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newChatTestApp(&stubChatService{sendErr: tc.err}, &stubConversationService{}, true)

			req := httptest.NewRequest(fiber.MethodPost, "/api/chat/messages", strings.NewReader(`{"recipientId":"u2","content":"x"}`))
			req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestChatHandlerSendInvalidBody(t *testing.T) {
	app := newChatTestApp(&stubChatService{}, &stubConversationService{}, true)

	req := httptest.NewRequest(fiber.MethodPost, "/api/chat/messages", strings.NewReader("not json"))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestChatHandlerMarkRead(t *testing.T) {
	chat := &stubChatService{markedRows: 4}
	app := newChatTestApp(chat, &stubConversationService{}, true)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPut, "/api/chat/messages/read/u2", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	envelope := decodeEnvelope(t, resp.Body)
	var payload struct {
		Updated int64 `json:"updated"`
	}
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, int64(4), payload.Updated)
}

func TestChatHandlerPresence(t *testing.T) {
	chat := &stubChatService{online: true}
	app := newChatTestApp(chat, &stubConversationService{}, true)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/chat/presence/u2", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	envelope := decodeEnvelope(t, resp.Body)
	var payload struct {
		UserID string `json:"userId"`
		Online bool   `json:"online"`
	}
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, "u2", payload.UserID)
	assert.True(t, payload.Online)
}
