package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/mentorlink/mentorlink-api/internal/dto"
	"github.com/mentorlink/mentorlink-api/internal/middleware"
	"github.com/mentorlink/mentorlink-api/internal/service"
	"github.com/mentorlink/mentorlink-api/internal/utils"
)

// ChatHandler wires the chat REST surface and the websocket upgrade.
type ChatHandler struct {
	chat          service.ChatService
	conversations service.ConversationService
	logger        zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(chat service.ChatService, conversations service.ConversationService, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		chat:          chat,
		conversations: conversations,
		logger:        logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds the REST chat routes under an authenticated router group.
// sendLimiter, when provided, throttles the message-send path only.
func (h *ChatHandler) Register(router fiber.Router, sendLimiter fiber.Handler) {
	if sendLimiter == nil {
		sendLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}

	router.Get("/conversations", h.listConversations)
	router.Get("/messages/:recipientId", h.messages)
	router.Post("/messages", sendLimiter, h.send)
	router.Put("/messages/read/:senderId", h.markRead)
	router.Get("/presence/:userId", h.presence)
}

// RegisterWebsocket binds the realtime channel under a group guarded by the
// websocket handshake middleware.
func (h *ChatHandler) RegisterWebsocket(router fiber.Router) {
	router.Use("/", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/", websocket.New(h.handleConnection))
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	user, err := h.chat.ResolveIdentity(baseCtx, userID)
	if err != nil {
		// Token was valid but the subject is gone from the directory.
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "unknown identity"))
		_ = conn.Close()
		return
	}

	correlation := ""
	if value, ok := conn.Locals("correlation_id").(string); ok {
		correlation = value
	}

	h.logger.Info().Str("user_id", user.ID).Msg("chat websocket connected")
	h.chat.ServeConnection(conn, service.ChatConnectionOptions{
		User:          user,
		CorrelationID: correlation,
		Context:       baseCtx,
	})
	h.logger.Info().Str("user_id", user.ID).Msg("chat websocket disconnected")
}

func (h *ChatHandler) listConversations(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	conversations, err := h.conversations.List(requestContext(c), userID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list conversations")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to fetch conversations")
	}

	return utils.SendSuccess(c, "conversations retrieved", conversations)
}

func (h *ChatHandler) messages(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	recipientID := strings.TrimSpace(c.Params("recipientId"))
	if recipientID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "recipient id required")
	}

	messages, err := h.chat.Messages(requestContext(c), userID, recipientID)
	if err != nil {
		return h.sendChatError(c, err, "failed to fetch messages")
	}

	return utils.SendSuccess(c, "messages retrieved", messages)
}

func (h *ChatHandler) send(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.RestSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.chat.Send(requestContext(c), userID, payload)
	if err != nil {
		return h.sendChatError(c, err, "failed to send message")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	senderID := strings.TrimSpace(c.Params("senderId"))
	if senderID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "sender id required")
	}

	updated, err := h.chat.MarkRead(requestContext(c), userID, senderID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to mark messages read")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to mark messages as read")
	}

	return utils.SendSuccess(c, "messages marked as read", fiber.Map{"updated": updated})
}

func (h *ChatHandler) presence(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))
	if userID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "user id required")
	}

	online, err := h.chat.Online(requestContext(c), userID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to check presence")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to check presence")
	}

	return utils.SendSuccess(c, "presence retrieved", fiber.Map{"userId": userID, "online": online})
}

func (h *ChatHandler) sendChatError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrSelfMessage), isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRecipientNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		if str, ok := value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}
