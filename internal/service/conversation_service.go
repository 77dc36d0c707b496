package service

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/mentorlink/mentorlink-api/internal/dto"
	"github.com/mentorlink/mentorlink-api/internal/repository"
)

// ConversationService builds the conversation-list read model: one entry per
// counterpart the user has ever exchanged a message with, newest first.
type ConversationService interface {
	List(ctx context.Context, userID string) ([]dto.ConversationResponse, error)
}

type conversationService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewConversationService constructs the conversation aggregator.
func NewConversationService(messages repository.MessageRepository, users repository.UserRepository, logger zerolog.Logger) ConversationService {
	return &conversationService{
		messages: messages,
		users:    users,
		logger:   logger.With().Str("component", "conversation_service").Logger(),
		tracer:   otel.Tracer("github.com/mentorlink/mentorlink-api/internal/service/conversation"),
	}
}

func (s *conversationService) List(ctx context.Context, userID string) ([]dto.ConversationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "conversations.list", trace.WithAttributes(
		attribute.String("chat.user_id", userID),
	))
	defer span.End()

	rows, err := s.messages.Conversations(spanCtx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.CounterpartID)
	}

	users, err := s.users.FindByIDs(spanCtx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	summaries := make(map[string]dto.UserSummary, len(users))
	for _, user := range users {
		summaries[user.ID] = dto.NewUserSummary(user)
	}

	conversations := make([]dto.ConversationResponse, 0, len(rows))
	for _, row := range rows {
		last, err := s.messages.LatestBetween(spanCtx, userID, row.CounterpartID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			span.RecordError(err)
			return nil, err
		}

		participant, ok := summaries[row.CounterpartID]
		if !ok {
			// Counterpart left the directory; keep the conversation with a
			// bare identity so history stays reachable.
			participant = dto.UserSummary{ID: row.CounterpartID}
		}

		conversations = append(conversations, dto.ConversationResponse{
			Participant: participant,
			LastMessage: dto.LastMessageSummary{
				ID:       last.ID,
				Content:  last.Body,
				SenderID: last.SenderID,
				SentAt:   last.SentAt,
			},
			UnreadCount: row.UnreadCount,
		})
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastMessage.SentAt.After(conversations[j].LastMessage.SentAt)
	})

	return conversations, nil
}
