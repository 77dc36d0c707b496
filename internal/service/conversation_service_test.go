package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/internal/repository"
)

func TestConversationServiceListOrdersByRecency(t *testing.T) {
	now := time.Now().UTC()
	messages := &stubMessageRepo{
		rows: []repository.ConversationRow{
			{CounterpartID: "u2", UnreadCount: 1},
			{CounterpartID: "u3", UnreadCount: 0},
		},
		latest: map[string]models.ChatMessage{
			RoomKey("me", "u2"): {ID: 10, SenderID: "u2", ReceiverID: "me", Body: "hi back", SentAt: now.Add(-time.Hour)},
			RoomKey("me", "u3"): {ID: 11, SenderID: "me", ReceiverID: "u3", Body: "see you", SentAt: now},
		},
	}
	svc := NewConversationService(messages, directoryWith("u2", "u3"), zerolog.Nop())

	conversations, err := svc.List(context.Background(), "me")
	require.NoError(t, err)
	require.Len(t, conversations, 2)

	// Most recent activity first, regardless of who sent the last message.
	assert.Equal(t, "u3", conversations[0].Participant.ID)
	assert.Equal(t, "see you", conversations[0].LastMessage.Content)
	assert.Zero(t, conversations[0].UnreadCount)

	assert.Equal(t, "u2", conversations[1].Participant.ID)
	assert.Equal(t, "user-u2", conversations[1].Participant.Username)
	assert.Equal(t, "hi back", conversations[1].LastMessage.Content)
	assert.Equal(t, "u2", conversations[1].LastMessage.SenderID)
	assert.Equal(t, int64(1), conversations[1].UnreadCount)
}

func TestConversationServiceListKeepsDepartedCounterparts(t *testing.T) {
	now := time.Now().UTC()
	messages := &stubMessageRepo{
		rows: []repository.ConversationRow{
			{CounterpartID: "gone", UnreadCount: 2},
		},
		latest: map[string]models.ChatMessage{
			RoomKey("me", "gone"): {ID: 5, SenderID: "gone", ReceiverID: "me", Body: "bye", SentAt: now},
		},
	}
	svc := NewConversationService(messages, directoryWith(), zerolog.Nop())

	conversations, err := svc.List(context.Background(), "me")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "gone", conversations[0].Participant.ID)
	assert.Empty(t, conversations[0].Participant.Username)
	assert.Equal(t, int64(2), conversations[0].UnreadCount)
}

func TestConversationServiceListEmpty(t *testing.T) {
	svc := NewConversationService(&stubMessageRepo{}, directoryWith(), zerolog.Nop())

	conversations, err := svc.List(context.Background(), "me")
	require.NoError(t, err)
	assert.Empty(t, conversations)
}

func TestConversationServiceListSkipsRowsWithoutMessages(t *testing.T) {
	// A row whose messages were deleted between the grouping query and the
	// latest-message lookup is dropped rather than served half-empty.
	messages := &stubMessageRepo{
		rows: []repository.ConversationRow{
			{CounterpartID: "u2", UnreadCount: 1},
		},
		latest: map[string]models.ChatMessage{},
	}
	svc := NewConversationService(messages, directoryWith("u2"), zerolog.Nop())

	conversations, err := svc.List(context.Background(), "me")
	require.NoError(t, err)
	assert.Empty(t, conversations)
}
