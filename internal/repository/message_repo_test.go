package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

func TestMessageRepositorySaveAndListBetween(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	first := models.ChatMessage{SenderID: "u1", ReceiverID: "u2", Body: "hello", SentAt: base}
	second := models.ChatMessage{SenderID: "u2", ReceiverID: "u1", Body: "hi back", SentAt: base.Add(time.Minute)}
	unrelated := models.ChatMessage{SenderID: "u3", ReceiverID: "u4", Body: "other pair", SentAt: base.Add(2 * time.Minute)}

	require.NoError(t, repo.Save(ctx, &first))
	require.NoError(t, repo.Save(ctx, &second))
	require.NoError(t, repo.Save(ctx, &unrelated))
	require.NotZero(t, first.ID)
	require.False(t, first.IsRead)

	messages, err := repo.ListBetween(ctx, "u1", "u2", 50)
	require.NoError(t, err)
	require.Len(t, messages, 2, "messages from other pairs must not leak in")
	require.Equal(t, "hello", messages[0].Body, "history must be oldest-first")
	require.Equal(t, "hi back", messages[1].Body)

	// Symmetric: either participant sees the same history.
	mirrored, err := repo.ListBetween(ctx, "u2", "u1", 50)
	require.NoError(t, err)
	require.Len(t, mirrored, 2)
	require.Equal(t, messages[0].ID, mirrored[0].ID)
}

func TestMessageRepositoryListBetweenLimitKeepsNewest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < 5; i++ {
		message := models.ChatMessage{
			SenderID:   "u1",
			ReceiverID: "u2",
			Body:       fmt.Sprintf("message %d", i),
			SentAt:     base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Save(ctx, &message))
	}

	messages, err := repo.ListBetween(ctx, "u1", "u2", 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "message 2", messages[0].Body, "limit must keep the newest window")
	require.Equal(t, "message 4", messages[2].Body)
}

func TestMessageRepositoryMarkConversationReadIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		message := models.ChatMessage{SenderID: "u2", ReceiverID: "u1", Body: "ping"}
		require.NoError(t, repo.Save(ctx, &message))
	}
	outbound := models.ChatMessage{SenderID: "u1", ReceiverID: "u2", Body: "pong"}
	require.NoError(t, repo.Save(ctx, &outbound))

	unread, err := repo.CountUnread(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Equal(t, int64(3), unread)

	updated, err := repo.MarkConversationRead(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Equal(t, int64(3), updated)

	unread, err = repo.CountUnread(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Zero(t, unread)

	// Re-applying updates nothing.
	updated, err = repo.MarkConversationRead(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Zero(t, updated)

	// The other direction is untouched.
	unread, err = repo.CountUnread(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), unread)
}

func TestMessageRepositoryConversationsGroupsByCounterpart(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	seed := []models.ChatMessage{
		{SenderID: "me", ReceiverID: "x", Body: "to x", SentAt: base},
		{SenderID: "x", ReceiverID: "me", Body: "from x", SentAt: base.Add(time.Minute)},
		{SenderID: "y", ReceiverID: "me", Body: "from y", SentAt: base.Add(2 * time.Minute)},
		{SenderID: "y", ReceiverID: "me", Body: "from y again", SentAt: base.Add(3 * time.Minute)},
	}
	for i := range seed {
		require.NoError(t, repo.Save(ctx, &seed[i]))
	}

	rows, err := repo.Conversations(ctx, "me")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byCounterpart := make(map[string]int64, len(rows))
	for _, row := range rows {
		byCounterpart[row.CounterpartID] = row.UnreadCount
	}
	require.Equal(t, int64(1), byCounterpart["x"])
	require.Equal(t, int64(2), byCounterpart["y"])

	// A user with no messages has no conversations.
	rows, err = repo.Conversations(ctx, "stranger")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestMessageRepositoryLatestBetween(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	older := models.ChatMessage{SenderID: "u1", ReceiverID: "u2", Body: "hello", SentAt: base}
	newer := models.ChatMessage{SenderID: "u2", ReceiverID: "u1", Body: "hi back", SentAt: base.Add(time.Minute)}
	require.NoError(t, repo.Save(ctx, &older))
	require.NoError(t, repo.Save(ctx, &newer))

	last, err := repo.LatestBetween(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Equal(t, "hi back", last.Body)

	_, err = repo.LatestBetween(ctx, "u1", "nobody")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.ChatMessage{}))
	return db
}
