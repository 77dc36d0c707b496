package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

// ConversationRow is one row of the conversation grouping: a counterpart and
// how many of their messages the user has not read yet. The last message is
// fetched separately so ordering uses real timestamps, not dialect-dependent
// aggregate scans.
type ConversationRow struct {
	CounterpartID string `gorm:"column:counterpart_id"`
	UnreadCount   int64  `gorm:"column:unread_count"`
}

// MessageRepository is the durable store for chat messages. Either participant
// can appear on either side of a row, so pair queries are symmetric.
type MessageRepository interface {
	Save(ctx context.Context, message *models.ChatMessage) error
	ListBetween(ctx context.Context, userA, userB string, limit int) ([]models.ChatMessage, error)
	LatestBetween(ctx context.Context, userA, userB string) (models.ChatMessage, error)
	MarkConversationRead(ctx context.Context, senderID, receiverID string) (int64, error)
	CountUnread(ctx context.Context, receiverID, senderID string) (int64, error)
	Conversations(ctx context.Context, userID string) ([]ConversationRow, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Save(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) ListBetween(ctx context.Context, userA, userB string, limit int) ([]models.ChatMessage, error) {
	query := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order("sent_at DESC")
	// limit <= 0 means the full history, as served by the REST surface.
	if limit > 0 {
		query = query.Limit(limit)
	}

	var messages []models.ChatMessage
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) LatestBetween(ctx context.Context, userA, userB string) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order("sent_at DESC").
		First(&message).Error
	if err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

// MarkConversationRead flips every unread message from senderID to receiverID
// to read and returns how many rows changed. Re-running it is a no-op, which
// keeps concurrent acknowledgements from racing each other.
func (r *messageRepository) MarkConversationRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

// CountUnread counts unread messages addressed to receiverID. An empty
// senderID counts across all counterparts.
func (r *messageRepository) CountUnread(ctx context.Context, receiverID, senderID string) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false)
	if senderID != "" {
		query = query.Where("sender_id = ?", senderID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *messageRepository) Conversations(ctx context.Context, userID string) ([]ConversationRow, error) {
	var rows []ConversationRow
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS counterpart_id,
			SUM(CASE WHEN receiver_id = ? AND is_read = ? THEN 1 ELSE 0 END) AS unread_count
		FROM chat_messages
		WHERE sender_id = ? OR receiver_id = ?
		GROUP BY counterpart_id`,
		userID, userID, false, userID, userID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
