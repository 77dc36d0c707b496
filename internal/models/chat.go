package models

import "time"

// ChatMessage is one direct message between two users. Rows are append-only:
// after creation only IsRead ever changes.
type ChatMessage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SenderID   string    `gorm:"size:64;not null;index:idx_chat_messages_pair,priority:1" json:"senderId"`
	ReceiverID string    `gorm:"size:64;not null;index:idx_chat_messages_pair,priority:2;index:idx_chat_messages_unread,priority:1" json:"receiverId"`
	Body       string    `gorm:"type:text;not null" json:"message"`
	IsRead     bool      `gorm:"not null;default:false;index:idx_chat_messages_unread,priority:2" json:"isRead"`
	SentAt     time.Time `gorm:"autoCreateTime;index:idx_chat_messages_pair,priority:3" json:"sentAt"`
}
