package sqlstore

import (
	"time"

	"gorm.io/datatypes"
)

type ConversationRecord struct {
	StorageKey  string         `gorm:"column:storage_key;primaryKey"`
	ChatID      string         `gorm:"column:chat_id;not null"`
	Title       string         `gorm:"column:title"`
	UserID      string         `gorm:"column:user_id;index"`
	CreatedAtMs int64          `gorm:"column:created_at_ms"`
	Path        string         `gorm:"column:path"`
	Messages    datatypes.JSON `gorm:"column:messages"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
}

func (ConversationRecord) TableName() string { return "chat_conversations" }

type UserIndexRecord struct {
	UserKey string `gorm:"column:user_key;primaryKey"`
	Member  string `gorm:"column:member;primaryKey"`
	Score   int64  `gorm:"column:score;index"`
}

func (UserIndexRecord) TableName() string { return "chat_user_index" }
