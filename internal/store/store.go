// Package store defines the Transcript Store: full-replace conversation records plus a per-user
// index ordered by creation time.
package store

import (
	"context"
	"errors"

	"github.com/yungbote/chatrelay/internal/domain/chat"
)

var ErrNotFound = errors.New("store: not found")

type Store interface {
	// SaveConversation replaces whatever is stored under key with c.
	SaveConversation(ctx context.Context, key string, c *chat.Conversation) error
	// AppendToUserIndex inserts member with score, or updates the score of an existing member.
	AppendToUserIndex(ctx context.Context, userKey string, entry chat.IndexEntry) error
	GetConversation(ctx context.Context, key string) (*chat.Conversation, error)
	// ListUserIndex returns up to limit entries, highest score first. limit <= 0 means all.
	ListUserIndex(ctx context.Context, userKey string, limit int) ([]chat.IndexEntry, error)
	Ping(ctx context.Context) error
	Close() error
}
