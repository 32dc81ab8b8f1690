package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/platform/apierr"
	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/store"
)

// ConversationSummary is one row of a user's chat list.
type ConversationSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
	Path      string `json:"path"`
}

type ConversationService interface {
	List(ctx context.Context, id *ctxutil.Identity, limit int) ([]ConversationSummary, error)
	Get(ctx context.Context, id *ctxutil.Identity, chatID string) (*chat.Conversation, error)
}

type conversationService struct {
	log   *logger.Logger
	store store.Store
}

func NewConversationService(log *logger.Logger, st store.Store) ConversationService {
	return &conversationService{log: log.With("service", "ConversationService"), store: st}
}

// List walks the user index newest first. Index members whose record is gone are skipped.
func (s *conversationService) List(ctx context.Context, id *ctxutil.Identity, limit int) ([]ConversationSummary, error) {
	if id == nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
	}
	entries, err := s.store.ListUserIndex(ctx, chat.UserIndexKey(id.UserID), limit)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(entries))
	for _, e := range entries {
		conv, err := s.store.GetConversation(ctx, e.Member)
		if errors.Is(err, store.ErrNotFound) {
			s.log.Debug("index member without record", "member", e.Member)
			continue
		}
		if err != nil {
			return nil, err
		}
		if conv.UserID != id.UserID {
			continue
		}
		out = append(out, ConversationSummary{ID: conv.ID, Title: conv.Title, CreatedAt: conv.CreatedAt, Path: conv.Path})
	}
	return out, nil
}

func (s *conversationService) Get(ctx context.Context, id *ctxutil.Identity, chatID string) (*chat.Conversation, error) {
	if id == nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, apierr.NotFound("chat_not_found", store.ErrNotFound)
	}
	conv, err := s.store.GetConversation(ctx, chat.StorageKey(chatID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierr.NotFound("chat_not_found", err)
	}
	if err != nil {
		return nil, err
	}
	if conv.UserID != id.UserID {
		return nil, apierr.NotFound("chat_not_found", store.ErrNotFound)
	}
	return conv, nil
}
