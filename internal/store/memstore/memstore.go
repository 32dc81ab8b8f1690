// Package memstore is an in-process Transcript Store for local runs and tests.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	records map[string][]byte
	indexes map[string]map[string]int64

	// FailSave and FailIndex, when set, are returned by the matching write.
	FailSave  error
	FailIndex error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		records: map[string][]byte{},
		indexes: map[string]map[string]int64{},
	}
}

// SaveConversation stores an encoded copy so later caller mutations do not leak in.
func (s *Store) SaveConversation(_ context.Context, key string, c *chat.Conversation) error {
	if s.FailSave != nil {
		return s.FailSave
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[key] = raw
	s.mu.Unlock()
	return nil
}

func (s *Store) AppendToUserIndex(_ context.Context, userKey string, entry chat.IndexEntry) error {
	if s.FailIndex != nil {
		return s.FailIndex
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[userKey]
	if !ok {
		idx = map[string]int64{}
		s.indexes[userKey] = idx
	}
	idx[entry.Member] = entry.Score
	return nil
}

func (s *Store) GetConversation(_ context.Context, key string) (*chat.Conversation, error) {
	s.mu.RLock()
	raw, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	var c chat.Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListUserIndex(_ context.Context, userKey string, limit int) ([]chat.IndexEntry, error) {
	s.mu.RLock()
	out := make([]chat.IndexEntry, 0, len(s.indexes[userKey]))
	for member, score := range s.indexes[userKey] {
		out = append(out, chat.IndexEntry{Score: score, Member: member})
	}
	s.mu.RUnlock()

	// Sorted-set order reversed: score desc, then member desc.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Member > out[j].Member
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }
