// Package redisstore keeps conversations as Redis hashes and each user's index as a sorted set.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/store"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Store struct {
	log *logger.Logger
	rdb goredis.UniversalClient
}

var _ store.Store = (*Store)(nil)

// New dials Redis and verifies the connection.
func New(ctx context.Context, log *logger.Logger, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(log, rdb), nil
}

func NewWithClient(log *logger.Logger, rdb goredis.UniversalClient) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{log: log.With("service", "RedisTranscriptStore"), rdb: rdb}
}

// SaveConversation deletes and rewrites the hash in one MULTI so stale fields never survive.
func (s *Store) SaveConversation(ctx context.Context, key string, c *chat.Conversation) error {
	if c == nil {
		return errors.New("redisstore: nil conversation")
	}
	msgs, err := json.Marshal(c.Messages)
	if err != nil {
		return fmt.Errorf("redisstore: encode messages: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, map[string]any{
			"id":        c.ID,
			"title":     c.Title,
			"userId":    c.UserID,
			"createdAt": c.CreatedAt,
			"path":      c.Path,
			"messages":  string(msgs),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: save %s: %w", key, err)
	}
	return nil
}

func (s *Store) AppendToUserIndex(ctx context.Context, userKey string, entry chat.IndexEntry) error {
	err := s.rdb.ZAdd(ctx, userKey, goredis.Z{Score: float64(entry.Score), Member: entry.Member}).Err()
	if err != nil {
		return fmt.Errorf("redisstore: zadd %s: %w", userKey, err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, key string) (*chat.Conversation, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	c := &chat.Conversation{
		ID:     fields["id"],
		Title:  fields["title"],
		UserID: fields["userId"],
		Path:   fields["path"],
	}
	if v := fields["createdAt"]; v != "" {
		if c.CreatedAt, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("redisstore: bad createdAt on %s: %w", key, err)
		}
	}
	if v := fields["messages"]; v != "" {
		if err := json.Unmarshal([]byte(v), &c.Messages); err != nil {
			return nil, fmt.Errorf("redisstore: bad messages on %s: %w", key, err)
		}
	}
	return c, nil
}

func (s *Store) ListUserIndex(ctx context.Context, userKey string, limit int) ([]chat.IndexEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, userKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: zrevrange %s: %w", userKey, err)
	}
	out := make([]chat.IndexEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, chat.IndexEntry{Score: int64(z.Score), Member: member})
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
