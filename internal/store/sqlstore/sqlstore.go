// Package sqlstore persists transcripts through gorm on Postgres or SQLite.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/store"
)

type Config struct {
	// Driver is "postgres" or "sqlite".
	Driver string
	DSN    string
	// Quiet silences gorm's own logger.
	Quiet bool
}

type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ store.Store = (*Store)(nil)

func Open(logg *logger.Logger, cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("missing POSTGRES_DSN")
		}
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("missing SQLITE_PATH")
		}
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("sqlstore: unknown driver %q", cfg.Driver)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	if cfg.Quiet {
		gormLog = gormLogger.Default.LogMode(gormLogger.Silent)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	return New(logg, db)
}

// New migrates the transcript tables on an existing connection.
func New(log *logger.Logger, db *gorm.DB) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := db.AutoMigrate(&ConversationRecord{}, &UserIndexRecord{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db, log: log.With("service", "SQLTranscriptStore")}, nil
}

func (s *Store) SaveConversation(ctx context.Context, key string, c *chat.Conversation) error {
	if c == nil {
		return errors.New("sqlstore: nil conversation")
	}
	msgs, err := json.Marshal(c.Messages)
	if err != nil {
		return fmt.Errorf("sqlstore: encode messages: %w", err)
	}
	rec := ConversationRecord{
		StorageKey:  key,
		ChatID:      c.ID,
		Title:       c.Title,
		UserID:      c.UserID,
		CreatedAtMs: c.CreatedAt,
		Path:        c.Path,
		Messages:    datatypes.JSON(msgs),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "storage_key"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("sqlstore: save %s: %w", key, err)
	}
	return nil
}

func (s *Store) AppendToUserIndex(ctx context.Context, userKey string, entry chat.IndexEntry) error {
	rec := UserIndexRecord{UserKey: userKey, Member: entry.Member, Score: entry.Score}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_key"}, {Name: "member"}},
			DoUpdates: clause.AssignmentColumns([]string{"score"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("sqlstore: index %s: %w", userKey, err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, key string) (*chat.Conversation, error) {
	var rec ConversationRecord
	err := s.db.WithContext(ctx).Where("storage_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get %s: %w", key, err)
	}
	c := &chat.Conversation{
		ID:        rec.ChatID,
		Title:     rec.Title,
		UserID:    rec.UserID,
		CreatedAt: rec.CreatedAtMs,
		Path:      rec.Path,
	}
	if len(rec.Messages) > 0 {
		if err := json.Unmarshal(rec.Messages, &c.Messages); err != nil {
			return nil, fmt.Errorf("sqlstore: bad messages on %s: %w", key, err)
		}
	}
	return c, nil
}

func (s *Store) ListUserIndex(ctx context.Context, userKey string, limit int) ([]chat.IndexEntry, error) {
	q := s.db.WithContext(ctx).Where("user_key = ?", userKey).Order("score DESC").Order("member DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []UserIndexRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list %s: %w", userKey, err)
	}
	out := make([]chat.IndexEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, chat.IndexEntry{Score: r.Score, Member: r.Member})
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
