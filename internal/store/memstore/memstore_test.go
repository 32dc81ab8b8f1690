package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/store"
)

func TestRoundTripAndIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := chat.NewConversation("a", "u", []chat.Message{{Role: chat.RoleUser, Content: "q"}}, chat.Message{Content: "r"}, time.UnixMilli(5))
	require.NoError(t, s.SaveConversation(ctx, "chat:a", c))

	c.Messages[0].Content = "mutated"
	got, err := s.GetConversation(ctx, "chat:a")
	require.NoError(t, err)
	assert.Equal(t, "q", got.Messages[0].Content)

	_, err = s.GetConversation(ctx, "chat:b")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIndexOrderingAndFailures(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.AppendToUserIndex(ctx, "user:chat:u", chat.IndexEntry{Score: 1, Member: "chat:a"}))
	require.NoError(t, s.AppendToUserIndex(ctx, "user:chat:u", chat.IndexEntry{Score: 2, Member: "chat:b"}))
	require.NoError(t, s.AppendToUserIndex(ctx, "user:chat:u", chat.IndexEntry{Score: 3, Member: "chat:a"}))

	got, err := s.ListUserIndex(ctx, "user:chat:u", 0)
	require.NoError(t, err)
	assert.Equal(t, []chat.IndexEntry{{Score: 3, Member: "chat:a"}, {Score: 2, Member: "chat:b"}}, got)

	s.FailIndex = errors.New("down")
	assert.Error(t, s.AppendToUserIndex(ctx, "user:chat:u", chat.IndexEntry{}))
}
