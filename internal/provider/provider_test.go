package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/chatrelay/internal/domain/chat"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("  "))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 3, EstimatePromptTokens([]chat.Message{{Content: "abcd"}, {Content: "abcdefgh"}}))
}

func TestSliceStreamGraceful(t *testing.T) {
	s := NewSliceStream(context.Background(), []string{"a", "b"}, nil).WithUsage(Usage{PromptTokens: 3, CompletionTokens: 2})

	var got []string
	for s.Next() {
		got = append(got, s.Chunk())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"a", "b"}, got)

	u, ok := s.Usage()
	assert.True(t, ok)
	assert.Equal(t, 2, u.CompletionTokens)
	assert.False(t, s.Next())
}

func TestSliceStreamFailure(t *testing.T) {
	boom := errors.New("boom")
	s := NewSliceStream(context.Background(), []string{"a"}, boom).WithUsage(Usage{})
	for s.Next() {
	}
	assert.ErrorIs(t, s.Err(), boom)
	_, ok := s.Usage()
	assert.False(t, ok)
}

func TestSliceStreamHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSliceStream(ctx, []string{"a", "b"}, nil).WithDelay(time.Hour)
	cancel()
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), context.Canceled)
}
