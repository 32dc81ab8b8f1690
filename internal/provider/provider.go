package provider

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/yungbote/chatrelay/internal/domain/chat"
)

var ErrNoMessages = errors.New("provider: no messages")

// Request is one streaming completion call. APIKey overrides the configured credential for this
// call only; it never mutates shared client state.
type Request struct {
	Model       string
	Messages    []chat.Message
	Temperature float64
	APIKey      string
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChunkStream yields completion text incrementally, in upstream order.
//
// Next blocks until a chunk is available or the stream ends; after it returns false, Err
// distinguishes a graceful close (nil) from a failure. Usage is only meaningful after Next
// has returned false.
type ChunkStream interface {
	Next() bool
	Chunk() string
	Err() error
	Usage() (Usage, bool)
	Close() error
}

// Provider starts streaming completions. Implementations must be safe for concurrent use.
type Provider interface {
	Stream(ctx context.Context, req Request) (ChunkStream, error)
}

// EstimateTokens is a rough size proxy used when the upstream reports no usage.
func EstimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len([]rune(text))) / 4.0))
}

// EstimatePromptTokens sums EstimateTokens over a message list.
func EstimatePromptTokens(msgs []chat.Message) int {
	n := 0
	for _, m := range msgs {
		n += EstimateTokens(m.Content)
	}
	return n
}
