package mock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/provider"
)

// Provider echoes the last user message back in fixed-size chunks. It needs no network and is
// the default for local runs.
type Provider struct {
	ChunkSize int
	Delay     time.Duration
}

func New() *Provider {
	return &Provider{ChunkSize: 16}
}

func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.ChunkStream, error) {
	if len(req.Messages) == 0 {
		return nil, provider.ErrNoMessages
	}
	full := reply(req.Messages)

	size := p.ChunkSize
	if size <= 0 {
		size = 16
	}
	var chunks []string
	for i := 0; i < len(full); i += size {
		end := i + size
		if end > len(full) {
			end = len(full)
		}
		chunks = append(chunks, full[i:end])
	}

	usage := provider.Usage{
		PromptTokens:     provider.EstimatePromptTokens(req.Messages),
		CompletionTokens: provider.EstimateTokens(full),
	}
	return provider.NewSliceStream(ctx, chunks, nil).WithDelay(p.Delay).WithUsage(usage), nil
}

func reply(msgs []chat.Message) string {
	var user string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleUser {
			user = msgs[i].Content
			break
		}
	}
	if strings.TrimSpace(user) == "" {
		return "mock: ok"
	}
	return fmt.Sprintf("mock: %s", user)
}
