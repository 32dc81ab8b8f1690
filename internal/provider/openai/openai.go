package openai

import (
	"context"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/provider"
)

type Config struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	// HTTPClient replaces the SDK transport; tests use it to avoid the network.
	HTTPClient *http.Client
}

// Provider streams chat completions through the official OpenAI SDK. A preview token travels as a
// per-call request option, so concurrent requests never share a mutable credential.
type Provider struct {
	client sdk.Client
}

func New(cfg Config) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Provider{client: sdk.NewClient(opts...)}
}

func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.ChunkStream, error) {
	if len(req.Messages) == 0 {
		return nil, provider.ErrNoMessages
	}
	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(req.Model),
		Messages:    toParams(req.Messages),
		Temperature: sdk.Float(req.Temperature),
		StreamOptions: sdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: sdk.Bool(true),
		},
	}
	var callOpts []option.RequestOption
	if key := strings.TrimSpace(req.APIKey); key != "" {
		callOpts = append(callOpts, option.WithAPIKey(key))
	}
	return &chunkStream{s: p.client.Chat.Completions.NewStreaming(ctx, params, callOpts...)}, nil
}

func toParams(msgs []chat.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case chat.RoleAssistant:
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

type chunkStream struct {
	s *ssestream.Stream[sdk.ChatCompletionChunk]

	pending []string
	cur     string
	usage   *provider.Usage
	done    bool
}

func (c *chunkStream) Next() bool {
	for {
		if len(c.pending) > 0 {
			c.cur = c.pending[0]
			c.pending = c.pending[1:]
			return true
		}
		if c.done {
			return false
		}
		if !c.s.Next() {
			c.done = true
			return false
		}
		chunk := c.s.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			c.usage = &provider.Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				c.pending = append(c.pending, choice.Delta.Content)
			}
		}
	}
}

func (c *chunkStream) Chunk() string { return c.cur }

func (c *chunkStream) Err() error { return c.s.Err() }

func (c *chunkStream) Usage() (provider.Usage, bool) {
	if c.usage == nil || !c.done || c.s.Err() != nil {
		return provider.Usage{}, false
	}
	return *c.usage, true
}

func (c *chunkStream) Close() error { return c.s.Close() }
