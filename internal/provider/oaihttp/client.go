package oaihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/chatrelay/internal/provider"
)

type Config struct {
	BaseURL             string
	APIKey              string
	ChatCompletionsPath string
	// StreamTimeout bounds a whole streaming call. Zero relies on caller cancellation.
	StreamTimeout time.Duration
}

// Provider talks to any OpenAI-compatible chat completions endpoint (vLLM, SGLang, proxies)
// over plain HTTP + SSE.
type Provider struct {
	baseURL             string
	apiKey              string
	chatCompletionsPath string
	streamTimeout       time.Duration
	httpClient          *http.Client
}

func New(cfg Config) (*Provider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("oai_http: base_url required")
	}
	chatPath := strings.TrimSpace(cfg.ChatCompletionsPath)
	if chatPath == "" {
		chatPath = "/v1/chat/completions"
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Provider{
		baseURL:             baseURL,
		apiKey:              strings.TrimSpace(cfg.APIKey),
		chatCompletionsPath: chatPath,
		streamTimeout:       cfg.StreamTimeout,
		httpClient:          &http.Client{Transport: tr},
	}, nil
}

// NewWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewWithHTTPClient(cfg Config, httpClient *http.Client) (*Provider, error) {
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		p.httpClient = httpClient
	}
	return p, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   float64        `json:"temperature"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type chatCompletionStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error any `json:"error,omitempty"`
}

func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.ChunkStream, error) {
	if len(req.Messages) == 0 {
		return nil, provider.ErrNoMessages
	}
	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(chatCompletionRequest{
		Model:         req.Model,
		Messages:      msgs,
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}); err != nil {
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	if p.streamTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.streamTimeout)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.chatCompletionsPath, &buf)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	key := p.apiKey
	if k := strings.TrimSpace(req.APIKey); k != "" {
		key = k
	}
	if key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		cancel()
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	return &sseStream{body: resp.Body, dec: newSSEDecoder(resp.Body), cancel: cancel}, nil
}

type sseStream struct {
	body   io.ReadCloser
	dec    *sseDecoder
	cancel context.CancelFunc

	pending []string
	cur     string
	usage   *provider.Usage
	err     error
	done    bool
}

func (s *sseStream) Next() bool {
	for {
		if len(s.pending) > 0 {
			s.cur = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if s.done {
			return false
		}
		_, data, err := s.dec.next()
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			return false
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.done = true
			continue
		}

		var chunk chatCompletionStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			b, _ := json.Marshal(chunk.Error)
			s.done = true
			s.err = &StreamError{Payload: string(b)}
			return false
		}
		if chunk.Usage != nil {
			s.usage = &provider.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
			}
		}
		for _, c := range chunk.Choices {
			delta := c.Delta.Content
			if delta == "" {
				delta = c.Text
			}
			if delta != "" {
				s.pending = append(s.pending, delta)
			}
		}
	}
}

func (s *sseStream) Chunk() string { return s.cur }

func (s *sseStream) Err() error { return s.err }

func (s *sseStream) Usage() (provider.Usage, bool) {
	if s.usage == nil || !s.done || s.err != nil {
		return provider.Usage{}, false
	}
	return *s.usage, true
}

func (s *sseStream) Close() error {
	defer s.cancel()
	return s.body.Close()
}
