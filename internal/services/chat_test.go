package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/platform/apierr"
	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/provider"
	"github.com/yungbote/chatrelay/internal/relay"
	"github.com/yungbote/chatrelay/internal/store/memstore"
	"github.com/yungbote/chatrelay/internal/tracing"
)

type chatFixture struct {
	svc   ChatService
	prov  *fakeProvider
	rec   *fakeRecorder
	store *memstore.Store
	bg    *Background
}

func newChatFixture(t *testing.T, prov *fakeProvider, drain bool) *chatFixture {
	t.Helper()
	f := &chatFixture{prov: prov, rec: &fakeRecorder{}, store: memstore.New(), bg: NewBackground(nil, 5*time.Second)}
	f.svc = NewChatService(logger.Nop(), prov, f.store, f.rec, f.bg, nil, ChatSettings{
		Model:             "gpt-3.5-turbo",
		Temperature:       0.7,
		DrainOnDisconnect: drain,
		ProviderTimeout:   5 * time.Second,
	})
	return f
}

var alice = &ctxutil.Identity{UserID: "u1", Email: "alice@example.com"}

func waitDone(t *testing.T, x *Exchange) {
	t.Helper()
	select {
	case <-x.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("side effects did not finish")
	}
}

func TestChatPersistsTranscriptAndTraces(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{chunks: []string{"Hel", "lo ", "there"}}, true)
	prior := userMessages("What is up?", "Not much.", "Say hello")

	x, err := f.svc.Begin(context.Background(), alice, ChatRequest{ID: "k1", Messages: prior, PreviewToken: " sk-preview "})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if x.ChatID != "k1" || x.GenerationID != "gen-1" {
		t.Fatalf("exchange ids: got chat=%q gen=%q", x.ChatID, x.GenerationID)
	}

	var out bytes.Buffer
	if err := x.Stream(context.Background(), &out); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	waitDone(t, x)

	if out.String() != "Hello there" {
		t.Fatalf("client stream: got %q", out.String())
	}
	if f.prov.last.APIKey != "sk-preview" {
		t.Fatalf("preview token not passed per request: %q", f.prov.last.APIKey)
	}
	if f.prov.last.Temperature != 0.7 || f.prov.last.Model != "gpt-3.5-turbo" {
		t.Fatalf("provider params: %+v", f.prov.last)
	}
	for _, m := range f.prov.last.Messages {
		if m.ID != "" {
			t.Fatalf("message ids must not reach the provider: %+v", m)
		}
	}

	conv, err := f.store.GetConversation(context.Background(), "chat:k1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv.Messages) != len(prior)+1 {
		t.Fatalf("message count: want=%d got=%d", len(prior)+1, len(conv.Messages))
	}
	for i, m := range prior {
		if conv.Messages[i] != m {
			t.Fatalf("prior message %d changed: want=%+v got=%+v", i, m, conv.Messages[i])
		}
	}
	last := conv.Messages[len(prior)]
	if last != (chat.Message{ID: x.GenerationID, Role: chat.RoleAssistant, Content: "Hello there"}) {
		t.Fatalf("assistant message must carry the generation id: got %+v", last)
	}
	if conv.Title != "What is up?" || conv.Path != "/chat/k1" || conv.UserID != "u1" {
		t.Fatalf("conversation fields: %+v", conv)
	}

	idx, err := f.store.ListUserIndex(context.Background(), "user:chat:u1", 0)
	if err != nil || len(idx) != 1 || idx[0].Member != "chat:k1" || idx[0].Score != conv.CreatedAt {
		t.Fatalf("user index: %+v err=%v", idx, err)
	}

	calls := f.rec.snapshot()
	if calls[0].trace.ExternalID != "chat:k1" || calls[0].trace.UserRef != "user:u1" || calls[0].trace.Metadata["userEmail"] != "alice@example.com" {
		t.Fatalf("trace input: %+v", calls[0].trace)
	}
	if calls[1].gen.Name != "chat" || calls[1].gen.Parameters["temperature"] != 0.7 {
		t.Fatalf("generation input: %+v", calls[1].gen)
	}

	ops := f.rec.ops()
	started, finish := indexOf(ops, "started"), indexOf(ops, "finish")
	saved, indexed, flushed := indexOf(ops, "event:kv-hmset"), indexOf(ops, "event:kv-zadd"), indexOf(ops, "flush")
	if started < 0 || finish < 0 || saved < 0 || indexed < 0 || flushed < 0 {
		t.Fatalf("missing trace ops: %v", ops)
	}
	if !(started < finish && started < saved && saved < indexed && indexed < flushed && finish < flushed) {
		t.Fatalf("trace op order: %v", ops)
	}
	for _, c := range calls {
		if strings.HasPrefix(c.op, "event:") && c.event.Level != tracing.LevelDebug {
			t.Fatalf("event level: %+v", c.event)
		}
		if c.op == "finish" && c.res.Output != "Hello there" {
			t.Fatalf("finish output: %q", c.res.Output)
		}
	}
}

func TestChatRejectsMissingIdentity(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{chunks: []string{"x"}}, true)
	_, err := f.svc.Begin(context.Background(), nil, ChatRequest{Messages: userMessages("hi")})
	if apierr.From(err).Status != http.StatusUnauthorized || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want 401, got %v", err)
	}
	if f.prov.callCount() != 0 || len(f.rec.snapshot()) != 0 {
		t.Fatalf("unauthorized request touched collaborators: provider=%d recorder=%v", f.prov.callCount(), f.rec.ops())
	}
}

func TestChatRejectsBadMessages(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{}, true)
	for _, msgs := range [][]chat.Message{nil, {{Role: "system", Content: "x"}}} {
		_, err := f.svc.Begin(context.Background(), alice, ChatRequest{Messages: msgs})
		if apierr.From(err).Status != http.StatusBadRequest || !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("want 400 for %+v, got %v", msgs, err)
		}
	}
	if f.prov.callCount() != 0 {
		t.Fatal("provider called for invalid request")
	}
}

func TestChatGeneratesConversationID(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{chunks: []string{"ok"}}, true)
	x, err := f.svc.Begin(context.Background(), alice, ChatRequest{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if x.ChatID == "" {
		t.Fatal("expected a generated chat id")
	}
	if err := x.Stream(context.Background(), &bytes.Buffer{}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	waitDone(t, x)
	if _, err := f.store.GetConversation(context.Background(), chat.StorageKey(x.ChatID)); err != nil {
		t.Fatalf("conversation not stored under generated id: %v", err)
	}
}

func TestChatFlushFailureDoesNotReachClient(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{chunks: []string{"a", "b"}}, true)
	f.rec.flushErr = errBoom

	x, err := f.svc.Begin(context.Background(), alice, ChatRequest{ID: "k2", Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var out bytes.Buffer
	if err := x.Stream(context.Background(), &out); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	waitDone(t, x)
	if out.String() != "ab" {
		t.Fatalf("client stream: %q", out.String())
	}
	if _, err := f.store.GetConversation(context.Background(), "chat:k2"); err != nil {
		t.Fatalf("store write skipped: %v", err)
	}
}

func TestChatProviderRejection(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{openErr: errBoom}, true)
	_, err := f.svc.Begin(context.Background(), alice, ChatRequest{ID: "k3", Messages: userMessages("hi")})
	if apierr.From(err).Status != http.StatusBadGateway || !errors.Is(err, errBoom) {
		t.Fatalf("want 502 wrapping provider error, got %v", err)
	}
	if _, err := f.store.GetConversation(context.Background(), "chat:k3"); err == nil {
		t.Fatal("conversation stored after provider failure")
	}
}

func TestChatMidStreamFailureSkipsSideEffects(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{chunks: []string{"par", "tial"}, failAt: errBoom}, true)
	x, err := f.svc.Begin(context.Background(), alice, ChatRequest{ID: "k4", Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var out bytes.Buffer
	if err := x.Stream(context.Background(), &out); !errors.Is(err, errBoom) {
		t.Fatalf("Stream: want upstream error, got %v", err)
	}
	waitDone(t, x)
	if out.String() != "partial" {
		t.Fatalf("partial bytes: %q", out.String())
	}
	if _, err := f.store.GetConversation(context.Background(), "chat:k4"); err == nil {
		t.Fatal("conversation stored after failed stream")
	}
	ops := f.rec.ops()
	if indexOf(ops, "finish") >= 0 || indexOf(ops, "flush") >= 0 {
		t.Fatalf("generation finished after failure: %v", ops)
	}
}

func TestChatSaveFailureRecordsErrorEvent(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{chunks: []string{"x"}}, true)
	f.store.FailSave = errBoom

	x, err := f.svc.Begin(context.Background(), alice, ChatRequest{ID: "k5", Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := x.Stream(context.Background(), &bytes.Buffer{}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	waitDone(t, x)

	var saveEvent *recordedCall
	for _, c := range f.rec.snapshot() {
		c := c
		if c.op == "event:kv-hmset" {
			saveEvent = &c
		}
		if c.op == "event:kv-zadd" {
			t.Fatal("index appended for an unsaved conversation")
		}
	}
	if saveEvent == nil || saveEvent.event.Level != tracing.LevelError || saveEvent.event.StatusMessage != "boom" {
		t.Fatalf("save failure event: %+v", saveEvent)
	}
	if indexOf(f.rec.ops(), "flush") < 0 {
		t.Fatal("flush skipped after save failure")
	}
}

type brokenWriter struct{ n int }

func (w *brokenWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, errBoom
	}
	w.n--
	return len(p), nil
}

func TestChatDrainsAfterClientDisconnect(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{chunks: []string{"one ", "two ", "three"}}, true)
	x, err := f.svc.Begin(context.Background(), alice, ChatRequest{ID: "k6", Messages: userMessages("count")})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := x.Stream(context.Background(), &brokenWriter{n: 1}); err != nil {
		t.Fatalf("Stream with drain: %v", err)
	}
	waitDone(t, x)
	conv, err := f.store.GetConversation(context.Background(), "chat:k6")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got := conv.Messages[len(conv.Messages)-1].Content; got != "one two three" {
		t.Fatalf("drained text: %q", got)
	}
}

func TestChatWithoutDrainAbandonsOnDisconnect(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{chunks: []string{"one ", "two "}}, false)
	x, err := f.svc.Begin(context.Background(), alice, ChatRequest{ID: "k7", Messages: userMessages("count")})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := x.Stream(context.Background(), &brokenWriter{}); !errors.Is(err, relay.ErrClientGone) {
		t.Fatalf("Stream: want ErrClientGone, got %v", err)
	}
	waitDone(t, x)
	if _, err := f.store.GetConversation(context.Background(), "chat:k7"); err == nil {
		t.Fatal("conversation stored without drain")
	}
}

func TestChatUpstreamRunsDetachedWhenDraining(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{chunks: []string{"x"}}, true)
	ctx, cancel := context.WithCancel(context.Background())
	x, err := f.svc.Begin(ctx, alice, ChatRequest{ID: "k8", Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	cancel()
	if f.prov.lastCtx.Err() != nil {
		t.Fatal("upstream context canceled with the client")
	}
	_ = x.Stream(ctx, &bytes.Buffer{})
	waitDone(t, x)
}

func TestChatUsesReportedUsage(t *testing.T) {
	f := newChatFixture(t, &fakeProvider{chunks: []string{"abc"}, usage: &provider.Usage{PromptTokens: 11, CompletionTokens: 3}}, true)
	x, err := f.svc.Begin(context.Background(), alice, ChatRequest{ID: "k9", Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := x.Stream(context.Background(), &bytes.Buffer{}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	waitDone(t, x)
	for _, c := range f.rec.snapshot() {
		if c.op == "finish" && (c.res.Usage.PromptTokens != 11 || c.res.Usage.CompletionTokens != 3) {
			t.Fatalf("usage: %+v", c.res.Usage)
		}
	}
}
