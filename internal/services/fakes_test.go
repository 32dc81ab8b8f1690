package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/chatrelay/internal/domain/chat"
	"github.com/yungbote/chatrelay/internal/provider"
	"github.com/yungbote/chatrelay/internal/tracing"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	last    provider.Request
	lastCtx context.Context
	chunks  []string
	failAt  error
	openErr error
	delay   time.Duration
	usage   *provider.Usage
}

func (p *fakeProvider) Stream(ctx context.Context, req provider.Request) (provider.ChunkStream, error) {
	p.mu.Lock()
	p.calls++
	p.last = req
	p.lastCtx = ctx
	p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	s := provider.NewSliceStream(ctx, p.chunks, p.failAt).WithDelay(p.delay)
	if p.usage != nil {
		s = s.WithUsage(*p.usage)
	}
	return s, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordedCall struct {
	op    string
	trace tracing.TraceInput
	gen   tracing.GenerationInput
	res   tracing.GenerationResult
	event tracing.Event
	score tracing.Score
}

type fakeRecorder struct {
	mu       sync.Mutex
	calls    []recordedCall
	flushErr error
	scoreErr error
}

func (r *fakeRecorder) add(c recordedCall) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *fakeRecorder) snapshot() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

func (r *fakeRecorder) ops() []string {
	var out []string
	for _, c := range r.snapshot() {
		out = append(out, c.op)
	}
	return out
}

func (r *fakeRecorder) StartTrace(_ context.Context, in tracing.TraceInput) tracing.TraceHandle {
	r.add(recordedCall{op: "trace", trace: in})
	return tracing.TraceHandle{ID: in.ExternalID}
}

func (r *fakeRecorder) StartGeneration(_ context.Context, tr tracing.TraceHandle, in tracing.GenerationInput) tracing.GenerationHandle {
	r.add(recordedCall{op: "generation", gen: in})
	return tracing.GenerationHandle{ID: "gen-1", TraceID: tr.ID, Model: in.Model}
}

func (r *fakeRecorder) MarkStreamStarted(context.Context, tracing.GenerationHandle) {
	r.add(recordedCall{op: "started"})
}

func (r *fakeRecorder) FinishGeneration(_ context.Context, _ tracing.GenerationHandle, res tracing.GenerationResult) {
	r.add(recordedCall{op: "finish", res: res})
}

func (r *fakeRecorder) RecordEvent(_ context.Context, _ tracing.GenerationHandle, ev tracing.Event) {
	r.add(recordedCall{op: "event:" + ev.Name, event: ev})
}

func (r *fakeRecorder) SubmitScore(_ context.Context, s tracing.Score) error {
	r.add(recordedCall{op: "score", score: s})
	return r.scoreErr
}

func (r *fakeRecorder) Flush(context.Context) error {
	r.add(recordedCall{op: "flush"})
	return r.flushErr
}

func (r *fakeRecorder) Shutdown(context.Context) error { return nil }

func indexOf(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}

func userMessages(contents ...string) []chat.Message {
	out := make([]chat.Message, 0, len(contents))
	for i, c := range contents {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		out = append(out, chat.Message{ID: fmt.Sprintf("m%d", i), Role: role, Content: c})
	}
	return out
}

var errBoom = errors.New("boom")
