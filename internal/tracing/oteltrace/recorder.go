// Package oteltrace maps the chat trace model onto OpenTelemetry spans: the generation is a span,
// each side-effect event and feedback score is a short child span.
package oteltrace

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/tracing"
)

const (
	instrumentationName = "github.com/yungbote/chatrelay/internal/tracing/oteltrace"
	maxInputBytes       = 4096
	retainFinished      = 5 * time.Minute
	// A generation whose stream failed is never finished; its span is ended as abandoned after this.
	abandonAfter = 15 * time.Minute
)

type generation struct {
	span     trace.Span
	sc       trace.SpanContext
	started  time.Time
	finished time.Time
}

type Recorder struct {
	tp     trace.TracerProvider
	tracer trace.Tracer
	log    *logger.Logger

	now func() time.Time

	mu   sync.Mutex
	gens map[string]*generation
}

var _ tracing.Recorder = (*Recorder)(nil)

func New(tp trace.TracerProvider, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{
		tp:     tp,
		tracer: tp.Tracer(instrumentationName),
		log:    log.With("service", "OtelRecorder"),
		now:    time.Now,
		gens:   map[string]*generation{},
	}
}

// StartTrace has no span of its own; the external id is carried as an attribute on the
// generation and event spans.
func (r *Recorder) StartTrace(_ context.Context, in tracing.TraceInput) tracing.TraceHandle {
	return tracing.TraceHandle{ID: in.ExternalID}
}

func (r *Recorder) StartGeneration(ctx context.Context, tr tracing.TraceHandle, in tracing.GenerationInput) tracing.GenerationHandle {
	name := in.Name
	if name == "" {
		name = "chat"
	}
	attrs := []attribute.KeyValue{
		attribute.String("chat.trace_id", tr.ID),
		attribute.String("gen_ai.request.model", in.Model),
	}
	if t, ok := in.Parameters["temperature"].(float64); ok {
		attrs = append(attrs, attribute.Float64("gen_ai.request.temperature", t))
	}
	if s := encodeInput(in.Prompt); s != "" {
		attrs = append(attrs, attribute.String("gen_ai.prompt", s))
	}
	// Detach from the request's cancellation; the span outlives the handler when draining.
	_, span := r.tracer.Start(context.WithoutCancel(ctx), name, trace.WithAttributes(attrs...))

	gen := tracing.GenerationHandle{ID: tracing.NewObservationID(), TraceID: tr.ID, Model: in.Model}
	span.SetAttributes(attribute.String("chat.generation_id", gen.ID))

	now := r.now()
	r.mu.Lock()
	abandoned := r.pruneLocked(now)
	r.gens[gen.ID] = &generation{span: span, sc: span.SpanContext(), started: now}
	r.mu.Unlock()
	endAbandoned(abandoned)
	return gen
}

func (r *Recorder) MarkStreamStarted(_ context.Context, gen tracing.GenerationHandle) {
	if g := r.lookup(gen.ID); g != nil && g.finished.IsZero() {
		g.span.AddEvent("completion_start")
	}
}

func (r *Recorder) FinishGeneration(_ context.Context, gen tracing.GenerationHandle, res tracing.GenerationResult) {
	now := r.now()
	r.mu.Lock()
	g := r.gens[gen.ID]
	if g != nil && g.finished.IsZero() {
		g.finished = now
	} else {
		g = nil
	}
	abandoned := r.pruneLocked(now)
	r.mu.Unlock()
	endAbandoned(abandoned)

	if g == nil {
		r.log.Warn("finish for unknown generation", "generation_id", gen.ID)
		return
	}
	g.span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", res.Usage.PromptTokens),
		attribute.Int("gen_ai.usage.output_tokens", res.Usage.CompletionTokens),
		attribute.Int("chat.output_chars", len([]rune(res.Output))),
	)
	g.span.SetStatus(codes.Ok, "")
	g.span.End()
}

func (r *Recorder) RecordEvent(ctx context.Context, gen tracing.GenerationHandle, ev tracing.Event) {
	parent := context.WithoutCancel(ctx)
	if g := r.lookup(gen.ID); g != nil {
		parent = trace.ContextWithSpanContext(parent, g.sc)
	}
	attrs := []attribute.KeyValue{
		attribute.String("chat.trace_id", gen.TraceID),
		attribute.String("chat.event.level", string(ev.Level)),
	}
	if s := encodeInput(ev.Input); s != "" {
		attrs = append(attrs, attribute.String("chat.event.input", s))
	}
	_, span := r.tracer.Start(parent, ev.Name, trace.WithAttributes(attrs...))
	if ev.Level == tracing.LevelError {
		span.SetStatus(codes.Error, ev.StatusMessage)
	}
	span.End()
}

func (r *Recorder) SubmitScore(ctx context.Context, s tracing.Score) error {
	name := s.Name
	if name == "" {
		name = tracing.FeedbackScoreName
	}
	parent := ctx
	if g := r.lookup(s.ObservationID); g != nil {
		parent = trace.ContextWithSpanContext(ctx, g.sc)
	}
	_, span := r.tracer.Start(parent, name, trace.WithAttributes(
		attribute.String("chat.trace_id", s.TraceID),
		attribute.String("chat.observation_id", s.ObservationID),
		attribute.Float64("chat.score.value", s.Value),
		attribute.String("chat.score.comment", s.Comment),
	))
	span.End()
	return nil
}

// Flush forces export when the provider supports it (the SDK provider does).
func (r *Recorder) Flush(ctx context.Context) error {
	if f, ok := r.tp.(interface{ ForceFlush(context.Context) error }); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// Shutdown ends spans still open and flushes. The provider itself is shut down by its owner.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for id, g := range r.gens {
		if g.finished.IsZero() {
			g.span.SetStatus(codes.Error, "abandoned at shutdown")
			g.span.End()
		}
		delete(r.gens, id)
	}
	r.mu.Unlock()
	return r.Flush(ctx)
}

// pruneLocked drops finished generations past retention and removes unfinished ones older than
// abandonAfter, returning the latter so their spans can be ended outside the lock.
func (r *Recorder) pruneLocked(now time.Time) []*generation {
	var abandoned []*generation
	for id, g := range r.gens {
		switch {
		case !g.finished.IsZero():
			if now.Sub(g.finished) > retainFinished {
				delete(r.gens, id)
			}
		case now.Sub(g.started) > abandonAfter:
			delete(r.gens, id)
			abandoned = append(abandoned, g)
		}
	}
	return abandoned
}

func endAbandoned(gens []*generation) {
	for _, g := range gens {
		g.span.SetStatus(codes.Error, "abandoned")
		g.span.End()
	}
}

// Open reports how many generations are tracked.
func (r *Recorder) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gens)
}

func (r *Recorder) lookup(id string) *generation {
	if id == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[id]
}

func encodeInput(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	if len(raw) > maxInputBytes {
		raw = raw[:maxInputBytes]
	}
	return string(raw)
}
