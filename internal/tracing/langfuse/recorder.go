// Package langfuse records chat traces through the Langfuse public ingestion API.
package langfuse

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/tracing"
)

type Config struct {
	BaseURL       string
	PublicKey     string
	SecretKey     string
	FlushInterval time.Duration
	FlushAt       int
	// MaxQueue bounds buffered events; the oldest are dropped beyond it.
	MaxQueue int
}

type BatchObserver interface {
	IncTraceBatch(backend string, err error)
}

type Recorder struct {
	cfg        Config
	log        *logger.Logger
	httpClient *http.Client
	observer   BatchObserver

	mu      sync.Mutex
	pending []ingestionEvent
	dropped int

	flushMu sync.Mutex
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started bool
	closed  bool
}

var _ tracing.Recorder = (*Recorder)(nil)

func New(cfg Config, log *logger.Logger, httpClient *http.Client) (*Recorder, error) {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("langfuse: public and secret keys are required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://cloud.langfuse.com"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.FlushAt <= 0 {
		cfg.FlushAt = 15
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 10000
	}
	if log == nil {
		log = logger.Nop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Recorder{
		cfg:        cfg,
		log:        log.With("service", "LangfuseRecorder"),
		httpClient: httpClient,
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// WithObserver reports every batch outcome to o.
func (r *Recorder) WithObserver(o BatchObserver) *Recorder {
	r.observer = o
	return r
}

// Start runs the background flush loop until Shutdown.
func (r *Recorder) Start() {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
			case <-r.kick:
			}
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FlushInterval+10*time.Second)
			if err := r.Flush(ctx); err != nil {
				r.log.Warn("background flush failed", "error", err)
			}
			cancel()
		}
	}()
}

func (r *Recorder) StartTrace(_ context.Context, in tracing.TraceInput) tracing.TraceHandle {
	now := tracing.Now()
	name := in.Name
	if name == "" {
		name = "chat"
	}
	r.enqueue(ingestionEvent{
		ID:        tracing.NewObservationID(),
		Type:      typeTraceCreate,
		Timestamp: formatTime(now),
		Body: traceBody{
			ID:        in.ExternalID,
			Timestamp: formatTime(now),
			Name:      name,
			UserID:    in.UserRef,
			Metadata:  in.Metadata,
		},
	})
	return tracing.TraceHandle{ID: in.ExternalID}
}

func (r *Recorder) StartGeneration(_ context.Context, trace tracing.TraceHandle, in tracing.GenerationInput) tracing.GenerationHandle {
	now := tracing.Now()
	gen := tracing.GenerationHandle{ID: tracing.NewObservationID(), TraceID: trace.ID, Model: in.Model}
	r.enqueue(ingestionEvent{
		ID:        tracing.NewObservationID(),
		Type:      typeGenerationCreate,
		Timestamp: formatTime(now),
		Body: generationBody{
			ID:              gen.ID,
			TraceID:         trace.ID,
			Name:            in.Name,
			StartTime:       formatTime(now),
			Model:           in.Model,
			ModelParameters: in.Parameters,
			Input:           in.Prompt,
		},
	})
	return gen
}

func (r *Recorder) MarkStreamStarted(_ context.Context, gen tracing.GenerationHandle) {
	now := tracing.Now()
	r.enqueue(ingestionEvent{
		ID:        tracing.NewObservationID(),
		Type:      typeGenerationUpdate,
		Timestamp: formatTime(now),
		Body: generationBody{
			ID:                  gen.ID,
			TraceID:             gen.TraceID,
			CompletionStartTime: formatTime(now),
		},
	})
}

func (r *Recorder) FinishGeneration(_ context.Context, gen tracing.GenerationHandle, res tracing.GenerationResult) {
	now := tracing.Now()
	r.enqueue(ingestionEvent{
		ID:        tracing.NewObservationID(),
		Type:      typeGenerationUpdate,
		Timestamp: formatTime(now),
		Body: generationBody{
			ID:      gen.ID,
			TraceID: gen.TraceID,
			EndTime: formatTime(now),
			Output:  res.Output,
			Usage: &usageBody{
				Input:  res.Usage.PromptTokens,
				Output: res.Usage.CompletionTokens,
				Total:  res.Usage.PromptTokens + res.Usage.CompletionTokens,
				Unit:   "TOKENS",
			},
		},
	})
}

func (r *Recorder) RecordEvent(_ context.Context, gen tracing.GenerationHandle, ev tracing.Event) {
	now := tracing.Now()
	level := ev.Level
	if level == "" {
		level = tracing.LevelDefault
	}
	r.enqueue(ingestionEvent{
		ID:        tracing.NewObservationID(),
		Type:      typeEventCreate,
		Timestamp: formatTime(now),
		Body: eventBody{
			ID:                  tracing.NewObservationID(),
			TraceID:             gen.TraceID,
			ParentObservationID: gen.ID,
			Name:                ev.Name,
			StartTime:           formatTime(now),
			Level:               string(level),
			StatusMessage:       ev.StatusMessage,
			Input:               ev.Input,
		},
	})
}

// SubmitScore sends the score immediately rather than through the queue, so the caller learns
// whether it was accepted. Every call creates a new score.
func (r *Recorder) SubmitScore(ctx context.Context, s tracing.Score) error {
	if strings.TrimSpace(s.TraceID) == "" {
		return errors.New("langfuse: score requires a trace id")
	}
	name := s.Name
	if name == "" {
		name = tracing.FeedbackScoreName
	}
	now := tracing.Now()
	err := r.post(ctx, []ingestionEvent{{
		ID:        tracing.NewObservationID(),
		Type:      typeScoreCreate,
		Timestamp: formatTime(now),
		Body: scoreBody{
			ID:            tracing.NewObservationID(),
			TraceID:       s.TraceID,
			ObservationID: s.ObservationID,
			Name:          name,
			Value:         s.Value,
			Comment:       strings.TrimSpace(s.Comment),
		},
	}})
	r.observe(err)
	return err
}

// Flush sends everything queued so far. Events that fail to send are dropped.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	dropped := r.dropped
	r.dropped = 0
	r.mu.Unlock()

	if dropped > 0 {
		r.log.Warn("queue overflow, events dropped", "dropped", dropped)
	}

	var errs []error
	for len(batch) > 0 {
		n := min(len(batch), r.cfg.FlushAt)
		err := r.post(ctx, batch[:n])
		r.observe(err)
		if err != nil {
			errs = append(errs, err)
		}
		batch = batch[n:]
	}
	return errors.Join(errs...)
}

// Shutdown stops the flush loop and sends whatever is still queued.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	r.mu.Unlock()

	if started {
		close(r.stop)
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.Flush(ctx)
}

// Pending is the number of queued, unsent events.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Recorder) enqueue(ev ingestionEvent) {
	r.mu.Lock()
	r.pending = append(r.pending, ev)
	if over := len(r.pending) - r.cfg.MaxQueue; over > 0 {
		r.pending = r.pending[over:]
		r.dropped += over
	}
	full := len(r.pending) >= r.cfg.FlushAt
	r.mu.Unlock()

	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

func (r *Recorder) observe(err error) {
	if r.observer != nil {
		r.observer.IncTraceBatch("langfuse", err)
	}
}
