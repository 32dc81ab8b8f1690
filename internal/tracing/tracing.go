// Package tracing defines the Trace Recorder used by the chat pipeline. Recorder calls never fail
// the request they describe: implementations log and drop on error, except SubmitScore, whose
// result is surfaced to the feedback caller.
package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelDefault Level = "DEFAULT"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// TraceHandle identifies a started trace. ID is the external identifier (e.g. "chat:<id>").
type TraceHandle struct {
	ID string
}

// GenerationHandle identifies a generation under a trace. ID is what clients receive as the
// message id and may later reference as an observation id in feedback.
type GenerationHandle struct {
	ID      string
	TraceID string
	Model   string
}

type TraceInput struct {
	ExternalID string
	Name       string
	UserRef    string
	Metadata   map[string]string
}

type GenerationInput struct {
	Name       string
	Model      string
	Parameters map[string]any
	Prompt     any
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

type GenerationResult struct {
	Output string
	Usage  Usage
}

type Event struct {
	Name          string
	Level         Level
	Input         any
	StatusMessage string
}

type Score struct {
	TraceID       string
	ObservationID string
	Name          string
	Value         float64
	Comment       string
}

type Recorder interface {
	StartTrace(ctx context.Context, in TraceInput) TraceHandle
	StartGeneration(ctx context.Context, trace TraceHandle, in GenerationInput) GenerationHandle
	MarkStreamStarted(ctx context.Context, gen GenerationHandle)
	FinishGeneration(ctx context.Context, gen GenerationHandle, res GenerationResult)
	RecordEvent(ctx context.Context, gen GenerationHandle, ev Event)
	SubmitScore(ctx context.Context, score Score) error
	Flush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// NewObservationID returns a fresh id for generations, events and scores.
func NewObservationID() string {
	return uuid.NewString()
}

// Now is swapped in tests.
var Now = func() time.Time { return time.Now().UTC() }

// Nop records nothing. Generation ids are still minted so clients get a message id.
type Nop struct{}

func (Nop) StartTrace(_ context.Context, in TraceInput) TraceHandle {
	return TraceHandle{ID: in.ExternalID}
}

func (Nop) StartGeneration(_ context.Context, trace TraceHandle, in GenerationInput) GenerationHandle {
	return GenerationHandle{ID: NewObservationID(), TraceID: trace.ID, Model: in.Model}
}

func (Nop) MarkStreamStarted(context.Context, GenerationHandle)                  {}
func (Nop) FinishGeneration(context.Context, GenerationHandle, GenerationResult) {}
func (Nop) RecordEvent(context.Context, GenerationHandle, Event)                 {}
func (Nop) SubmitScore(context.Context, Score) error                             { return nil }
func (Nop) Flush(context.Context) error                                          { return nil }
func (Nop) Shutdown(context.Context) error                                       { return nil }
