// Package relay forwards a provider's token stream to a client while accumulating the full
// completion, and fires lifecycle hooks off the delivery path.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/yungbote/chatrelay/internal/platform/logger"
	"github.com/yungbote/chatrelay/internal/provider"
)

// ErrClientGone is returned when the client went away and the relay was not asked to drain.
var ErrClientGone = errors.New("relay: client disconnected")

// Completion is what the upstream produced once it closed gracefully.
type Completion struct {
	Text string
	// Usage is upstream-reported token usage; UsageReported is false when the upstream sent none.
	Usage         provider.Usage
	UsageReported bool
}

// Hooks are invoked at most once each, in order, on a goroutine separate from delivery.
// OnStart runs once the first chunk has been handed to the client (or at a graceful close of an
// empty stream). OnCompletion runs only after the upstream closed without error.
type Hooks struct {
	OnStart      func()
	OnCompletion func(c Completion)
}

type Options struct {
	// DrainOnDisconnect keeps reading the upstream after the client is gone so that
	// OnCompletion still receives the whole text. The upstream must then run on a context
	// that the client's disconnect does not cancel.
	DrainOnDisconnect bool
	Log               *logger.Logger
}

type Relay struct {
	src   provider.ChunkStream
	dst   io.Writer
	hooks Hooks
	opts  Options

	text       strings.Builder
	delivered  int
	clientGone bool

	hookq     chan func()
	hooksDone chan struct{}
}

func New(src provider.ChunkStream, dst io.Writer, hooks Hooks, opts Options) *Relay {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &Relay{
		src:   src,
		dst:   dst,
		hooks: hooks,
		opts:  opts,
		// Only two hooks exist, so enqueueing never waits on hook execution.
		hookq:     make(chan func(), 2),
		hooksDone: make(chan struct{}),
	}
}

// Run copies chunks to the destination until the upstream ends. ctx is the client's context;
// once it is done nothing more is written. Run returns the upstream error, ErrClientGone, or nil.
// It may only be called once.
func (r *Relay) Run(ctx context.Context) error {
	go r.dispatch()
	defer close(r.hookq)
	defer r.src.Close()

	flusher, _ := r.dst.(interface{ Flush() })
	started := false

	for r.src.Next() {
		chunk := r.src.Chunk()
		r.text.WriteString(chunk)

		if !r.clientGone {
			if ctx.Err() != nil {
				r.clientGone = true
			} else if n, err := io.WriteString(r.dst, chunk); err != nil {
				r.clientGone = true
			} else {
				r.delivered += n
				if flusher != nil {
					flusher.Flush()
				}
			}
		}

		if !started {
			started = true
			r.enqueue(r.hooks.OnStart)
		}

		if r.clientGone && !r.opts.DrainOnDisconnect {
			return fmt.Errorf("%w after %d bytes", ErrClientGone, r.delivered)
		}
	}

	if err := r.src.Err(); err != nil {
		return err
	}

	if !started {
		r.enqueue(r.hooks.OnStart)
	}
	if r.hooks.OnCompletion != nil {
		c := Completion{Text: r.text.String()}
		c.Usage, c.UsageReported = r.src.Usage()
		r.enqueue(func() { r.hooks.OnCompletion(c) })
	}
	return nil
}

// Text is everything received from the upstream so far.
func (r *Relay) Text() string { return r.text.String() }

// Delivered is the number of bytes written to the client.
func (r *Relay) Delivered() int { return r.delivered }

// ClientGone reports whether delivery stopped because the client disconnected.
func (r *Relay) ClientGone() bool { return r.clientGone }

// HooksDone is closed after Run returned and every enqueued hook finished.
func (r *Relay) HooksDone() <-chan struct{} { return r.hooksDone }

func (r *Relay) enqueue(fn func()) {
	if fn != nil {
		r.hookq <- fn
	}
}

func (r *Relay) dispatch() {
	defer close(r.hooksDone)
	for fn := range r.hookq {
		r.call(fn)
	}
}

func (r *Relay) call(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.opts.Log.Error("relay hook panicked", "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
