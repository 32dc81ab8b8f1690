package services

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/yungbote/chatrelay/internal/platform/logger"
)

// Background runs per-request side-effect tasks detached from the request context and lets
// shutdown wait for them.
type Background struct {
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	wg      sync.WaitGroup
	closing bool
}

// NewBackground bounds each task by timeout (0 means unbounded).
func NewBackground(log *logger.Logger, timeout time.Duration) *Background {
	if log == nil {
		log = logger.Nop()
	}
	return &Background{log: log.With("service", "Background"), timeout: timeout}
}

// Go starts fn on its own goroutine. Once Drain has begun, fn runs synchronously in the caller
// instead so that no task is lost and Drain never races a late Add.
func (b *Background) Go(name string, fn func(ctx context.Context)) {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		b.run(name, fn)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.run(name, fn)
	}()
}

// Drain stops accepting detached tasks and waits for running ones until ctx is done.
func (b *Background) Drain(ctx context.Context) error {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.log.Warn("drain interrupted with tasks still running", "error", ctx.Err())
		return ctx.Err()
	}
}

func (b *Background) run(name string, fn func(ctx context.Context)) {
	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("background task panicked", "task", name, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	fn(ctx)
}
