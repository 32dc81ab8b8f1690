package shutdown

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"
)

func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Hook is one step of process teardown.
type Hook func(ctx context.Context) error

// Run executes hooks in order under one shared deadline. Every hook runs even when an
// earlier one fails; the joined error is returned.
func Run(timeout time.Duration, hooks ...Hook) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var errs []error
	for _, h := range hooks {
		if h == nil {
			continue
		}
		if err := h(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
