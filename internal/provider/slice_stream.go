package provider

import (
	"context"
	"time"
)

// SliceStream replays fixed chunks, optionally failing after the last one. It backs the mock
// provider and test doubles.
type SliceStream struct {
	ctx    context.Context
	chunks []string
	err    error
	delay  time.Duration
	usage  *Usage

	pos     int
	cur     string
	done    bool
	lastErr error
	closed  bool
}

func NewSliceStream(ctx context.Context, chunks []string, err error) *SliceStream {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SliceStream{ctx: ctx, chunks: chunks, err: err}
}

// WithDelay pauses before each chunk, honoring context cancellation.
func (s *SliceStream) WithDelay(d time.Duration) *SliceStream {
	s.delay = d
	return s
}

// WithUsage makes Usage report u once the stream closes gracefully.
func (s *SliceStream) WithUsage(u Usage) *SliceStream {
	s.usage = &u
	return s
}

func (s *SliceStream) Next() bool {
	if s.done {
		return false
	}
	if s.pos >= len(s.chunks) {
		s.done = true
		s.lastErr = s.err
		return false
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			s.done = true
			s.lastErr = s.ctx.Err()
			return false
		case <-t.C:
		}
	} else if err := s.ctx.Err(); err != nil {
		s.done = true
		s.lastErr = err
		return false
	}
	s.cur = s.chunks[s.pos]
	s.pos++
	return true
}

func (s *SliceStream) Chunk() string { return s.cur }

func (s *SliceStream) Err() error { return s.lastErr }

func (s *SliceStream) Usage() (Usage, bool) {
	if s.usage == nil || !s.done || s.lastErr != nil {
		return Usage{}, false
	}
	return *s.usage, true
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool { return s.closed }
