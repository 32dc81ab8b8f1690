package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunContinuesPastFailures(t *testing.T) {
	var order []string
	boom := errors.New("boom")

	err := Run(time.Second,
		func(ctx context.Context) error { order = append(order, "a"); return boom },
		nil,
		func(ctx context.Context) error {
			order = append(order, "b")
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return nil
		},
	)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, order)
}
