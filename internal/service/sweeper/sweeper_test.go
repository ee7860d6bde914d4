package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	calls    atomic.Int64
	released []int
	err      error
}

func (f *fakeExpirer) ExpireStale(context.Context) ([]int, error) {
	f.calls.Add(1)
	return f.released, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweep(t *testing.T) {
	t.Run("invokes the expirer once", func(t *testing.T) {
		exp := &fakeExpirer{released: []int{4, 9}}
		sw := New(exp, discardLogger(), time.Minute)

		sw.Sweep(context.Background())
		assert.Equal(t, int64(1), exp.calls.Load())
	})

	t.Run("a failing sweep does not panic or propagate", func(t *testing.T) {
		exp := &fakeExpirer{err: errors.New("store unavailable")}
		sw := New(exp, discardLogger(), time.Minute)

		sw.Sweep(context.Background())
		assert.Equal(t, int64(1), exp.calls.Load())
	})
}

func TestRun(t *testing.T) {
	exp := &fakeExpirer{}
	sw := New(exp, discardLogger(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	require.Eventually(t, func() bool {
		return exp.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
