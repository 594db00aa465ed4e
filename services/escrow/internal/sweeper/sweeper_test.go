package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeExpirer struct {
	calls   atomic.Int64
	expired int
	err     error
	limit   atomic.Int64
}

func (f *fakeExpirer) ExpireOverdueTrades(_ context.Context, _ time.Time, limit int) (int, error) {
	f.calls.Add(1)
	f.limit.Store(int64(limit))
	if f.err != nil {
		return 0, f.err
	}
	return f.expired, nil
}

func TestRunSweepsImmediatelyAndOnTicks(t *testing.T) {
	expirer := &fakeExpirer{expired: 1}
	s := New(expirer, 10*time.Millisecond, 50, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for expirer.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 sweeps, got %d", expirer.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
	if got := expirer.limit.Load(); got != 50 {
		t.Fatalf("batch size = %d, want 50", got)
	}
}

func TestRunKeepsGoingAfterSweepError(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("db down")}
	s := New(expirer, 5*time.Millisecond, 0, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if expirer.calls.Load() < 2 {
		t.Fatalf("sweeper should retry after errors, calls = %d", expirer.calls.Load())
	}
}
