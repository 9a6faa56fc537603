package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meetsignal/internal/core/ports"
	"meetsignal/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	retries  int
}

func (r *outcomeRecorder) ObserveTask(name, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func (r *outcomeRecorder) ObserveTaskRetry(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *outcomeRecorder) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

func testConfig(workers, queue int) Config {
	return Config{
		Workers:   workers,
		QueueSize: queue,
		Retry: retry.Config{
			Enabled:      true,
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	}
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	rec := &outcomeRecorder{}
	d := NewDispatcher(testConfig(1, 8), rec, zap.NewNop().Sugar())

	var attempts int32
	done := make(chan struct{})
	err := d.Dispatch(context.Background(), ports.Task{Name: "grant", Run: func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("db busy")
		}
		close(done)
		return nil
	}})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never succeeded")
	}
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, 1, rec.count("succeeded"))
	assert.Equal(t, 2, rec.retries)
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	rec := &outcomeRecorder{}
	d := NewDispatcher(testConfig(1, 8), rec, zap.NewNop().Sugar())

	var attempts int32
	require.NoError(t, d.Dispatch(context.Background(), ports.Task{Name: "grant", Run: func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("db down")
	}}))
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, 1, rec.count("failed"))
}

func TestDispatcher_FullQueueDoesNotBlock(t *testing.T) {
	rec := &outcomeRecorder{}
	d := NewDispatcher(testConfig(1, 1), rec, zap.NewNop().Sugar())

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := ports.Task{Name: "blocker", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}
	noop := ports.Task{Name: "noop", Run: func(ctx context.Context) error { return nil }}

	require.NoError(t, d.Dispatch(context.Background(), blocker))
	<-started
	require.NoError(t, d.Dispatch(context.Background(), noop))

	err := d.Dispatch(context.Background(), noop)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, rec.count("dropped"))

	close(release)
	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcher_RejectsAfterStop(t *testing.T) {
	d := NewDispatcher(testConfig(2, 4), nil, zap.NewNop().Sugar())
	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))

	err := d.Dispatch(context.Background(), ports.Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)
}
