package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/pkg/circuitbreaker"
	"meetsignal/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errDBDown = errors.New("connection refused")

type flakyDirectory struct {
	mu       sync.Mutex
	calls    int
	failures int
	rooms    map[domain.RoomID]*domain.Room
}

func (d *flakyDirectory) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failures > 0 {
		d.failures--
		return nil, errDBDown
	}
	room, ok := d.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	out := *room
	return &out, nil
}

func (d *flakyDirectory) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type recordingObserver struct {
	mu     sync.Mutex
	states map[string]circuitbreaker.State
}

func (o *recordingObserver) SetBreakerState(name string, state circuitbreaker.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.states == nil {
		o.states = map[string]circuitbreaker.State{}
	}
	o.states[name] = state
}

func fastRetry() retry.Config {
	return retry.Config{Enabled: true, MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newDirectory(base *flakyDirectory, cb circuitbreaker.Config, obs BreakerObserver) *ResilientRoomDirectory {
	d := NewResilientRoomDirectory(base, time.Minute, fastRetry(), cb, obs, zap.NewNop().Sugar())
	return d
}

func TestResilientRoomDirectory_RetriesTransientFailures(t *testing.T) {
	base := &flakyDirectory{failures: 2, rooms: map[domain.RoomID]*domain.Room{"abc-defg-hij": {ID: "abc-defg-hij", ModeratorID: "42"}}}
	d := newDirectory(base, circuitbreaker.DefaultConfig(), nil)
	defer d.Stop()

	room, err := d.GetRoom(context.Background(), "abc-defg-hij")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("42"), room.ModeratorID)
	assert.Equal(t, 3, base.callCount())

	// served from cache
	_, err = d.GetRoom(context.Background(), "abc-defg-hij")
	require.NoError(t, err)
	assert.Equal(t, 3, base.callCount())
}

func TestResilientRoomDirectory_NotFoundIsNotRetriedOrCounted(t *testing.T) {
	base := &flakyDirectory{rooms: map[domain.RoomID]*domain.Room{}}
	d := newDirectory(base, circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, MaxRequestsHalfOpen: 1}, nil)
	defer d.Stop()

	for i := 0; i < 3; i++ {
		_, err := d.GetRoom(context.Background(), "nop-qrst-uvw")
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	}
	assert.Equal(t, 3, base.callCount())
	assert.Equal(t, circuitbreaker.StateClosed, d.breaker.GetState())
}

func TestResilientRoomDirectory_BreakerOpens(t *testing.T) {
	base := &flakyDirectory{failures: 100, rooms: map[domain.RoomID]*domain.Room{}}
	obs := &recordingObserver{}
	d := newDirectory(base, circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute, MaxRequestsHalfOpen: 1}, obs)
	defer d.Stop()

	_, err := d.GetRoom(context.Background(), "abc-defg-hij")
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, base.callCount())
	assert.Equal(t, circuitbreaker.StateOpen, obs.states["room_directory"])
}

func TestResilientRoomDirectory_UncachedReadsThrough(t *testing.T) {
	base := &flakyDirectory{rooms: map[domain.RoomID]*domain.Room{"abc-defg-hij": {ID: "abc-defg-hij", ModeratorID: "42"}}}
	d := newDirectory(base, circuitbreaker.DefaultConfig(), nil)
	defer d.Stop()
	ctx := context.Background()

	_, err := d.GetRoom(ctx, "abc-defg-hij")
	require.NoError(t, err)

	base.mu.Lock()
	base.rooms["abc-defg-hij"].ModeratorID = "43"
	base.mu.Unlock()

	room, err := d.Uncached().GetRoom(ctx, "abc-defg-hij")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("43"), room.ModeratorID)

	// the fresh read also refreshed the cache
	room, err = d.GetRoom(ctx, "abc-defg-hij")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("43"), room.ModeratorID)
	assert.Equal(t, 2, base.callCount())
}

type countingResolver struct {
	calls int
	err   error
}

func (r *countingResolver) ResolvePlan(_ context.Context, tenant domain.TenantID) (domain.PlanLimits, error) {
	r.calls++
	if r.err != nil {
		return domain.PlanLimits{}, r.err
	}
	return domain.PlanForTier(domain.TierPro), nil
}

func TestResilientPlanResolver_CachesPerTenant(t *testing.T) {
	base := &countingResolver{}
	r := NewResilientPlanResolver(base, time.Minute, fastRetry(), circuitbreaker.DefaultConfig(), nil, zap.NewNop().Sugar())
	defer r.Stop()

	for i := 0; i < 3; i++ {
		plan, err := r.ResolvePlan(context.Background(), "org-1")
		require.NoError(t, err)
		assert.Equal(t, 100, plan.MaxParticipants)
	}
	assert.Equal(t, 1, base.calls)
}

func TestResilientPlanResolver_ReturnsErrorAfterRetries(t *testing.T) {
	base := &countingResolver{err: errDBDown}
	r := NewResilientPlanResolver(base, time.Minute, fastRetry(), circuitbreaker.DefaultConfig(), nil, zap.NewNop().Sugar())
	defer r.Stop()

	_, err := r.ResolvePlan(context.Background(), "org-1")
	assert.ErrorIs(t, err, errDBDown)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 3, base.calls)
}
