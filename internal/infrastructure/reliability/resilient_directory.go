package reliability

import (
	"context"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/pkg/cache"
	"meetsignal/pkg/circuitbreaker"
	"meetsignal/pkg/retry"

	"go.uber.org/zap"
)

// BreakerObserver receives circuit breaker transitions, usually for metrics.
type BreakerObserver interface {
	SetBreakerState(name string, state circuitbreaker.State)
}

func newBreaker(name string, cfg circuitbreaker.Config, observer BreakerObserver, logger *zap.SugaredLogger) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.New(name, cfg)
	cb.OnStateChange(func(name string, from, to circuitbreaker.State) {
		logger.Warnw("circuit breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
		)
		if observer != nil {
			observer.SetBreakerState(name, to)
		}
	})
	return cb
}

func withErrors(list []error, extra ...error) []error {
	out := make([]error, 0, len(list)+len(extra))
	return append(append(out, list...), extra...)
}

// ResilientRoomDirectory puts retry, a circuit breaker and a short-lived cache
// in front of a RoomDirectory. Not-found answers are never cached and never
// trip the breaker.
type ResilientRoomDirectory struct {
	base        ports.RoomDirectory
	cache       *cache.Cache[*domain.Room]
	breaker     *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewResilientRoomDirectory(
	base ports.RoomDirectory,
	cacheTTL time.Duration,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	observer BreakerObserver,
	logger *zap.SugaredLogger,
) *ResilientRoomDirectory {
	cbConfig.Expected = withErrors(cbConfig.Expected, domain.ErrRoomNotFound)
	retryConfig.NonRetryable = withErrors(retryConfig.NonRetryable, domain.ErrRoomNotFound, circuitbreaker.ErrOpen)

	return &ResilientRoomDirectory{
		base:        base,
		cache:       cache.New[*domain.Room](cacheTTL),
		breaker:     newBreaker("room_directory", cbConfig, observer, logger),
		retryConfig: retryConfig,
	}
}

// GetRoom serves from the cache when possible.
func (d *ResilientRoomDirectory) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := d.cache.GetOrSet(ctx, string(id), func(ctx context.Context) (*domain.Room, error) {
		return d.fetch(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	out := *room
	return &out, nil
}

// Uncached returns a view that always reads through to the base directory.
// Authorization checks use it so a moderator change is seen immediately.
func (d *ResilientRoomDirectory) Uncached() ports.RoomDirectory {
	return uncachedDirectory{d}
}

// Invalidate drops a cached room.
func (d *ResilientRoomDirectory) Invalidate(id domain.RoomID) {
	d.cache.Delete(string(id))
}

func (d *ResilientRoomDirectory) Stop() {
	d.cache.Stop()
}

func (d *ResilientRoomDirectory) fetch(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return retry.DoWithResult(ctx, d.retryConfig, func(ctx context.Context) (*domain.Room, error) {
		return circuitbreaker.Execute(ctx, d.breaker, func(ctx context.Context) (*domain.Room, error) {
			return d.base.GetRoom(ctx, id)
		})
	})
}

type uncachedDirectory struct {
	d *ResilientRoomDirectory
}

func (u uncachedDirectory) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := u.d.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	u.d.cache.Set(string(id), room)
	out := *room
	return &out, nil
}

// ResilientPlanResolver caches plan limits per tenant behind a breaker.
type ResilientPlanResolver struct {
	base        ports.PlanResolver
	cache       *cache.Cache[domain.PlanLimits]
	breaker     *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewResilientPlanResolver(
	base ports.PlanResolver,
	cacheTTL time.Duration,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	observer BreakerObserver,
	logger *zap.SugaredLogger,
) *ResilientPlanResolver {
	retryConfig.NonRetryable = withErrors(retryConfig.NonRetryable, circuitbreaker.ErrOpen)

	return &ResilientPlanResolver{
		base:        base,
		cache:       cache.New[domain.PlanLimits](cacheTTL),
		breaker:     newBreaker("plan_resolver", cbConfig, observer, logger),
		retryConfig: retryConfig,
	}
}

func (r *ResilientPlanResolver) ResolvePlan(ctx context.Context, tenant domain.TenantID) (domain.PlanLimits, error) {
	return r.cache.GetOrSet(ctx, string(tenant), func(ctx context.Context) (domain.PlanLimits, error) {
		return retry.DoWithResult(ctx, r.retryConfig, func(ctx context.Context) (domain.PlanLimits, error) {
			return circuitbreaker.Execute(ctx, r.breaker, func(ctx context.Context) (domain.PlanLimits, error) {
				return r.base.ResolvePlan(ctx, tenant)
			})
		})
	})
}

func (r *ResilientPlanResolver) Stop() {
	r.cache.Stop()
}
