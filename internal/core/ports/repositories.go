package ports

import (
	"context"
	"time"

	"meetsignal/internal/core/domain"
)

// RoomDirectory resolves room codes against the relational store.
// Unknown rooms return domain.ErrRoomNotFound.
type RoomDirectory interface {
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
}

// PlanResolver returns the plan limits of a tenant.
type PlanResolver interface {
	ResolvePlan(ctx context.Context, tenant domain.TenantID) (domain.PlanLimits, error)
}

type BreakoutRepository interface {
	CreateBatch(ctx context.Context, breakouts []*domain.Breakout) error
	GetByID(ctx context.Context, parent domain.RoomID, id domain.BreakoutID) (*domain.Breakout, error)
	ListActive(ctx context.Context, parent domain.RoomID) ([]*domain.Breakout, error)
	// CloseAll deactivates every active breakout of parent in one atomic step
	// and returns the breakouts it closed.
	CloseAll(ctx context.Context, parent domain.RoomID, at time.Time) ([]*domain.Breakout, error)
}

// AccessGrantRepository persists access grants. Grant is idempotent.
type AccessGrantRepository interface {
	Grant(ctx context.Context, grant domain.AccessGrant) error
}
