package domain

import (
	"context"
	"sync"
)

// Admission is a granted slot in a room. Release must be called once the
// connection ends; extra calls are no-ops.
type Admission struct {
	Room      *Room
	Plan      PlanLimits
	LinkClass LinkClass
	Count     int64
	// Counted is false when the presence store was unavailable and the slot was
	// admitted without a reservation.
	Counted bool
	Clock   *SessionClock

	once      sync.Once
	release   func(ctx context.Context) (int64, error)
	remaining int64
	err       error
}

// NewAdmission builds an admission whose Release runs release at most once.
func NewAdmission(room *Room, plan PlanLimits, count int64, counted bool, release func(ctx context.Context) (int64, error)) *Admission {
	return &Admission{Room: room, Plan: plan, Count: count, Counted: counted, release: release}
}

// Release returns the slot and reports the room's remaining count. Only the
// first call touches the counter; later calls repeat its result.
func (a *Admission) Release(ctx context.Context) (int64, error) {
	a.once.Do(func() {
		if a.release != nil {
			a.remaining, a.err = a.release(ctx)
		}
	})
	return a.remaining, a.err
}
