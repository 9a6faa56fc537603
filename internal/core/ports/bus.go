package ports

import (
	"context"

	"meetsignal/internal/core/domain"
)

// Subscriber is a local endpoint of the group bus, usually one socket.
// Deliver must not block.
type Subscriber interface {
	ID() domain.ConnectionID
	Deliver(ev domain.Event)
}

// Broadcaster sends an event to every subscriber of a group except exclude.
type Broadcaster interface {
	Broadcast(ctx context.Context, group domain.GroupKey, ev domain.Event, exclude domain.ConnectionID) error
}

// GroupBus is the cross-instance group membership and fan-out layer.
type GroupBus interface {
	Broadcaster
	Subscribe(ctx context.Context, group domain.GroupKey, sub Subscriber) error
	Unsubscribe(ctx context.Context, group domain.GroupKey, id domain.ConnectionID) error
	Close() error
}

// Task is a unit of deferred background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskDispatcher queues tasks off the signaling path. Dispatch never waits
// for the task to run.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}
