package distributed

import (
	"context"
	"sync"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
)

// DeliveryObserver is notified after each local fan-out.
type DeliveryObserver interface {
	ObserveDelivery(eventType string, recipients int)
}

// deliveryTable is the per-instance view of group membership: only sockets
// owned by this process are listed.
type deliveryTable struct {
	mu     sync.RWMutex
	groups map[domain.GroupKey]map[domain.ConnectionID]ports.Subscriber
}

func newDeliveryTable() *deliveryTable {
	return &deliveryTable{groups: make(map[domain.GroupKey]map[domain.ConnectionID]ports.Subscriber)}
}

func (t *deliveryTable) add(group domain.GroupKey, sub ports.Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.groups[group]
	if !ok {
		members = make(map[domain.ConnectionID]ports.Subscriber)
		t.groups[group] = members
	}
	members[sub.ID()] = sub
}

func (t *deliveryTable) remove(group domain.GroupKey, id domain.ConnectionID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.groups[group]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(t.groups, group)
	}
}

// deliver hands ev to every local member of group except exclude and returns
// the number of recipients.
func (t *deliveryTable) deliver(group domain.GroupKey, ev domain.Event, exclude domain.ConnectionID) int {
	t.mu.RLock()
	members := make([]ports.Subscriber, 0, len(t.groups[group]))
	for id, sub := range t.groups[group] {
		if id == exclude {
			continue
		}
		members = append(members, sub)
	}
	t.mu.RUnlock()

	for _, sub := range members {
		sub.Deliver(ev)
	}
	return len(members)
}

func (t *deliveryTable) size(group domain.GroupKey) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.groups[group])
}

// LocalGroupBus fans out within one process. It serves single-instance
// deployments and tests.
type LocalGroupBus struct {
	table    *deliveryTable
	observer DeliveryObserver
}

func NewLocalGroupBus(observer DeliveryObserver) *LocalGroupBus {
	return &LocalGroupBus{table: newDeliveryTable(), observer: observer}
}

func (b *LocalGroupBus) Broadcast(_ context.Context, group domain.GroupKey, ev domain.Event, exclude domain.ConnectionID) error {
	n := b.table.deliver(group, ev, exclude)
	if b.observer != nil {
		b.observer.ObserveDelivery(string(ev.Type), n)
	}
	return nil
}

func (b *LocalGroupBus) Subscribe(_ context.Context, group domain.GroupKey, sub ports.Subscriber) error {
	b.table.add(group, sub)
	return nil
}

func (b *LocalGroupBus) Unsubscribe(_ context.Context, group domain.GroupKey, id domain.ConnectionID) error {
	b.table.remove(group, id)
	return nil
}

// Members returns the number of local subscribers of group.
func (b *LocalGroupBus) Members(group domain.GroupKey) int {
	return b.table.size(group)
}

func (b *LocalGroupBus) Close() error {
	return nil
}
