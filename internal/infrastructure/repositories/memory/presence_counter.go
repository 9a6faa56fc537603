package memory

import (
	"context"
	"sync"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
)

type MemoryPresenceCounter struct {
	mu     sync.Mutex
	counts map[domain.RoomID]int64
}

func NewMemoryPresenceCounter() ports.PresenceCounter {
	return &MemoryPresenceCounter{counts: make(map[domain.RoomID]int64)}
}

func (c *MemoryPresenceCounter) Increment(_ context.Context, room domain.RoomID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[room]++
	return c.counts[room], nil
}

func (c *MemoryPresenceCounter) Decrement(_ context.Context, room domain.RoomID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.counts[room] - 1
	if n <= 0 {
		delete(c.counts, room)
		return 0, nil
	}
	c.counts[room] = n
	return n, nil
}

func (c *MemoryPresenceCounter) Count(_ context.Context, room domain.RoomID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[room], nil
}
