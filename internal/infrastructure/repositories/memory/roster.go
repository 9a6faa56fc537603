package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
)

type MemoryRoster struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.ConnectionID]domain.Participant
}

func NewMemoryRoster() ports.Roster {
	return &MemoryRoster{rooms: make(map[domain.RoomID]map[domain.ConnectionID]domain.Participant)}
}

func (r *MemoryRoster) Add(_ context.Context, room domain.RoomID, p domain.Participant, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rooms[room]
	if !ok {
		m = make(map[domain.ConnectionID]domain.Participant)
		r.rooms[room] = m
	}
	m[p.ConnectionID] = p
	return nil
}

func (r *MemoryRoster) Remove(_ context.Context, room domain.RoomID, conn domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rooms[room], conn)
	if len(r.rooms[room]) == 0 {
		delete(r.rooms, room)
	}
	return nil
}

func (r *MemoryRoster) List(_ context.Context, room domain.RoomID) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]domain.Participant, 0, len(r.rooms[room]))
	for _, p := range r.rooms[room] {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list, nil
}
