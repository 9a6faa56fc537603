package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
)

type MemoryBreakoutRepository struct {
	mu        sync.Mutex
	breakouts map[domain.RoomID]map[domain.BreakoutID]*domain.Breakout
}

func NewMemoryBreakoutRepository() ports.BreakoutRepository {
	return &MemoryBreakoutRepository{
		breakouts: make(map[domain.RoomID]map[domain.BreakoutID]*domain.Breakout),
	}
}

func (r *MemoryBreakoutRepository) CreateBatch(_ context.Context, breakouts []*domain.Breakout) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[domain.BreakoutID]struct{}, len(breakouts))
	for _, b := range breakouts {
		_, exists := r.breakouts[b.ParentRoomID][b.ID]
		if _, dup := seen[b.ID]; exists || dup {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateBreakout, b.ID)
		}
		seen[b.ID] = struct{}{}
	}
	for _, b := range breakouts {
		children, ok := r.breakouts[b.ParentRoomID]
		if !ok {
			children = make(map[domain.BreakoutID]*domain.Breakout)
			r.breakouts[b.ParentRoomID] = children
		}
		stored := *b
		children[b.ID] = &stored
	}
	return nil
}

func (r *MemoryBreakoutRepository) GetByID(_ context.Context, parent domain.RoomID, id domain.BreakoutID) (*domain.Breakout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakouts[parent][id]
	if !ok {
		return nil, domain.ErrBreakoutNotFound
	}
	out := *b
	return &out, nil
}

func (r *MemoryBreakoutRepository) ListActive(_ context.Context, parent domain.RoomID) ([]*domain.Breakout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*domain.Breakout
	for _, b := range r.breakouts[parent] {
		if b.IsActive {
			out := *b
			result = append(result, &out)
		}
	}
	sortBreakouts(result)
	return result, nil
}

func (r *MemoryBreakoutRepository) CloseAll(_ context.Context, parent domain.RoomID, at time.Time) ([]*domain.Breakout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var closed []*domain.Breakout
	for _, b := range r.breakouts[parent] {
		if !b.IsActive {
			continue
		}
		closedAt := at
		b.IsActive = false
		b.ClosedAt = &closedAt
		out := *b
		closed = append(closed, &out)
	}
	sortBreakouts(closed)
	return closed, nil
}

func sortBreakouts(list []*domain.Breakout) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].Name < list[j].Name
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
