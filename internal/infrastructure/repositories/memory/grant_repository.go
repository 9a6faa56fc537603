package memory

import (
	"context"
	"sync"

	"meetsignal/internal/core/domain"
)

type grantKey struct {
	room domain.RoomID
	user domain.ParticipantID
}

// MemoryAccessGrantRepository records grants keyed by room and user.
type MemoryAccessGrantRepository struct {
	mu     sync.Mutex
	grants map[grantKey]domain.AccessGrant
}

func NewMemoryAccessGrantRepository() *MemoryAccessGrantRepository {
	return &MemoryAccessGrantRepository{grants: make(map[grantKey]domain.AccessGrant)}
}

func (r *MemoryAccessGrantRepository) Grant(_ context.Context, grant domain.AccessGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := grantKey{room: grant.RoomID, user: grant.UserID}
	if _, exists := r.grants[key]; !exists {
		r.grants[key] = grant
	}
	return nil
}

// Has reports whether user holds a grant for room.
func (r *MemoryAccessGrantRepository) Has(room domain.RoomID, user domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.grants[grantKey{room: room, user: user}]
	return ok
}
