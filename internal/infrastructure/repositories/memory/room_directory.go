package memory

import (
	"context"
	"sync"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/pkg/config"
)

// MemoryRoomDirectory serves rooms seeded from configuration. It also acts as
// the plan resolver for those rooms' tenants.
type MemoryRoomDirectory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.Room
	tiers map[domain.TenantID]domain.PlanTier
}

func NewMemoryRoomDirectory() *MemoryRoomDirectory {
	return &MemoryRoomDirectory{
		rooms: make(map[domain.RoomID]*domain.Room),
		tiers: make(map[domain.TenantID]domain.PlanTier),
	}
}

// NewSeededRoomDirectory loads the dev rooms of cfg.
func NewSeededRoomDirectory(rooms []config.DevRoom) *MemoryRoomDirectory {
	d := NewMemoryRoomDirectory()
	for _, r := range rooms {
		tenant := domain.TenantID(r.TenantID)
		if tenant == "" {
			tenant = domain.TenantID(r.RoomID)
		}
		d.Put(&domain.Room{
			ID:             domain.RoomID(r.RoomID),
			TenantID:       tenant,
			ModeratorID:    domain.ParticipantID(r.ModeratorID),
			Name:           r.Name,
			ModeratorToken: r.ModeratorToken,
			AttendeeToken:  r.AttendeeToken,
			Locked:         r.Locked,
		}, domain.PlanTier(r.Tier))
	}
	return d
}

var (
	_ ports.RoomDirectory = (*MemoryRoomDirectory)(nil)
	_ ports.PlanResolver  = (*MemoryRoomDirectory)(nil)
)

// Put adds or replaces a room and records its tenant's tier.
func (d *MemoryRoomDirectory) Put(room *domain.Room, tier domain.PlanTier) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := *room
	d.rooms[room.ID] = &stored
	if tier != "" {
		d.tiers[room.TenantID] = tier
	}
}

func (d *MemoryRoomDirectory) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	room, ok := d.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	out := *room
	return &out, nil
}

// ResolvePlan returns the built-in limits of the tenant's tier; tenants
// without a tier are on the free plan.
func (d *MemoryRoomDirectory) ResolvePlan(_ context.Context, tenant domain.TenantID) (domain.PlanLimits, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return domain.PlanForTier(d.tiers[tenant]), nil
}
