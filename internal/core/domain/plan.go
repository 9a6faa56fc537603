package domain

import "time"

type PlanTier string

const (
	TierFree     PlanTier = "free"
	TierPro      PlanTier = "pro"
	TierBusiness PlanTier = "business"
)

// PlanLimits are the resolved entitlements of a tenant. A zero MaxParticipants
// or MaxDuration means unlimited.
type PlanLimits struct {
	Tier                 PlanTier
	MaxParticipants      int
	MaxDuration          time.Duration
	BreakoutRoomsEnabled bool
	WaitingRoomEnabled   bool
	RecordingEnabled     bool
}

// HasDurationLimit reports whether sessions under this plan are time-boxed.
func (p PlanLimits) HasDurationLimit() bool {
	return p.MaxDuration > 0
}

// Admits reports whether a room holding count participants is within the limit.
func (p PlanLimits) Admits(count int64) bool {
	return p.MaxParticipants <= 0 || count <= int64(p.MaxParticipants)
}

// ParticipantsFromLimit converts a stored participant cap; -1 means unlimited.
func ParticipantsFromLimit(limit int) int {
	if limit < 0 {
		return 0
	}
	return limit
}

// DurationFromMinutes converts a stored minute count; -1 or 0 means unlimited.
func DurationFromMinutes(minutes int) time.Duration {
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

// FreePlan is the entitlement of tenants without an active subscription.
func FreePlan() PlanLimits {
	return PlanLimits{
		Tier:            TierFree,
		MaxParticipants: 4,
		MaxDuration:     30 * time.Minute,
	}
}

// PlanForTier returns the built-in limits for a tier. Unknown tiers get FreePlan.
func PlanForTier(tier PlanTier) PlanLimits {
	switch tier {
	case TierPro:
		return PlanLimits{Tier: TierPro, MaxParticipants: 100, RecordingEnabled: true}
	case TierBusiness:
		return PlanLimits{
			Tier:                 TierBusiness,
			MaxParticipants:      200,
			RecordingEnabled:     true,
			BreakoutRoomsEnabled: true,
			WaitingRoomEnabled:   true,
		}
	default:
		return FreePlan()
	}
}
