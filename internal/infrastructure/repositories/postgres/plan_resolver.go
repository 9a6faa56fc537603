package postgres

import (
	"context"
	"errors"
	"fmt"

	"meetsignal/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// PlanResolver reads the plan of a tenant's subscription. Tenants without a
// subscription that grants access are on the free plan.
type PlanResolver struct {
	db querier
}

const resolvePlanSQL = `
	SELECT p.tier, p.max_participants, p.max_meeting_duration_minutes,
	       p.breakout_rooms, p.waiting_rooms, p.recording_enabled
	FROM subscriptions s
	JOIN plans p ON p.id = s.plan_id
	WHERE s.organization_id = $1
	  AND (s.status IN ('active', 'trialing', 'past_due') OR s.is_complimentary)`

func (r *PlanResolver) ResolvePlan(ctx context.Context, tenant domain.TenantID) (domain.PlanLimits, error) {
	if tenant == "" {
		return domain.FreePlan(), nil
	}
	return scanPlan(r.db.QueryRow(ctx, resolvePlanSQL, string(tenant)))
}

func scanPlan(row pgx.Row) (domain.PlanLimits, error) {
	var (
		plan                  domain.PlanLimits
		tier                  string
		participants, minutes int
	)
	err := row.Scan(&tier, &participants, &minutes, &plan.BreakoutRoomsEnabled, &plan.WaitingRoomEnabled, &plan.RecordingEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FreePlan(), nil
	}
	if err != nil {
		return domain.PlanLimits{}, fmt.Errorf("failed to resolve plan: %w", err)
	}

	plan.Tier = domain.PlanTier(tier)
	plan.MaxParticipants = domain.ParticipantsFromLimit(participants)
	plan.MaxDuration = domain.DurationFromMinutes(minutes)
	return plan, nil
}
