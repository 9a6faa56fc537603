package services

import (
	"context"
	"errors"
	"fmt"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
)

// ModeratorVerifier checks privileged actors against the persisted room owner.
// It reads the directory without a cache so a revoked moderator link takes
// effect immediately.
type ModeratorVerifier struct {
	directory ports.RoomDirectory
	plans     ports.PlanResolver
}

func NewModeratorVerifier(directory ports.RoomDirectory, plans ports.PlanResolver) *ModeratorVerifier {
	return &ModeratorVerifier{directory: directory, plans: plans}
}

// Verify returns the room when actor moderates it. Directory failures other
// than an unknown room reject the actor.
func (v *ModeratorVerifier) Verify(ctx context.Context, roomID domain.RoomID, actor domain.Actor) (*domain.Room, error) {
	room, err := v.directory.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot verify moderator of %s: %v", domain.ErrNotModerator, roomID, err)
	}
	if !room.IsModerator(actor) {
		return nil, domain.ErrNotModerator
	}
	return room, nil
}

// RequireFeature verifies actor and checks the room's plan with enabled. An
// unreachable plan resolver rejects the action.
func (v *ModeratorVerifier) RequireFeature(ctx context.Context, roomID domain.RoomID, actor domain.Actor, feature string, enabled func(domain.PlanLimits) bool) (*domain.Room, error) {
	room, err := v.Verify(ctx, roomID, actor)
	if err != nil {
		return nil, err
	}
	plan, err := v.plans.ResolvePlan(ctx, room.TenantID)
	if err != nil {
		return nil, &domain.FeatureError{Feature: feature, Cause: err}
	}
	if !enabled(plan) {
		return nil, &domain.FeatureError{Feature: feature}
	}
	return room, nil
}
