package services

import (
	"context"
	"fmt"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"go.uber.org/zap"
)

const featureRecording = "recording"

type moderationService struct {
	verifier *ModeratorVerifier
	bus      ports.Broadcaster
	logger   *zap.SugaredLogger
}

func NewModerationService(verifier *ModeratorVerifier, bus ports.Broadcaster, logger *zap.SugaredLogger) ports.ModerationService {
	return &moderationService{
		verifier: verifier,
		bus:      bus,
		logger:   logger,
	}
}

// Kick notifies the target on its user channel and room connections, which
// close themselves, then tells the rest of the room.
func (s *moderationService) Kick(ctx context.Context, roomID domain.RoomID, actor domain.Actor, target domain.ParticipantID) error {
	if target == "" {
		return fmt.Errorf("%w: kick target required", domain.ErrInvalidEvent)
	}
	room, err := s.verifier.Verify(ctx, roomID, actor)
	if err != nil {
		return err
	}
	if target == actor.ParticipantID {
		return fmt.Errorf("%w: cannot kick yourself", domain.ErrInvalidEvent)
	}

	err = emit(ctx, s.bus, domain.EventKicked,
		domain.ModeratorPayload{ModeratorID: actor.ParticipantID},
		"", domain.UserGroup(target), domain.ParticipantGroup(room.ID, target))
	if err != nil {
		return err
	}

	s.logger.Infow("Participant kicked",
		"room_id", room.ID,
		"participant_id", target,
		"moderator_id", actor.ParticipantID,
	)
	return emit(ctx, s.bus, domain.EventUserKicked,
		domain.UserKickedPayload{TargetUserID: target, ModeratorID: actor.ParticipantID},
		actor.ConnectionID, domain.RoomGroup(room.ID))
}

func (s *moderationService) MuteAll(ctx context.Context, roomID domain.RoomID, actor domain.Actor) error {
	room, err := s.verifier.Verify(ctx, roomID, actor)
	if err != nil {
		return err
	}
	return emit(ctx, s.bus, domain.EventMuteAll,
		domain.ModeratorPayload{ModeratorID: actor.ParticipantID},
		actor.ConnectionID, domain.RoomGroup(room.ID))
}

func (s *moderationService) EndMeeting(ctx context.Context, roomID domain.RoomID, actor domain.Actor) error {
	room, err := s.verifier.Verify(ctx, roomID, actor)
	if err != nil {
		return err
	}
	s.logger.Infow("Meeting ended", "room_id", room.ID, "moderator_id", actor.ParticipantID)
	return emit(ctx, s.bus, domain.EventMeetingEnded,
		domain.ModeratorPayload{ModeratorID: actor.ParticipantID},
		actor.ConnectionID, domain.RoomGroup(room.ID))
}

func (s *moderationService) SetRecording(ctx context.Context, roomID domain.RoomID, actor domain.Actor, started bool) error {
	room, err := s.verifier.RequireFeature(ctx, roomID, actor, featureRecording, func(p domain.PlanLimits) bool {
		return p.RecordingEnabled
	})
	if err != nil {
		return err
	}

	t := domain.EventRecordingStopped
	if started {
		t = domain.EventRecordingStarted
	}
	return emit(ctx, s.bus, t,
		domain.ModeratorPayload{ModeratorID: actor.ParticipantID},
		actor.ConnectionID, domain.RoomGroup(room.ID))
}

// Broadcast relays a prepared event to the room on a moderator's behalf.
func (s *moderationService) Broadcast(ctx context.Context, roomID domain.RoomID, actor domain.Actor, ev domain.Event) error {
	room, err := s.verifier.Verify(ctx, roomID, actor)
	if err != nil {
		return err
	}
	return s.bus.Broadcast(ctx, domain.RoomGroup(room.ID), ev, actor.ConnectionID)
}
