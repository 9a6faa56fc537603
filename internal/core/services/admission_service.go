package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Admission outcomes as reported to metrics.
const (
	admitted         = "admitted"
	admittedUncount  = "admitted_uncounted"
	rejectedNotFound = "room_not_found"
	rejectedDenied   = "access_denied"
	rejectedCapacity = "capacity_exceeded"
	admissionFailed  = "error"
)

type admissionService struct {
	directory   ports.RoomDirectory
	plans       ports.PlanResolver
	counter     ports.PresenceCounter
	clocks      ports.SessionClockStore
	assignments ports.AssignmentStore
	watchdogs   ports.WatchdogManager
	defaultPlan domain.PlanLimits
	metrics     Metrics
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewAdmissionService gates room entry. defaultPlan applies when the plan
// resolver cannot be reached.
func NewAdmissionService(
	directory ports.RoomDirectory,
	plans ports.PlanResolver,
	counter ports.PresenceCounter,
	clocks ports.SessionClockStore,
	assignments ports.AssignmentStore,
	watchdogs ports.WatchdogManager,
	defaultPlan domain.PlanLimits,
	metrics Metrics,
	logger *zap.SugaredLogger,
) ports.AdmissionService {
	return &admissionService{
		directory:   directory,
		plans:       plans,
		counter:     counter,
		clocks:      clocks,
		assignments: assignments,
		watchdogs:   watchdogs,
		defaultPlan: defaultPlan,
		metrics:     metricsOrNop(metrics),
		logger:      logger,
		now:         time.Now,
	}
}

func (s *admissionService) Admit(ctx context.Context, req ports.AdmitRequest) (*domain.Admission, error) {
	start := time.Now()
	ctx, span := tracing.TraceAdmission(ctx, string(req.RoomID), string(req.ParticipantID))
	defer span.End()

	adm, result, err := s.admit(ctx, req)
	s.metrics.RecordAdmission(result, time.Since(start))
	tracing.AddSpanAttributes(ctx, attribute.String("admission.result", result))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return adm, nil
}

func (s *admissionService) admit(ctx context.Context, req ports.AdmitRequest) (*domain.Admission, string, error) {
	room, err := s.directory.GetRoom(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, rejectedNotFound, err
		}
		return nil, admissionFailed, fmt.Errorf("resolve room %s: %w", req.RoomID, err)
	}

	class, err := room.ClassifyToken(req.LinkToken)
	if err != nil {
		return nil, rejectedDenied, err
	}

	plan := s.resolvePlan(ctx, room)

	counted := true
	count, err := s.counter.Increment(ctx, room.ID)
	if err != nil {
		s.logger.Warnw("Presence store unavailable, admitting without reservation",
			"room_id", room.ID,
			"participant_id", req.ParticipantID,
			"error", err,
		)
		counted = false
		count = 0
	} else if !plan.Admits(count) {
		if _, derr := s.counter.Decrement(ctx, room.ID); derr != nil {
			s.logger.Errorw("Failed to return rejected reservation",
				"room_id", room.ID,
				"error", derr,
			)
		}
		return nil, rejectedCapacity, fmt.Errorf("%w: room %s is at %d of %d",
			domain.ErrCapacityExceeded, room.ID, count-1, plan.MaxParticipants)
	}

	tracked := false
	var clock *domain.SessionClock
	if plan.HasDurationLimit() {
		c := s.startClock(ctx, room.ID, plan)
		clock = &c
		s.watchdogs.Track(room.ID, c)
		tracked = true
	}

	adm := domain.NewAdmission(room, plan, count, counted, s.releaser(room.ID, counted, tracked))
	adm.LinkClass = class
	adm.Clock = clock

	s.logger.Debugw("Participant admitted",
		"room_id", room.ID,
		"participant_id", req.ParticipantID,
		"count", count,
		"max_participants", plan.MaxParticipants,
		"link_class", class,
	)

	if !counted {
		return adm, admittedUncount, nil
	}
	return adm, admitted, nil
}

func (s *admissionService) resolvePlan(ctx context.Context, room *domain.Room) domain.PlanLimits {
	plan, err := s.plans.ResolvePlan(ctx, room.TenantID)
	if err != nil {
		s.logger.Warnw("Plan resolver unavailable, using default plan",
			"room_id", room.ID,
			"tenant_id", room.TenantID,
			"error", err,
		)
		return s.defaultPlan
	}
	return plan
}

// startClock returns the room's running clock, starting it if this is the
// first admission. The local clock stands in when the store is down.
func (s *admissionService) startClock(ctx context.Context, room domain.RoomID, plan domain.PlanLimits) domain.SessionClock {
	local := domain.SessionClock{RoomID: room, StartedAt: s.now(), DurationLimit: plan.MaxDuration}
	clock, err := s.clocks.StartIfAbsent(ctx, local)
	if err != nil {
		s.logger.Warnw("Session clock store unavailable",
			"room_id", room,
			"error", err,
		)
		return local
	}
	return clock
}

func (s *admissionService) releaser(room domain.RoomID, counted, tracked bool) func(ctx context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		if tracked {
			s.watchdogs.Untrack(room)
		}

		var (
			remaining int64
			err       error
		)
		if counted {
			remaining, err = s.counter.Decrement(ctx, room)
		} else {
			remaining, err = s.counter.Count(ctx, room)
		}
		if err != nil {
			return 0, fmt.Errorf("release slot in %s: %w", room, err)
		}
		if remaining == 0 {
			s.cleanupRoom(ctx, room)
		}
		return remaining, nil
	}
}

// cleanupRoom drops per-session state once the last participant has left.
func (s *admissionService) cleanupRoom(ctx context.Context, room domain.RoomID) {
	if err := s.clocks.Delete(ctx, room); err != nil {
		s.logger.Warnw("Failed to delete session clock", "room_id", room, "error", err)
	}
	if err := s.assignments.ClearRoom(ctx, room); err != nil {
		s.logger.Warnw("Failed to clear breakout assignments", "room_id", room, "error", err)
	}
	s.logger.Infow("Room emptied", "room_id", room)
}

func (s *admissionService) Presence(ctx context.Context, room domain.RoomID) (int64, error) {
	return s.counter.Count(ctx, room)
}
