package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/pkg/distributed"
	"meetsignal/pkg/utils"
	"meetsignal/pkg/validation"

	"go.uber.org/zap"
)

const featureBreakouts = "breakout rooms"

// createAttempts bounds how often Create draws fresh ids after a clash.
const createAttempts = 3

type BreakoutConfig struct {
	MaxPerRoom    int
	AssignmentTTL time.Duration
}

type breakoutService struct {
	cfg         BreakoutConfig
	verifier    *ModeratorVerifier
	repo        ports.BreakoutRepository
	assignments ports.AssignmentStore
	locker      distributed.Locker
	bus         ports.Broadcaster
	logger      *zap.SugaredLogger
	now         func() time.Time
	newID       func() domain.BreakoutID
}

func NewBreakoutService(
	cfg BreakoutConfig,
	verifier *ModeratorVerifier,
	repo ports.BreakoutRepository,
	assignments ports.AssignmentStore,
	locker distributed.Locker,
	bus ports.Broadcaster,
	logger *zap.SugaredLogger,
) ports.BreakoutService {
	return &breakoutService{
		cfg:         cfg,
		verifier:    verifier,
		repo:        repo,
		assignments: assignments,
		locker:      locker,
		bus:         bus,
		logger:      logger,
		now:         time.Now,
		newID:       func() domain.BreakoutID { return domain.BreakoutID(utils.GenerateBreakoutID()) },
	}
}

func (s *breakoutService) requireModerator(ctx context.Context, room domain.RoomID, actor domain.Actor) (*domain.Room, error) {
	return s.verifier.RequireFeature(ctx, room, actor, featureBreakouts, func(p domain.PlanLimits) bool {
		return p.BreakoutRoomsEnabled
	})
}

func lockKey(room domain.RoomID) string {
	return "breakout:" + string(room)
}

func (s *breakoutService) Create(ctx context.Context, roomID domain.RoomID, actor domain.Actor, names []string) ([]*domain.Breakout, error) {
	if err := validation.ValidateBreakoutNames(names, s.cfg.MaxPerRoom); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	room, err := s.requireModerator(ctx, roomID, actor)
	if err != nil {
		return nil, err
	}

	var created []*domain.Breakout
	err = s.locker.WithLock(ctx, lockKey(room.ID), func(ctx context.Context) error {
		active, err := s.repo.ListActive(ctx, room.ID)
		if err != nil {
			return fmt.Errorf("list breakouts: %w", err)
		}
		if len(active)+len(names) > s.cfg.MaxPerRoom {
			return fmt.Errorf("%w: %d open, %d requested, max %d",
				domain.ErrTooManyBreakouts, len(active), len(names), s.cfg.MaxPerRoom)
		}

		now := s.now()
		var batch []*domain.Breakout
		for attempt := 1; ; attempt++ {
			batch = s.newBatch(room.ID, actor.ParticipantID, names, now)
			err := s.repo.CreateBatch(ctx, batch)
			if err == nil {
				break
			}
			if !errors.Is(err, domain.ErrDuplicateBreakout) || attempt == createAttempts {
				return fmt.Errorf("create breakouts: %w", err)
			}
			s.logger.Infow("Breakout id clash, drawing new ids", "room_id", room.ID, "attempt", attempt)
		}
		created = batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("Breakouts created", "room_id", room.ID, "count", len(created))
	if err := emit(ctx, s.bus, domain.EventBreakoutCreated,
		domain.BreakoutsPayload{RoomID: room.ID, Breakouts: created},
		"", domain.RoomGroup(room.ID)); err != nil {
		s.logger.Warnw("Failed to announce breakouts", "room_id", room.ID, "error", err)
	}
	return created, nil
}

// newBatch builds one breakout per name with ids distinct within the batch.
func (s *breakoutService) newBatch(room domain.RoomID, by domain.ParticipantID, names []string, now time.Time) []*domain.Breakout {
	batch := make([]*domain.Breakout, 0, len(names))
	used := make(map[domain.BreakoutID]struct{}, len(names))
	for _, name := range names {
		id := s.newID()
		for i := 0; i < createAttempts; i++ {
			if _, taken := used[id]; !taken {
				break
			}
			id = s.newID()
		}
		used[id] = struct{}{}
		batch = append(batch, &domain.Breakout{
			ID:           id,
			ParentRoomID: room,
			Name:         strings.TrimSpace(name),
			IsActive:     true,
			CreatedBy:    by,
			CreatedAt:    now,
		})
	}
	return batch
}

func (s *breakoutService) Assign(ctx context.Context, roomID domain.RoomID, actor domain.Actor, assignments []domain.Assignment) error {
	if len(assignments) == 0 {
		return fmt.Errorf("%w: no assignments", domain.ErrInvalidEvent)
	}
	for _, a := range assignments {
		if err := validation.ValidateParticipantID(string(a.ParticipantID)); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
		}
	}
	room, err := s.requireModerator(ctx, roomID, actor)
	if err != nil {
		return err
	}

	breakouts := make(map[domain.BreakoutID]*domain.Breakout)
	for _, a := range assignments {
		if _, seen := breakouts[a.BreakoutID]; seen {
			continue
		}
		b, err := s.activeBreakout(ctx, room.ID, a.BreakoutID)
		if err != nil {
			return err
		}
		breakouts[a.BreakoutID] = b
	}

	if err := s.assignments.Assign(ctx, room.ID, assignments, s.cfg.AssignmentTTL); err != nil {
		return fmt.Errorf("store assignments: %w", err)
	}

	var errs []error
	for _, a := range assignments {
		b := breakouts[a.BreakoutID]
		errs = append(errs, emit(ctx, s.bus, domain.EventBreakoutAssigned,
			domain.BreakoutAssignedPayload{RoomID: room.ID, BreakoutID: b.ID, Name: b.Name},
			"", domain.ParticipantGroup(room.ID, a.ParticipantID)))
	}
	s.logger.Infow("Breakout assignments stored", "room_id", room.ID, "count", len(assignments))
	return errors.Join(errs...)
}

func (s *breakoutService) activeBreakout(ctx context.Context, room domain.RoomID, id domain.BreakoutID) (*domain.Breakout, error) {
	b, err := s.repo.GetByID(ctx, room, id)
	if err != nil {
		return nil, err
	}
	if !b.IsActive {
		return nil, fmt.Errorf("%w: %s is closed", domain.ErrBreakoutNotFound, id)
	}
	return b, nil
}

// Join checks the participant's assignment. The caller moves the connection
// into the breakout group once it returns.
func (s *breakoutService) Join(ctx context.Context, room domain.RoomID, participant domain.ParticipantID, breakout domain.BreakoutID, conn domain.ConnectionID) (*domain.Breakout, error) {
	assigned, err := s.assignments.Lookup(ctx, room, participant)
	if err != nil {
		return nil, fmt.Errorf("lookup assignment: %w", err)
	}
	if assigned != breakout {
		return nil, domain.ErrBreakoutNotAssigned
	}

	b, err := s.activeBreakout(ctx, room, breakout)
	if err != nil {
		return nil, err
	}

	if err := emit(ctx, s.bus, domain.EventBreakoutJoined,
		domain.BreakoutMemberPayload{BreakoutID: breakout, UserID: participant},
		conn, domain.BreakoutGroup(room, breakout)); err != nil {
		s.logger.Warnw("Failed to announce breakout join", "room_id", room, "breakout_id", breakout, "error", err)
	}
	return b, nil
}

func (s *breakoutService) Leave(ctx context.Context, room domain.RoomID, participant domain.ParticipantID, breakout domain.BreakoutID, conn domain.ConnectionID) error {
	if err := s.assignments.Clear(ctx, room, participant); err != nil {
		return fmt.Errorf("clear assignment: %w", err)
	}
	return emit(ctx, s.bus, domain.EventBreakoutReturned,
		domain.BreakoutMemberPayload{BreakoutID: breakout, UserID: participant},
		conn, domain.BreakoutGroup(room, breakout))
}

func (s *breakoutService) Broadcast(ctx context.Context, roomID domain.RoomID, actor domain.Actor, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("%w: empty message", domain.ErrInvalidEvent)
	}
	room, err := s.requireModerator(ctx, roomID, actor)
	if err != nil {
		return err
	}

	active, err := s.repo.ListActive(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("list breakouts: %w", err)
	}
	groups := make([]domain.GroupKey, 0, len(active))
	for _, b := range active {
		groups = append(groups, domain.BreakoutGroup(room.ID, b.ID))
	}
	return emit(ctx, s.bus, domain.EventBreakoutMessage,
		domain.BreakoutMessagePayload{ModeratorID: actor.ParticipantID, Message: message},
		actor.ConnectionID, groups...)
}

// CloseAll deactivates every open breakout of the room in one step and tells
// their members to return to the parent room.
func (s *breakoutService) CloseAll(ctx context.Context, roomID domain.RoomID, actor domain.Actor) ([]*domain.Breakout, error) {
	room, err := s.requireModerator(ctx, roomID, actor)
	if err != nil {
		return nil, err
	}

	var closed []*domain.Breakout
	err = s.locker.WithLock(ctx, lockKey(room.ID), func(ctx context.Context) error {
		var err error
		closed, err = s.repo.CloseAll(ctx, room.ID, s.now())
		if err != nil {
			return fmt.Errorf("close breakouts: %w", err)
		}
		if err := s.assignments.ClearRoom(ctx, room.ID); err != nil {
			s.logger.Warnw("Failed to clear breakout assignments", "room_id", room.ID, "error", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, b := range closed {
		if err := emit(ctx, s.bus, domain.EventBreakoutClosed,
			domain.BreakoutClosedPayload{RoomID: room.ID, BreakoutID: b.ID},
			"", domain.BreakoutGroup(room.ID, b.ID)); err != nil {
			s.logger.Warnw("Failed to announce breakout close", "room_id", room.ID, "breakout_id", b.ID, "error", err)
		}
	}
	s.logger.Infow("Breakouts closed", "room_id", room.ID, "count", len(closed))
	return closed, nil
}

func (s *breakoutService) List(ctx context.Context, room domain.RoomID) ([]*domain.Breakout, error) {
	return s.repo.ListActive(ctx, room)
}
