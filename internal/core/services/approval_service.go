package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"go.uber.org/zap"
)

// requestGrace keeps a stored join request alive past its timer so the
// timeout path can still take it.
const requestGrace = 30 * time.Second

const reasonTimeout = "timeout"

type ApprovalConfig struct {
	// RequestTTL is how long a join request waits for a decision before it is denied.
	RequestTTL time.Duration
	// PendingTTL bounds how long an approval can wait for confirmation.
	PendingTTL time.Duration
}

// ApprovalService runs the waiting-room flow: join request, moderator
// decision, and the one-shot confirmation that consumes an approval.
type ApprovalService struct {
	cfg       ApprovalConfig
	directory ports.RoomDirectory
	verifier  *ModeratorVerifier
	store     ports.ApprovalStore
	bus       ports.Broadcaster
	tasks     ports.TaskDispatcher
	grants    ports.AccessGrantRepository
	metrics   Metrics
	logger    *zap.SugaredLogger
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) (stop func() bool)

	mu     sync.Mutex
	timers map[requestKey]*requestTimer
}

type requestKey struct {
	room        domain.RoomID
	participant domain.ParticipantID
}

type requestTimer struct {
	stop func() bool
}

func NewApprovalService(
	cfg ApprovalConfig,
	directory ports.RoomDirectory,
	verifier *ModeratorVerifier,
	store ports.ApprovalStore,
	bus ports.Broadcaster,
	tasks ports.TaskDispatcher,
	grants ports.AccessGrantRepository,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *ApprovalService {
	return &ApprovalService{
		cfg:       cfg,
		directory: directory,
		verifier:  verifier,
		store:     store,
		bus:       bus,
		tasks:     tasks,
		grants:    grants,
		metrics:   metricsOrNop(metrics),
		logger:    logger,
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		timers: make(map[requestKey]*requestTimer),
	}
}

var _ ports.ApprovalService = (*ApprovalService)(nil)

// RequestJoin records a join request and notifies the room's moderators.
// Requests for rooms that are not locked are approved on the spot.
func (s *ApprovalService) RequestJoin(ctx context.Context, req domain.JoinRequest) error {
	room, err := s.directory.GetRoom(ctx, req.RoomID)
	if err != nil {
		return err
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = s.now()
	}

	if !room.Locked {
		return s.approve(ctx, room, req.ParticipantID, room.ModeratorID, "",
			domain.UserGroup(req.ParticipantID),
			domain.ParticipantGroup(room.ID, req.ParticipantID),
		)
	}

	if err := s.store.PutRequest(ctx, req, s.cfg.RequestTTL+requestGrace); err != nil {
		return fmt.Errorf("store join request: %w", err)
	}
	s.arm(requestKey{room: room.ID, participant: req.ParticipantID})
	s.metrics.RecordApproval("requested")

	s.logger.Infow("Join request received",
		"room_id", room.ID,
		"participant_id", req.ParticipantID,
	)

	payload := domain.JoinRequestPayload{UserID: req.ParticipantID, Username: req.DisplayName, RoomID: room.ID}
	if err := emit(ctx, s.bus, domain.EventAlert, payload, "", domain.UserGroup(room.ModeratorID)); err != nil {
		return err
	}
	return emit(ctx, s.bus, domain.EventAlert, payload, req.ConnectionID, domain.RoomGroup(room.ID))
}

// Decide applies a moderator's decision to a pending request.
func (s *ApprovalService) Decide(ctx context.Context, roomID domain.RoomID, actor domain.Actor, participant domain.ParticipantID, approved bool) error {
	room, err := s.verifier.Verify(ctx, roomID, actor)
	if err != nil {
		return err
	}

	req, err := s.store.TakeRequest(ctx, roomID, participant)
	if err != nil {
		return fmt.Errorf("take join request: %w", err)
	}
	if req == nil {
		return domain.ErrNoPendingRequest
	}
	s.disarm(requestKey{room: roomID, participant: participant})

	audience := []domain.GroupKey{
		domain.UserGroup(participant),
		domain.ParticipantGroup(roomID, participant),
		domain.RoomGroup(roomID),
	}
	if approved {
		return s.approve(ctx, room, participant, actor.ParticipantID, actor.ConnectionID, audience...)
	}

	s.metrics.RecordApproval("denied")
	s.logger.Infow("Join request denied", "room_id", roomID, "participant_id", participant)
	return emit(ctx, s.bus, domain.EventAlertResponse,
		domain.DecisionPayload{UserID: participant, Approved: false, RoomID: roomID},
		actor.ConnectionID, audience...)
}

// approve stores the pending approval and queues the access grant before the
// decision goes out.
func (s *ApprovalService) approve(ctx context.Context, room *domain.Room, participant, by domain.ParticipantID, exclude domain.ConnectionID, audience ...domain.GroupKey) error {
	approval := domain.PendingApproval{
		RoomID:        room.ID,
		ParticipantID: participant,
		ApprovedBy:    by,
		ApprovedAt:    s.now(),
	}
	if err := s.store.PutApproval(ctx, approval, s.cfg.PendingTTL); err != nil {
		return fmt.Errorf("store approval: %w", err)
	}
	if !participant.IsGuest() {
		s.dispatchGrant(ctx, room, participant)
	}

	s.metrics.RecordApproval("approved")
	s.logger.Infow("Join request approved",
		"room_id", room.ID,
		"participant_id", participant,
		"approved_by", by,
	)
	return emit(ctx, s.bus, domain.EventAlertResponse,
		domain.DecisionPayload{UserID: participant, Approved: true, RoomID: room.ID},
		exclude, audience...)
}

func (s *ApprovalService) dispatchGrant(ctx context.Context, room *domain.Room, participant domain.ParticipantID) {
	grant := domain.AccessGrant{
		RoomID:      room.ID,
		UserID:      participant,
		AuthorID:    room.ModeratorID,
		MeetingName: room.Name,
		GrantedAt:   s.now(),
	}
	err := s.tasks.Dispatch(ctx, ports.Task{
		Name: "access_grant",
		Run: func(ctx context.Context) error {
			return s.grants.Grant(ctx, grant)
		},
	})
	if err != nil {
		s.logger.Warnw("Failed to queue access grant",
			"room_id", room.ID,
			"participant_id", participant,
			"error", err,
		)
	}
}

// Confirm consumes the participant's approval. Without one it fails with
// domain.ErrAccessDenied.
func (s *ApprovalService) Confirm(ctx context.Context, room domain.RoomID, participant domain.ParticipantID) error {
	approval, err := s.store.TakeApproval(ctx, room, participant)
	if err != nil {
		return fmt.Errorf("take approval: %w", err)
	}
	if approval == nil {
		return domain.ErrAccessDenied
	}
	s.metrics.RecordApproval("confirmed")
	return nil
}

// Withdraw drops a request whose requester went away. Only the connection
// that filed the request can withdraw it; other sockets sharing the identity
// leave it and its timeout alone.
func (s *ApprovalService) Withdraw(ctx context.Context, room domain.RoomID, participant domain.ParticipantID, conn domain.ConnectionID) error {
	removed, err := s.store.WithdrawRequest(ctx, room, participant, conn)
	if err != nil {
		return fmt.Errorf("withdraw join request: %w", err)
	}
	if !removed {
		return nil
	}
	s.disarm(requestKey{room: room, participant: participant})
	s.metrics.RecordApproval("withdrawn")
	return nil
}

// Pending returns the number of requests with a live timeout on this instance.
func (s *ApprovalService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every timeout. Stored requests expire on their own.
func (s *ApprovalService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.stop()
		delete(s.timers, key)
	}
}

func (s *ApprovalService) arm(key requestKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[key]; ok {
		old.stop()
	}
	t := &requestTimer{}
	t.stop = s.afterFunc(s.cfg.RequestTTL, func() { s.expire(key, t) })
	s.timers[key] = t
}

func (s *ApprovalService) disarm(key requestKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.stop()
		delete(s.timers, key)
	}
}

// expire auto-denies a request nobody decided on in time.
func (s *ApprovalService) expire(key requestKey, t *requestTimer) {
	s.mu.Lock()
	if s.timers[key] != t {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := s.store.TakeRequest(ctx, key.room, key.participant)
	if err != nil {
		s.logger.Warnw("Failed to expire join request",
			"room_id", key.room,
			"participant_id", key.participant,
			"error", err,
		)
		return
	}
	if req == nil {
		return
	}

	s.metrics.RecordApproval("expired")
	s.logger.Infow("Join request timed out", "room_id", key.room, "participant_id", key.participant)

	err = emit(ctx, s.bus, domain.EventAlertResponse,
		domain.DecisionPayload{UserID: key.participant, Approved: false, RoomID: key.room, Reason: reasonTimeout},
		"",
		domain.UserGroup(key.participant),
		domain.ParticipantGroup(key.room, key.participant),
		domain.RoomGroup(key.room),
	)
	if err != nil {
		s.logger.Warnw("Failed to relay join request timeout", "room_id", key.room, "error", err)
	}
}
