package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/pkg/logger"
	"meetsignal/pkg/tracing"
	"meetsignal/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const cleanupTimeout = 5 * time.Second

// roomSession is the state of one room socket. The read loop, the write pump
// intercept and approval follow-ups all touch it, so mutable fields sit
// behind mu.
type roomSession struct {
	srv       *Server
	conn      *Connection
	ctx       context.Context
	cancel    context.CancelFunc
	log       *zap.SugaredLogger
	roomID    domain.RoomID
	room      *domain.Room
	admission *domain.Admission
	ident     identity
	actor     domain.Actor
	moderator bool
	limiter   *rate.Limiter
	openedAt  time.Time

	mu         sync.Mutex
	joined     bool
	confirming bool
	closed     bool
	breakout   domain.BreakoutID
	groups     map[domain.GroupKey]struct{}
}

// HandleRoom serves GET /ws/room/:room_id. The socket is upgraded before any
// check so refusals reach the client as close codes.
func (s *Server) HandleRoom(w http.ResponseWriter, r *http.Request, code string) {
	ws, ok := s.upgrade(w, r, socketRoom)
	if !ok {
		return
	}

	rc, err := validation.ParseRoomCode(code)
	if err != nil {
		s.refuse(ws, socketRoom, domain.CloseRoomNotFound, "invalid room code")
		return
	}
	roomID := domain.RoomID(rc.Base)
	if rc.Sequence != "" {
		roomID = domain.RoomID(rc.Base + "-" + rc.Sequence)
	}

	ident, err := s.identify(r)
	if err != nil {
		s.refuse(ws, socketRoom, domain.CloseRoomNotFound, err.Error())
		return
	}

	if !s.sockets.acquire(ident.participant, s.cfg.MaxSocketsPerID) {
		s.refuse(ws, socketRoom, domain.CloseCapacityExceeded, "too many sockets")
		return
	}
	defer s.sockets.release(ident.participant)

	linkToken := r.URL.Query().Get("token")
	admitCtx, cancel := context.WithTimeout(context.Background(), s.cfg.AdmitTimeout)
	admission, err := s.deps.Admission.Admit(admitCtx, ports.AdmitRequest{
		RoomID:        roomID,
		ParticipantID: ident.participant,
		LinkToken:     linkToken,
	})
	cancel()
	if err != nil {
		s.refuse(ws, socketRoom, domain.CloseCodeFor(err), publicMessage(err))
		return
	}

	conn := s.newConnection(ws)
	if !s.track(conn) {
		s.releaseAdmission(admission, roomID)
		reject(ws, websocket.CloseGoingAway, reasonShutdown, s.cfg.WriteTimeout)
		return
	}
	defer s.untrack(conn)

	ctx := logger.WithParticipant(logger.WithRoom(context.Background(), string(roomID)), string(ident.participant), string(conn.id))
	ctx, cancelSession := context.WithCancel(ctx)

	actor := domain.Actor{ParticipantID: ident.participant, LinkToken: linkToken, ConnectionID: conn.id}
	rs := &roomSession{
		srv:       s,
		conn:      conn,
		ctx:       ctx,
		cancel:    cancelSession,
		log:       s.ctxLog.Sugared(ctx),
		roomID:    roomID,
		room:      admission.Room,
		admission: admission,
		ident:     ident,
		actor:     actor,
		moderator: admission.LinkClass == domain.LinkModerator || admission.Room.IsModerator(actor),
		limiter:   s.messageLimiter(),
		openedAt:  time.Now(),
		groups:    make(map[domain.GroupKey]struct{}),
	}
	conn.logger = rs.log
	conn.intercept = rs.intercept

	rs.run(domain.BreakoutID(rc.BreakoutID))
}

func (s *Server) releaseAdmission(admission *domain.Admission, room domain.RoomID) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, err := admission.Release(ctx); err != nil {
		s.logger.Warnw("Failed to release admission", "room_id", room, "error", err)
	}
}

func (rs *roomSession) run(autoBreakout domain.BreakoutID) {
	go rs.conn.writePump()
	rs.srv.metrics.ConnectionOpened(socketRoom)
	defer rs.cleanup()

	if rs.ident.guestToken != "" {
		send(rs.conn, domain.EventGuestSession, domain.GuestSessionPayload{
			UserID:     rs.ident.participant,
			GuestToken: rs.ident.guestToken,
		})
	}

	if rs.room.Locked && !rs.moderator {
		// the lobby subscription must exist before the approval lookup, or a
		// decision landing in between is never seen
		rs.wait()
		if err := rs.srv.deps.Approvals.Confirm(rs.ctx, rs.roomID, rs.ident.participant); err == nil {
			rs.join()
		}
	} else {
		rs.join()
	}

	rs.log.Infow("Room socket opened",
		"moderator", rs.moderator,
		"joined", rs.isJoined(),
		"count", rs.admission.Count,
		"counted", rs.admission.Counted,
	)

	if autoBreakout != "" && rs.isJoined() {
		if err := rs.joinBreakout(rs.ctx, autoBreakout); err != nil {
			rs.log.Infow("Breakout auto-join refused, staying in parent room", "breakout_id", autoBreakout, "error", err)
			sendError(rs.conn, domain.EventBreakoutJoin, err)
		}
	}

	go rs.keepRoster()
	rs.srv.readFrames(rs.conn, rs.handleFrame)
}

func (rs *roomSession) subscribe(group domain.GroupKey) error {
	if _, ok := rs.groups[group]; ok {
		return nil
	}
	if err := rs.srv.deps.Bus.Subscribe(rs.ctx, group, rs.conn); err != nil {
		return err
	}
	rs.groups[group] = struct{}{}
	return nil
}

func (rs *roomSession) unsubscribe(group domain.GroupKey) {
	if _, ok := rs.groups[group]; !ok {
		return
	}
	delete(rs.groups, group)
	if err := rs.srv.deps.Bus.Unsubscribe(rs.ctx, group, rs.conn.id); err != nil {
		rs.log.Warnw("Failed to leave group", "group", group, "error", err)
	}
}

// wait parks the socket in the lobby. Only decisions about this participant reach it.
func (rs *roomSession) wait() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.subscribe(domain.ParticipantGroup(rs.roomID, rs.ident.participant)); err != nil {
		rs.log.Warnw("Failed to subscribe waiting socket", "error", err)
	}
}

func (rs *roomSession) join() {
	rs.mu.Lock()
	if rs.closed || rs.joined {
		rs.mu.Unlock()
		return
	}
	for _, g := range []domain.GroupKey{
		domain.RoomGroup(rs.roomID),
		domain.ParticipantGroup(rs.roomID, rs.ident.participant),
	} {
		if err := rs.subscribe(g); err != nil {
			rs.log.Errorw("Failed to subscribe", "group", g, "error", err)
		}
	}
	rs.joined = true
	rs.mu.Unlock()

	rs.addToRoster()
}

func (rs *roomSession) participant() domain.Participant {
	return domain.Participant{
		ConnectionID:  rs.conn.id,
		ParticipantID: rs.ident.participant,
		DisplayName:   rs.ident.name,
		IsModerator:   rs.moderator,
		JoinedAt:      rs.openedAt,
	}
}

func (rs *roomSession) addToRoster() {
	if err := rs.srv.deps.Roster.Add(rs.ctx, rs.roomID, rs.participant(), rs.srv.cfg.RosterTTL); err != nil {
		rs.log.Warnw("Failed to add participant to roster", "error", err)
	}
}

// keepRoster refreshes the roster entry before its TTL lapses.
func (rs *roomSession) keepRoster() {
	if rs.srv.cfg.RosterTTL <= 0 {
		return
	}
	ticker := time.NewTicker(rs.srv.cfg.RosterTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-rs.conn.Done():
			return
		case <-rs.ctx.Done():
			return
		case <-ticker.C:
			if rs.isJoined() {
				rs.addToRoster()
			}
		}
	}
}

func (rs *roomSession) isJoined() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.joined
}

func (rs *roomSession) currentBreakout() domain.BreakoutID {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.breakout
}

// scope is the group ordinary relays go to: the breakout when inside one.
func (rs *roomSession) scope() domain.GroupKey {
	if b := rs.currentBreakout(); b != "" {
		return domain.BreakoutGroup(rs.roomID, b)
	}
	return domain.RoomGroup(rs.roomID)
}

func (rs *roomSession) relay(ctx context.Context, t domain.EventType, payload any) error {
	return rs.relayTo(ctx, rs.scope(), t, payload)
}

func (rs *roomSession) relayTo(ctx context.Context, group domain.GroupKey, t domain.EventType, payload any) error {
	ev, err := domain.NewEvent(t, payload)
	if err != nil {
		return err
	}
	return rs.srv.deps.Bus.Broadcast(ctx, group, ev, rs.conn.id)
}

func (rs *roomSession) joinBreakout(ctx context.Context, id domain.BreakoutID) error {
	if err := validation.ValidateBreakoutID(string(id)); err != nil {
		return domain.ErrBreakoutNotFound
	}
	if current := rs.currentBreakout(); current == id {
		return nil
	} else if current != "" {
		if err := rs.leaveBreakout(ctx); err != nil {
			return err
		}
	}

	if _, err := rs.srv.deps.Breakouts.Join(ctx, rs.roomID, rs.ident.participant, id, rs.conn.id); err != nil {
		return err
	}

	rs.mu.Lock()
	if !rs.closed {
		if err := rs.subscribe(domain.BreakoutGroup(rs.roomID, id)); err != nil {
			rs.mu.Unlock()
			return err
		}
		rs.breakout = id
	}
	rs.mu.Unlock()

	send(rs.conn, domain.EventBreakoutJoined, domain.BreakoutMemberPayload{BreakoutID: id, UserID: rs.ident.participant})
	rs.log.Infow("Joined breakout", "breakout_id", id)
	return nil
}

func (rs *roomSession) leaveBreakout(ctx context.Context) error {
	id := rs.currentBreakout()
	if id == "" {
		return domain.ErrBreakoutNotFound
	}
	if err := rs.srv.deps.Breakouts.Leave(ctx, rs.roomID, rs.ident.participant, id, rs.conn.id); err != nil {
		return err
	}
	rs.dropBreakout(id)
	send(rs.conn, domain.EventBreakoutReturned, domain.BreakoutMemberPayload{BreakoutID: id, UserID: rs.ident.participant})
	return nil
}

// dropBreakout moves the socket back to the parent room locally.
func (rs *roomSession) dropBreakout(id domain.BreakoutID) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.breakout != id {
		return
	}
	rs.unsubscribe(domain.BreakoutGroup(rs.roomID, id))
	rs.breakout = ""
}

// intercept runs in the write pump for every outbound event.
func (rs *roomSession) intercept(ev domain.Event) (action, int, string) {
	switch ev.Type {
	case domain.EventKicked:
		return deliverThenClose, websocket.CloseNormalClosure, reasonKicked

	case domain.EventBreakoutClosed:
		var p domain.BreakoutClosedPayload
		if err := json.Unmarshal(ev.Frame, &p); err == nil {
			rs.dropBreakout(p.BreakoutID)
		}

	case domain.EventAlertResponse:
		if rs.isJoined() {
			break
		}
		var p domain.DecisionPayload
		if err := json.Unmarshal(ev.Frame, &p); err != nil || p.UserID != rs.ident.participant {
			break
		}
		if !p.Approved {
			return deliverThenClose, domain.CloseRoomNotFound, domain.ErrAccessDenied.Error()
		}
		rs.mu.Lock()
		start := !rs.confirming && !rs.closed
		rs.confirming = true
		rs.mu.Unlock()
		if start {
			go rs.admitApproved()
		}
	}
	return deliver, 0, ""
}

// admitApproved consumes the moderator's approval and moves the socket from
// the lobby into the room.
func (rs *roomSession) admitApproved() {
	err := rs.srv.deps.Approvals.Confirm(rs.ctx, rs.roomID, rs.ident.participant)

	rs.mu.Lock()
	rs.confirming = false
	rs.mu.Unlock()

	if err != nil {
		rs.log.Infow("Approval confirmation failed", "error", err)
		return
	}
	rs.join()
	rs.log.Infow("Waiting participant admitted")
}

func (rs *roomSession) handleFrame(data []byte) {
	var in domain.Inbound
	if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
		rs.srv.metrics.RecordDroppedFrame("malformed")
		rs.log.Debugw("Malformed frame dropped", "error", err)
		return
	}
	if rs.limiter != nil && !rs.limiter.Allow() {
		rs.srv.metrics.RecordDroppedFrame("rate_limited")
		return
	}

	h, ok := rs.srv.handlers[in.Type]
	if !ok {
		rs.srv.metrics.RecordDroppedFrame("unknown_type")
		rs.log.Debugw("Unknown event dropped", "event", in.Type)
		return
	}
	if !h.lobby && !rs.isJoined() {
		sendError(rs.conn, in.Type, domain.ErrAccessDenied)
		return
	}
	rs.srv.metrics.RecordInboundEvent(string(in.Type))

	ctx, span := tracing.TraceSignalEvent(rs.ctx, string(in.Type), string(rs.roomID), string(rs.ident.participant))
	defer span.End()

	if err := h.fn(ctx, rs, in); err != nil {
		tracing.RecordError(ctx, err)
		rs.srv.ctxLog.LogInfo(logger.WithTraceID(ctx, tracing.TraceIDFromContext(ctx)), "Event rejected",
			zap.String("event", string(in.Type)), zap.Error(err))
		sendError(rs.conn, in.Type, err)
	}
}

func (rs *roomSession) cleanup() {
	rs.mu.Lock()
	rs.closed = true
	joined := rs.joined
	groups := make([]domain.GroupKey, 0, len(rs.groups))
	for g := range rs.groups {
		groups = append(groups, g)
	}
	rs.groups = map[domain.GroupKey]struct{}{}
	rs.mu.Unlock()

	rs.conn.Close(websocket.CloseNormalClosure, "")
	rs.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for _, g := range groups {
		if err := rs.srv.deps.Bus.Unsubscribe(ctx, g, rs.conn.id); err != nil {
			rs.log.Warnw("Failed to leave group", "group", g, "error", err)
		}
	}

	if joined {
		if err := rs.srv.deps.Roster.Remove(ctx, rs.roomID, rs.conn.id); err != nil {
			rs.log.Warnw("Failed to remove participant from roster", "error", err)
		}
		if err := rs.relayTo(ctx, domain.RoomGroup(rs.roomID), domain.EventUserDisconnected,
			domain.UserPayload{UserID: rs.ident.participant}); err != nil {
			rs.log.Warnw("Failed to announce disconnect", "error", err)
		}
	} else if err := rs.srv.deps.Approvals.Withdraw(ctx, rs.roomID, rs.ident.participant, rs.conn.id); err != nil {
		rs.log.Warnw("Failed to withdraw join request", "error", err)
	}

	remaining, err := rs.admission.Release(ctx)
	if err != nil {
		rs.log.Warnw("Failed to release admission", "error", err)
	}

	lifetime := time.Since(rs.openedAt)
	rs.srv.metrics.ConnectionClosed(socketRoom, lifetime)
	rs.log.Infow("Room socket closed",
		"remaining", remaining,
		"lifetime", lifetime,
		"close_code", rs.conn.closeCode,
	)
}
