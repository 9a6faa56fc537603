package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/infrastructure/middleware"
	"meetsignal/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type registerData struct {
	GuestToken string `json:"guest_token"`
}

// userSession is a notification socket bound to one identity.
type userSession struct {
	srv      *Server
	conn     *Connection
	log      *zap.SugaredLogger
	limiter  *rate.Limiter
	openedAt time.Time

	mu       sync.Mutex
	identity domain.ParticipantID
}

// HandleUser serves GET /ws/user. Token and guest session holders are
// registered right away; others must register a guest session first.
func (s *Server) HandleUser(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.upgrade(w, r, socketUser)
	if !ok {
		return
	}

	var participant domain.ParticipantID
	if token := middleware.BearerToken(r); token != "" {
		claims, err := s.deps.Auth.ValidateToken(token)
		if err != nil {
			s.refuse(ws, socketUser, domain.CloseRoomNotFound, errBadToken.Error())
			return
		}
		participant = claims.Participant()
	} else if token := middleware.GuestToken(r); token != "" {
		id, err := s.deps.Auth.ValidateGuestToken(token)
		if err != nil {
			s.refuse(ws, socketUser, domain.CloseRoomNotFound, errBadToken.Error())
			return
		}
		participant = id
	}

	conn := s.newConnection(ws)
	if !s.track(conn) {
		reject(ws, websocket.CloseGoingAway, reasonShutdown, s.cfg.WriteTimeout)
		return
	}
	defer s.untrack(conn)

	us := &userSession{
		srv:      s,
		conn:     conn,
		log:      s.logger.With("connection_id", conn.id, "socket", socketUser),
		limiter:  s.messageLimiter(),
		openedAt: time.Now(),
	}
	conn.logger = us.log

	go conn.writePump()
	s.metrics.ConnectionOpened(socketUser)
	defer us.cleanup()

	if participant != "" {
		if err := us.register(participant); err != nil {
			us.log.Infow("User socket refused", "participant_id", participant, "error", err)
			conn.Close(domain.CloseCapacityExceeded, "too many sockets")
			return
		}
	}

	s.readFrames(conn, us.handleFrame)
}

func (us *userSession) register(id domain.ParticipantID) error {
	us.mu.Lock()
	defer us.mu.Unlock()
	if us.identity != "" {
		return domain.ErrInvalidEvent
	}
	if !us.srv.sockets.acquire(id, us.srv.cfg.MaxSocketsPerID) {
		return domain.ErrRateLimited
	}
	ctx := logger.WithParticipant(context.Background(), string(id), string(us.conn.id))
	if err := us.srv.deps.Bus.Subscribe(ctx, domain.UserGroup(id), us.conn); err != nil {
		us.srv.sockets.release(id)
		return err
	}
	us.identity = id
	us.log = us.srv.ctxLog.Sugared(ctx).With("socket", socketUser)

	send(us.conn, domain.EventRegistered, domain.UserPayload{UserID: id})
	us.log.Infow("User channel registered")
	return nil
}

func (us *userSession) handleFrame(data []byte) {
	var in domain.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		us.srv.metrics.RecordDroppedFrame("malformed")
		return
	}
	if us.limiter != nil && !us.limiter.Allow() {
		us.srv.metrics.RecordDroppedFrame("rate_limited")
		return
	}

	switch in.Type {
	case domain.EventPing:
		us.srv.metrics.RecordInboundEvent(string(in.Type))
		send(us.conn, domain.EventPong, nil)

	case domain.EventRegister:
		us.srv.metrics.RecordInboundEvent(string(in.Type))
		var reg registerData
		if len(in.Data) > 0 {
			_ = json.Unmarshal(in.Data, &reg)
		}
		// anonymous sockets prove their guest id with the token the room
		// socket handed out
		id, err := us.srv.deps.Auth.ValidateGuestToken(reg.GuestToken)
		if err != nil {
			sendError(us.conn, in.Type, domain.ErrInvalidEvent)
			return
		}
		if in.UserID != "" && domain.ParticipantID(in.UserID) != id {
			sendError(us.conn, in.Type, domain.ErrInvalidEvent)
			return
		}
		if err := us.register(id); err != nil {
			sendError(us.conn, in.Type, err)
		}

	default:
		us.srv.metrics.RecordDroppedFrame("unknown_type")
	}
}

func (us *userSession) cleanup() {
	us.conn.Close(websocket.CloseNormalClosure, "")

	us.mu.Lock()
	id := us.identity
	us.mu.Unlock()

	if id != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := us.srv.deps.Bus.Unsubscribe(ctx, domain.UserGroup(id), us.conn.id); err != nil {
			us.log.Warnw("Failed to leave user channel", "error", err)
		}
		us.srv.sockets.release(id)
	}
	us.srv.metrics.ConnectionClosed(socketUser, time.Since(us.openedAt))
}
