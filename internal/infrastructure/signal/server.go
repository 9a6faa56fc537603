package signal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/internal/core/services"
	"meetsignal/internal/infrastructure/middleware"
	"meetsignal/pkg/config"
	"meetsignal/pkg/logger"
	"meetsignal/pkg/optimize"
	"meetsignal/pkg/utils"
	"meetsignal/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Socket kinds, used as metric labels.
const (
	socketRoom = "room"
	socketUser = "user"
)

type Config struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxFrameBytes   int64
	SendBufferSize  int
	AdmitTimeout    time.Duration
	MaxSocketsPerID int
	AllowedOrigins  []string
	RosterTTL       time.Duration
	InstanceID      string

	RateLimitEnabled     bool
	ConnectionsPerMinute int
	MessagesPerSecond    float64
	MessageBurst         int
}

// ConfigFrom maps the application config onto the signal server.
func ConfigFrom(cfg *config.Config, instanceID string) Config {
	return Config{
		PingInterval:         cfg.Signal.PingInterval,
		PongTimeout:          cfg.Signal.PongTimeout,
		WriteTimeout:         cfg.Signal.WriteTimeout,
		MaxFrameBytes:        cfg.Signal.MaxFrameBytes,
		SendBufferSize:       cfg.Signal.SendBufferSize,
		AdmitTimeout:         cfg.Signal.AdmitTimeout,
		MaxSocketsPerID:      cfg.Signal.MaxSocketsPerID,
		AllowedOrigins:       cfg.Auth.AllowedOrigins,
		RosterTTL:            cfg.Admission.PresenceTTL,
		InstanceID:           instanceID,
		RateLimitEnabled:     cfg.RateLimiting.Enabled,
		ConnectionsPerMinute: cfg.RateLimiting.WebSocket.ConnectionsPerMinute,
		MessagesPerSecond:    cfg.RateLimiting.WebSocket.MessagesPerSecond,
		MessageBurst:         cfg.RateLimiting.WebSocket.Burst,
	}
}

// Metrics is what the signal server reports.
type Metrics interface {
	ConnectionOpened(socket string)
	ConnectionClosed(socket string, lifetime time.Duration)
	RecordInboundEvent(eventType string)
	RecordDroppedFrame(reason string)
	RecordSocketRejection(code string)
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened(string)                {}
func (nopMetrics) ConnectionClosed(string, time.Duration) {}
func (nopMetrics) RecordInboundEvent(string)              {}
func (nopMetrics) RecordDroppedFrame(string)              {}
func (nopMetrics) RecordSocketRejection(string)           {}

// Deps are the collaborators of the signal server.
type Deps struct {
	Auth       services.AuthService
	Admission  ports.AdmissionService
	Approvals  ports.ApprovalService
	Breakouts  ports.BreakoutService
	Moderation ports.ModerationService
	Bus        ports.GroupBus
	Roster     ports.Roster
	Metrics    Metrics
	Logger     *zap.SugaredLogger
}

// Server accepts room and user websockets. The connection map only serves
// shutdown; group membership lives on the bus.
type Server struct {
	cfg      Config
	deps     Deps
	upgrader websocket.Upgrader
	metrics  Metrics
	logger   *zap.SugaredLogger
	ctxLog   *logger.ContextLogger

	ipLimiter *middleware.KeyedLimiter
	sockets   *socketCounter
	frames    *optimize.FramePool
	handlers  map[domain.EventType]roomHandler

	mu       sync.Mutex
	conns    map[domain.ConnectionID]*Connection
	closing  bool
	sessions sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func NewServer(cfg Config, deps Deps) *Server {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origins are checked after the upgrade so the client sees close code 4003
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics: metrics,
		logger:  deps.Logger,
		ctxLog:  logger.NewContextLogger(deps.Logger.Desugar()),
		sockets: newSocketCounter(),
		frames:  optimize.NewFramePool(4096, int(2*cfg.MaxFrameBytes)),
		conns:   make(map[domain.ConnectionID]*Connection),
		stop:    make(chan struct{}),
	}
	if cfg.RateLimitEnabled && cfg.ConnectionsPerMinute > 0 {
		s.ipLimiter = middleware.NewKeyedLimiter(
			rate.Every(time.Minute/time.Duration(cfg.ConnectionsPerMinute)),
			cfg.ConnectionsPerMinute,
		)
		go s.sweepLimiters()
	}
	s.handlers = s.roomHandlers()
	return s
}

func (s *Server) sweepLimiters() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.ipLimiter.Sweep(10 * time.Minute); n > 0 {
				s.logger.Debugw("Swept idle connection limiters", "removed", n)
			}
		}
	}
}

// Register mounts the websocket routes.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/ws/room/:room_id", func(c *gin.Context) {
		s.HandleRoom(c.Writer, c.Request, c.Param("room_id"))
	})
	r.GET("/ws/user", func(c *gin.Context) {
		s.HandleUser(c.Writer, c.Request)
	})
}

// Connections returns the number of open sockets on this instance.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every socket with 1001 and waits for their cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	s.closing = true
	for _, c := range s.conns {
		c.Close(websocket.CloseGoingAway, reasonShutdown)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c.id] = c
	s.sessions.Add(1)
	return true
}

func (s *Server) untrack(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.sessions.Done()
}

// identity resolves who is connecting: a token holder, or a guest whose id
// this server issued. guestToken is set for guests only.
type identity struct {
	participant   domain.ParticipantID
	name          string
	authenticated bool
	guestToken    string
}

var errBadToken = errors.New("invalid identity token")

func (s *Server) identify(r *http.Request) (identity, error) {
	q := r.URL.Query()
	name := strings.TrimSpace(utils.SanitizeString(q.Get("name")))
	if validation.ValidateDisplayName(name) != nil {
		name = ""
	}

	if token := middleware.BearerToken(r); token != "" {
		claims, err := s.deps.Auth.ValidateToken(token)
		if err != nil {
			return identity{}, errBadToken
		}
		if name == "" {
			name = claims.Username
		}
		return identity{participant: claims.Participant(), name: name, authenticated: true}, nil
	}

	if token := middleware.GuestToken(r); token != "" {
		id, err := s.deps.Auth.ValidateGuestToken(token)
		if err != nil {
			return identity{}, errBadToken
		}
		renewed, err := s.deps.Auth.RenewGuest(id)
		if err != nil {
			return identity{}, err
		}
		return identity{participant: id, name: name, guestToken: renewed}, nil
	}

	id, token, err := s.deps.Auth.IssueGuest()
	if err != nil {
		return identity{}, err
	}
	return identity{participant: id, name: name, guestToken: token}, nil
}

// admitSocket runs the checks every socket passes before its session starts.
// It returns a close code when the socket must be refused.
func (s *Server) admitSocket(r *http.Request) (int, string) {
	if err := validation.ValidateOrigin(r.Header.Get("Origin"), r.Host, s.cfg.AllowedOrigins); err != nil {
		return domain.CloseOriginNotAllowed, "origin not allowed"
	}
	if s.ipLimiter != nil && !s.ipLimiter.Allow(middleware.ClientIP(r)) {
		return domain.CloseCapacityExceeded, "too many connection attempts"
	}
	return 0, ""
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request, socket string) (*websocket.Conn, bool) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugw("Websocket upgrade failed", "socket", socket, "error", err)
		return nil, false
	}
	if code, reason := s.admitSocket(r); code != 0 {
		s.refuse(ws, socket, code, reason)
		return nil, false
	}
	return ws, true
}

func (s *Server) refuse(ws *websocket.Conn, socket string, code int, reason string) {
	s.metrics.RecordSocketRejection(closeLabel(code))
	s.logger.Infow("Socket refused",
		"socket", socket,
		"code", code,
		"reason", reason,
		"remote", ws.RemoteAddr().String(),
	)
	reject(ws, code, reason, s.cfg.WriteTimeout)
}

func closeLabel(code int) string {
	switch code {
	case domain.CloseRoomNotFound:
		return "4004"
	case domain.CloseCapacityExceeded:
		return "4029"
	case domain.CloseOriginNotAllowed:
		return "4003"
	default:
		return "other"
	}
}

func (s *Server) newConnection(ws *websocket.Conn) *Connection {
	c := newConnection(domain.ConnectionID(utils.GenerateConnectionID()), ws, s.cfg, s.logger)
	c.onDrop = s.metrics.RecordDroppedFrame
	return c
}

// readFrames feeds complete text frames to handle until the socket fails.
// Frames above MaxFrameBytes are skipped without closing the socket.
func (s *Server) readFrames(c *Connection, handle func(data []byte)) {
	extend := func() { _ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout)) }
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		mt, r, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debugw("Socket read failed", "error", err)
			}
			return
		}
		extend()

		if mt != websocket.TextMessage {
			if _, err := io.Copy(io.Discard, r); err != nil {
				return
			}
			s.metrics.RecordDroppedFrame("binary")
			continue
		}

		buf, fits, err := s.frames.ReadLimited(r, s.cfg.MaxFrameBytes)
		if err != nil {
			return
		}
		if !fits {
			s.frames.Put(buf)
			if _, err := io.Copy(io.Discard, r); err != nil {
				return
			}
			s.metrics.RecordDroppedFrame("oversized")
			c.logger.Debugw("Oversized frame dropped", "limit", s.cfg.MaxFrameBytes)
			continue
		}
		// handlers copy what they keep, so the buffer is reused right away
		handle(buf.Bytes())
		s.frames.Put(buf)
	}
}

func (s *Server) messageLimiter() *rate.Limiter {
	if !s.cfg.RateLimitEnabled || s.cfg.MessagesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst)
}

// send writes ev to c directly, outside the bus.
func send(c *Connection, t domain.EventType, payload any) {
	ev, err := domain.NewEvent(t, payload)
	if err != nil {
		c.logger.Errorw("Failed to encode event", "event", t, "error", err)
		return
	}
	c.Deliver(ev)
}

func sendError(c *Connection, event domain.EventType, err error) {
	send(c, domain.EventError, domain.ErrorPayload{Event: event, Message: publicMessage(err)})
}

var publicErrors = []error{
	domain.ErrRoomNotFound,
	domain.ErrAccessDenied,
	domain.ErrCapacityExceeded,
	domain.ErrRateLimited,
	domain.ErrNotModerator,
	domain.ErrFeatureNotEnabled,
	domain.ErrBreakoutNotFound,
	domain.ErrBreakoutNotAssigned,
	domain.ErrTooManyBreakouts,
	domain.ErrNoPendingRequest,
	domain.ErrInvalidEvent,
}

// publicMessage hides internal failures from clients.
func publicMessage(err error) string {
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}
