package services

import (
	"context"
	"math"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"go.uber.org/zap"
)

const (
	markerWarned   = "warned"
	markerExceeded = "exceeded"
)

type WatchdogConfig struct {
	PollInterval time.Duration
	WarningLead  time.Duration
}

// DurationWatchdogManager runs one watchdog goroutine per time-boxed room
// hosted on this instance. Rooms are reference counted by admissions; the
// watchdog is cancelled when the last local admission is released.
type DurationWatchdogManager struct {
	cfg     WatchdogConfig
	bus     ports.Broadcaster
	clocks  ports.SessionClockStore
	metrics Metrics
	logger  *zap.SugaredLogger
	now     func() time.Time

	mu      sync.Mutex
	rooms   map[domain.RoomID]*watchdog
	wg      sync.WaitGroup
	stopped bool
}

type watchdog struct {
	room   domain.RoomID
	clock  domain.SessionClock
	refs   int
	cancel context.CancelFunc

	// local marks, used when the shared marker store is unreachable
	warned   bool
	exceeded bool
}

func NewDurationWatchdogManager(cfg WatchdogConfig, bus ports.Broadcaster, clocks ports.SessionClockStore, metrics Metrics, logger *zap.SugaredLogger) *DurationWatchdogManager {
	return &DurationWatchdogManager{
		cfg:     cfg,
		bus:     bus,
		clocks:  clocks,
		metrics: metricsOrNop(metrics),
		logger:  logger,
		now:     time.Now,
		rooms:   make(map[domain.RoomID]*watchdog),
	}
}

var _ ports.WatchdogManager = (*DurationWatchdogManager)(nil)

func (m *DurationWatchdogManager) Track(room domain.RoomID, clock domain.SessionClock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	if w, ok := m.rooms[room]; ok {
		w.refs++
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watchdog{room: room, clock: clock, refs: 1, cancel: cancel}
	m.rooms[room] = w

	m.wg.Add(1)
	m.metrics.WatchdogStarted()
	go m.run(ctx, w)
}

func (m *DurationWatchdogManager) Untrack(room domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.rooms[room]
	if !ok {
		return
	}
	w.refs--
	if w.refs <= 0 {
		w.cancel()
		delete(m.rooms, room)
	}
}

// Active returns the number of rooms being tracked.
func (m *DurationWatchdogManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Stop cancels every watchdog and waits for them to exit.
func (m *DurationWatchdogManager) Stop() {
	m.mu.Lock()
	m.stopped = true
	for room, w := range m.rooms {
		w.cancel()
		delete(m.rooms, room)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *DurationWatchdogManager) run(ctx context.Context, w *watchdog) {
	defer m.wg.Done()
	defer m.metrics.WatchdogStopped()

	if m.check(ctx, w, m.now()) {
		return
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.check(ctx, w, m.now()) {
				return
			}
		}
	}
}

// check evaluates the room clock at now and reports whether polling should stop.
func (m *DurationWatchdogManager) check(ctx context.Context, w *watchdog, now time.Time) bool {
	clock := w.clock
	stored, err := m.clocks.Get(ctx, w.room)
	switch {
	case err != nil:
		m.logger.Debugw("Session clock unavailable, using local copy", "room_id", w.room, "error", err)
	case stored != nil:
		clock = *stored
	}

	if clock.DurationLimit <= 0 {
		return true
	}

	if clock.Elapsed(now) >= clock.DurationLimit {
		if !w.exceeded {
			w.exceeded = true
			m.emitOnce(ctx, w.room, markerExceeded, domain.EventDurationExceeded, domain.DurationExceededPayload{
				RoomID:       w.room,
				LimitMinutes: int(clock.DurationLimit / time.Minute),
			})
		}
		return true
	}

	remaining := clock.Remaining(now)
	if remaining <= m.cfg.WarningLead && !w.warned {
		w.warned = true
		m.emitOnce(ctx, w.room, markerWarned, domain.EventDurationWarning, domain.DurationWarningPayload{
			RoomID:           w.room,
			MinutesRemaining: int(math.Ceil(remaining.Minutes())),
		})
	}
	return false
}

// emitOnce broadcasts to the room unless another instance already did.
func (m *DurationWatchdogManager) emitOnce(ctx context.Context, room domain.RoomID, marker string, t domain.EventType, payload any) {
	first, err := m.clocks.MarkOnce(ctx, room, marker)
	if err != nil {
		m.logger.Warnw("Duration marker store unavailable, broadcasting anyway",
			"room_id", room,
			"marker", marker,
			"error", err,
		)
		first = true
	}
	if !first {
		return
	}

	if err := emit(ctx, m.bus, t, payload, "", domain.RoomGroup(room)); err != nil {
		m.logger.Errorw("Failed to broadcast duration event", "room_id", room, "event", t, "error", err)
		return
	}
	m.metrics.RecordDurationEvent(marker)
	m.logger.Infow("Duration event sent", "room_id", room, "event", t)
}
