package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/internal/infrastructure/repositories/memory"
)

const (
	freeRoom     domain.RoomID = "abc-defg-hij"
	businessRoom domain.RoomID = "xyz-abcd-efg"
	proRoom      domain.RoomID = "pro-room-abc"
)

var errStoreDown = errors.New("store down")

func newDirectory() *memory.MemoryRoomDirectory {
	d := memory.NewMemoryRoomDirectory()
	d.Put(&domain.Room{
		ID:             freeRoom,
		TenantID:       "t-free",
		ModeratorID:    "42",
		Name:           "Standup",
		ModeratorToken: "mod-tok",
		AttendeeToken:  "att-tok",
	}, domain.TierFree)
	d.Put(&domain.Room{
		ID:          businessRoom,
		TenantID:    "t-biz",
		ModeratorID: "7",
		Name:        "All hands",
		Locked:      true,
	}, domain.TierBusiness)
	d.Put(&domain.Room{
		ID:          proRoom,
		TenantID:    "t-pro",
		ModeratorID: "9",
	}, domain.TierPro)
	return d
}

type sentEvent struct {
	Group   domain.GroupKey
	Type    domain.EventType
	Frame   map[string]any
	Exclude domain.ConnectionID
}

// recordingBus captures every broadcast instead of delivering it.
type recordingBus struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (b *recordingBus) Broadcast(_ context.Context, group domain.GroupKey, ev domain.Event, exclude domain.ConnectionID) error {
	var frame map[string]any
	if err := json.Unmarshal(ev.Frame, &frame); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentEvent{Group: group, Type: ev.Type, Frame: frame, Exclude: exclude})
	return nil
}

func (b *recordingBus) ofType(t domain.EventType) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, s := range b.sent {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

func (b *recordingBus) groups(t domain.EventType) []domain.GroupKey {
	var out []domain.GroupKey
	for _, s := range b.ofType(t) {
		out = append(out, s.Group)
	}
	return out
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type failingCounter struct{}

func (failingCounter) Increment(context.Context, domain.RoomID) (int64, error) {
	return 0, errStoreDown
}
func (failingCounter) Decrement(context.Context, domain.RoomID) (int64, error) {
	return 0, errStoreDown
}
func (failingCounter) Count(context.Context, domain.RoomID) (int64, error) { return 0, errStoreDown }

type failingPlans struct{}

func (failingPlans) ResolvePlan(context.Context, domain.TenantID) (domain.PlanLimits, error) {
	return domain.PlanLimits{}, errStoreDown
}

type failingDirectory struct{}

func (failingDirectory) GetRoom(context.Context, domain.RoomID) (*domain.Room, error) {
	return nil, errStoreDown
}

type failingClocks struct{}

func (failingClocks) StartIfAbsent(context.Context, domain.SessionClock) (domain.SessionClock, error) {
	return domain.SessionClock{}, errStoreDown
}
func (failingClocks) Get(context.Context, domain.RoomID) (*domain.SessionClock, error) {
	return nil, errStoreDown
}
func (failingClocks) Delete(context.Context, domain.RoomID) error { return errStoreDown }
func (failingClocks) MarkOnce(context.Context, domain.RoomID, string) (bool, error) {
	return false, errStoreDown
}

// trackingWatchdogs counts Track/Untrack calls per room.
type trackingWatchdogs struct {
	mu     sync.Mutex
	refs   map[domain.RoomID]int
	clocks map[domain.RoomID]domain.SessionClock
}

func newTrackingWatchdogs() *trackingWatchdogs {
	return &trackingWatchdogs{
		refs:   make(map[domain.RoomID]int),
		clocks: make(map[domain.RoomID]domain.SessionClock),
	}
}

func (w *trackingWatchdogs) Track(room domain.RoomID, clock domain.SessionClock) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refs[room]++
	w.clocks[room] = clock
}

func (w *trackingWatchdogs) Untrack(room domain.RoomID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refs[room]--
}

func (w *trackingWatchdogs) Refs(room domain.RoomID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refs[room]
}

// queuedTasks holds dispatched tasks until the test runs them.
type queuedTasks struct {
	mu    sync.Mutex
	tasks []ports.Task
}

func (q *queuedTasks) Dispatch(_ context.Context, task ports.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *queuedTasks) runAll(ctx context.Context) error {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, t := range tasks {
		if err := t.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (q *queuedTasks) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// manualTimers replaces time.AfterFunc so tests decide when timeouts fire.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) func() bool {
	t := &manualTimer{d: d, f: f}
	m.mu.Lock()
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

func (m *manualTimers) last() *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timers) == 0 {
		return nil
	}
	return m.timers[len(m.timers)-1]
}

// fireLast runs the most recent timer unless it was stopped.
func (m *manualTimers) fireLast() bool {
	t := m.last()
	m.mu.Lock()
	stopped := t == nil || t.stopped
	m.mu.Unlock()
	if stopped {
		return false
	}
	t.f()
	return true
}

// recordingSub is a bus subscriber that keeps what it receives.
type recordingSub struct {
	id domain.ConnectionID

	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSub) ID() domain.ConnectionID { return s.id }

func (s *recordingSub) Deliver(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSub) received() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}
