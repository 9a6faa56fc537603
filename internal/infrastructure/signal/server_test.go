package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/internal/core/services"
	"meetsignal/internal/infrastructure/distributed"
	"meetsignal/internal/infrastructure/repositories/memory"
	"meetsignal/internal/infrastructure/tasks"
	pkgdistributed "meetsignal/pkg/distributed"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testSecret = "signal-secret"

	freeRoom     domain.RoomID = "abc-defg-hij"
	lockedRoom   domain.RoomID = "xyz-abcd-efg"
	breakoutRoom domain.RoomID = "brk-room-one"

	waitTimeout = 2 * time.Second
)

type testEnv struct {
	srv       *Server
	ts        *httptest.Server
	bus       *distributed.LocalGroupBus
	counter   ports.PresenceCounter
	roster    ports.Roster
	auth      services.AuthService
	approvals *services.ApprovalService
}

func newTestEnv(t *testing.T, tweak func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWith(t, tweak, nil)
}

// newTestEnvWith lets a test put its own approval service in front of the
// real one.
func newTestEnvWith(t *testing.T, tweak func(*Config), wrap func(*services.ApprovalService) ports.ApprovalService) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	dir := memory.NewMemoryRoomDirectory()
	dir.Put(&domain.Room{
		ID:             freeRoom,
		TenantID:       "t-free",
		ModeratorID:    "42",
		Name:           "Standup",
		ModeratorToken: "mod-tok",
		AttendeeToken:  "att-tok",
	}, domain.TierFree)
	dir.Put(&domain.Room{ID: lockedRoom, TenantID: "t-biz", ModeratorID: "7", Name: "All hands", Locked: true}, domain.TierBusiness)
	dir.Put(&domain.Room{ID: breakoutRoom, TenantID: "t-biz-2", ModeratorID: "8", Name: "Workshop"}, domain.TierBusiness)

	bus := distributed.NewLocalGroupBus(nil)
	counter := memory.NewMemoryPresenceCounter()
	clocks := memory.NewMemorySessionClockStore()
	assignments := memory.NewMemoryAssignmentStore()
	roster := memory.NewMemoryRoster()
	verifier := services.NewModeratorVerifier(dir, dir)

	watchdogs := services.NewDurationWatchdogManager(services.WatchdogConfig{
		PollInterval: time.Minute,
		WarningLead:  5 * time.Minute,
	}, bus, clocks, nil, logger)
	dispatcher := tasks.NewDispatcher(tasks.Config{Workers: 1}, nil, logger)
	approvals := services.NewApprovalService(services.ApprovalConfig{
		RequestTTL: time.Minute,
		PendingTTL: time.Minute,
	}, dir, verifier, memory.NewMemoryApprovalStore(), bus, dispatcher, memory.NewMemoryAccessGrantRepository(), nil, logger)

	cfg := Config{
		PingInterval:    30 * time.Second,
		PongTimeout:     time.Minute,
		WriteTimeout:    time.Second,
		MaxFrameBytes:   64 << 10,
		SendBufferSize:  64,
		AdmitTimeout:    time.Second,
		MaxSocketsPerID: 10,
		RosterTTL:       time.Minute,
		InstanceID:      "test",
	}
	if tweak != nil {
		tweak(&cfg)
	}

	var approvalPort ports.ApprovalService = approvals
	if wrap != nil {
		approvalPort = wrap(approvals)
	}
	auth := services.NewAuthService(testSecret)

	srv := NewServer(cfg, Deps{
		Auth:       auth,
		Admission:  services.NewAdmissionService(dir, dir, counter, clocks, assignments, watchdogs, domain.FreePlan(), nil, logger),
		Approvals:  approvalPort,
		Breakouts:  services.NewBreakoutService(services.BreakoutConfig{MaxPerRoom: 10, AssignmentTTL: time.Hour}, verifier, memory.NewMemoryBreakoutRepository(), assignments, pkgdistributed.NewLocalLockManager(), bus, logger),
		Moderation: services.NewModerationService(verifier, bus, logger),
		Bus:        bus,
		Roster:     roster,
		Logger:     logger,
	})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	srv.Register(router)
	ts := httptest.NewServer(router)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
		approvals.Stop()
		watchdogs.Stop()
		_ = dispatcher.Stop(ctx)
	})

	return &testEnv{srv: srv, ts: ts, bus: bus, counter: counter, roster: roster, auth: auth, approvals: approvals}
}

// guest issues a guest session the way a room socket would.
func (e *testEnv) guest(t *testing.T) (string, string) {
	t.Helper()
	id, token, err := e.auth.IssueGuest()
	require.NoError(t, err)
	return string(id), token
}

func roomPath(room domain.RoomID, guestToken string) string {
	return "/ws/room/" + string(room) + "?guest_token=" + guestToken
}

func userToken(t *testing.T, id string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &services.Claims{
		UserID:   domain.ParticipantID(id),
		Username: "user-" + id,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func bearer(t *testing.T, id string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + userToken(t, id)}}
}

func (e *testEnv) dial(t *testing.T, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + path
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendFrame(t *testing.T, ws *websocket.Conn, typ domain.EventType, data any) {
	t.Helper()
	frame := map[string]any{"type": typ}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(t, ws.WriteJSON(frame))
}

// expect reads frames until one of type typ arrives.
func expect(t *testing.T, ws *websocket.Conn, typ domain.EventType) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitTimeout)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame["type"] == string(typ) {
			return frame
		}
	}
}

// next returns the next frame, whatever its type.
func next(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// ready round-trips a ping, which proves the session reached its read loop.
func ready(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	sendFrame(t, ws, domain.EventPing, nil)
	expect(t, ws, domain.EventPong)
}

// closeCode reads until the server closes the socket.
func closeCode(t *testing.T, ws *websocket.Conn) (int, string) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitTimeout)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
			return ce.Code, ce.Text
		}
	}
}

func (e *testEnv) presence(t *testing.T, room domain.RoomID) int64 {
	t.Helper()
	n, err := e.counter.Count(context.Background(), room)
	require.NoError(t, err)
	return n
}

func TestRoomSocket_CapacityExceeded(t *testing.T) {
	env := newTestEnv(t, nil)

	sockets := make([]*websocket.Conn, 0, 4)
	for i := 0; i < 4; i++ {
		ws := env.dial(t, "/ws/room/"+string(freeRoom), nil)
		ready(t, ws)
		sockets = append(sockets, ws)
	}
	assert.Equal(t, int64(4), env.presence(t, freeRoom))

	fifth := env.dial(t, "/ws/room/"+string(freeRoom), nil)
	code, _ := closeCode(t, fifth)
	assert.Equal(t, domain.CloseCapacityExceeded, code)
	assert.Equal(t, int64(4), env.presence(t, freeRoom))

	// leaving frees the slot for the next participant
	sockets[0].Close()
	assert.Eventually(t, func() bool { return env.presence(t, freeRoom) == 3 }, waitTimeout, 10*time.Millisecond)

	again := env.dial(t, "/ws/room/"+string(freeRoom), nil)
	ready(t, again)
	assert.Equal(t, int64(4), env.presence(t, freeRoom))
}

func TestRoomSocket_Refusals(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.AllowedOrigins = []string{"https://meet.example.com"}
	})

	cases := []struct {
		name   string
		path   string
		header http.Header
		code   int
	}{
		{"unknown room", "/ws/room/zzz-zzzz-zzz", nil, domain.CloseRoomNotFound},
		{"malformed code", "/ws/room/not-a-room", nil, domain.CloseRoomNotFound},
		{"forged link token", "/ws/room/" + string(freeRoom) + "?token=forged", nil, domain.CloseRoomNotFound},
		{"bad identity token", "/ws/room/" + string(freeRoom), http.Header{"Authorization": []string{"Bearer nope"}}, domain.CloseRoomNotFound},
		{"foreign origin", "/ws/room/" + string(freeRoom), http.Header{"Origin": []string{"https://evil.example.com"}}, domain.CloseOriginNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ws := env.dial(t, tc.path, tc.header)
			code, _ := closeCode(t, ws)
			assert.Equal(t, tc.code, code)
		})
	}
	assert.Zero(t, env.presence(t, freeRoom))

	ws := env.dial(t, "/ws/room/"+string(freeRoom), http.Header{"Origin": []string{"https://meet.example.com"}})
	ready(t, ws)
}

func TestRoomSocket_SocketCapPerIdentity(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxSocketsPerID = 2 })
	_, token := env.guest(t)
	path := roomPath(freeRoom, token)

	ready(t, env.dial(t, path, nil))
	ready(t, env.dial(t, path, nil))

	third := env.dial(t, path, nil)
	code, _ := closeCode(t, third)
	assert.Equal(t, domain.CloseCapacityExceeded, code)
	assert.Equal(t, int64(2), env.presence(t, freeRoom))
}

func TestRoomSocket_GuestSessionIssuedOnConnect(t *testing.T) {
	env := newTestEnv(t, nil)

	ws := env.dial(t, "/ws/room/"+string(freeRoom), nil)
	session := expect(t, ws, domain.EventGuestSession)
	id, _ := session["user_id"].(string)
	token, _ := session["guest_token"].(string)
	assert.Regexp(t, `^guest_[0-9a-f]{8}$`, id)

	issued, err := env.auth.ValidateGuestToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID(id), issued)

	// the token brings the guest back under the same id
	again := env.dial(t, roomPath(freeRoom, token), nil)
	assert.Equal(t, id, expect(t, again, domain.EventGuestSession)["user_id"])

	// account holders get no guest session
	member := env.dial(t, "/ws/room/"+string(freeRoom), bearer(t, "42"))
	sendFrame(t, member, domain.EventPing, nil)
	for {
		frame := next(t, member)
		assert.NotEqual(t, string(domain.EventGuestSession), frame["type"])
		if frame["type"] == string(domain.EventPong) {
			break
		}
	}
}

func TestRoomSocket_GuestIDCannotBeClaimed(t *testing.T) {
	env := newTestEnv(t, nil)
	victim, victimToken := env.guest(t)
	ready(t, env.dial(t, roomPath(freeRoom, victimToken), nil))

	// naming someone's guest id gets a fresh identity instead
	impostor := env.dial(t, "/ws/room/"+string(freeRoom)+"?guest_id="+victim, nil)
	session := expect(t, impostor, domain.EventGuestSession)
	assert.NotEqual(t, victim, session["user_id"])

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   victim,
		Audience:  jwt.ClaimStrings{"meetsignal-guest"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("not-the-secret"))
	require.NoError(t, err)
	refused := env.dial(t, roomPath(freeRoom, forged), nil)
	code, _ := closeCode(t, refused)
	assert.Equal(t, domain.CloseRoomNotFound, code)
}

func TestRoomSocket_SenderDoesNotReceiveOwnBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceID, aliceToken := env.guest(t)
	_, bobToken := env.guest(t)
	alice := env.dial(t, roomPath(freeRoom, aliceToken), nil)
	bob := env.dial(t, roomPath(freeRoom, bobToken), nil)
	ready(t, alice)
	ready(t, bob)

	sendFrame(t, alice, domain.EventNewChat, map[string]any{"message": "hello"})
	msg := expect(t, bob, domain.EventChatMessage)
	assert.Equal(t, "hello", msg["message"])
	assert.Equal(t, aliceID, msg["user_id"])

	// anything echoed to alice would be queued before this pong
	sendFrame(t, alice, domain.EventPing, nil)
	assert.Equal(t, string(domain.EventPong), next(t, alice)["type"])
}

func TestRoomSocket_MalformedAndOversizedFramesKeepConnection(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxFrameBytes = 1024 })
	ws := env.dial(t, "/ws/room/"+string(freeRoom), nil)
	ready(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"new-chat","data":{"message":"`+strings.Repeat("x", 4096)+`"}}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	sendFrame(t, ws, "no-such-event", nil)

	sendFrame(t, ws, domain.EventPing, nil)
	assert.Equal(t, string(domain.EventPong), next(t, ws)["type"])
}

func TestRoomSocket_HugeFrameIsSkipped(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxFrameBytes = 1024 })
	ws := env.dial(t, "/ws/room/"+string(freeRoom), nil)
	ready(t, ws)

	// far past the limit, the frame is still drained and dropped
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64<<10))))

	sendFrame(t, ws, domain.EventPing, nil)
	assert.Equal(t, string(domain.EventPong), next(t, ws)["type"])
	assert.Equal(t, int64(1), env.presence(t, freeRoom))
}

func TestRoomSocket_Kick(t *testing.T) {
	env := newTestEnv(t, nil)
	targetID, targetToken := env.guest(t)
	_, observerToken := env.guest(t)
	moderator := env.dial(t, "/ws/room/"+string(freeRoom), bearer(t, "42"))
	target := env.dial(t, roomPath(freeRoom, targetToken), nil)
	observer := env.dial(t, roomPath(freeRoom, observerToken), nil)
	for _, ws := range []*websocket.Conn{moderator, target, observer} {
		ready(t, ws)
	}
	require.Equal(t, int64(3), env.presence(t, freeRoom))

	sendFrame(t, moderator, domain.EventKickUser, map[string]any{"targetUserId": targetID})

	kicked := expect(t, target, domain.EventKicked)
	assert.Equal(t, "42", kicked["moderator_id"])
	code, reason := closeCode(t, target)
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.Equal(t, reasonKicked, reason)

	notice := expect(t, observer, domain.EventUserKicked)
	assert.Equal(t, targetID, notice["targetUserId"])

	assert.Eventually(t, func() bool { return env.presence(t, freeRoom) == 2 }, waitTimeout, 10*time.Millisecond)
	gone := expect(t, observer, domain.EventUserDisconnected)
	assert.Equal(t, targetID, gone["user_id"])
}

func TestRoomSocket_KickNeedsModerator(t *testing.T) {
	env := newTestEnv(t, nil)
	attendee := env.dial(t, "/ws/room/"+string(freeRoom), nil)
	ready(t, attendee)

	sendFrame(t, attendee, domain.EventKickUser, map[string]any{"targetUserId": "42"})
	errFrame := expect(t, attendee, domain.EventError)
	assert.Equal(t, string(domain.EventKickUser), errFrame["event"])
	assert.Equal(t, domain.ErrNotModerator.Error(), errFrame["message"])
}

func TestRoomSocket_ModeratorLinkToken(t *testing.T) {
	env := newTestEnv(t, nil)
	host := env.dial(t, "/ws/room/"+string(freeRoom)+"?token=mod-tok", nil)
	guest := env.dial(t, "/ws/room/"+string(freeRoom), nil)
	ready(t, host)
	ready(t, guest)

	sendFrame(t, host, domain.EventMuteAll, nil)
	expect(t, guest, domain.EventMuteAll)
}

func TestRoomSocket_WaitingRoomApproval(t *testing.T) {
	env := newTestEnv(t, nil)
	moderator := env.dial(t, "/ws/room/"+string(lockedRoom), bearer(t, "7"))
	ready(t, moderator)

	guestID, guestToken := env.guest(t)
	guest := env.dial(t, roomPath(lockedRoom, guestToken), nil)
	ready(t, guest)

	// the lobby cannot talk to the room
	sendFrame(t, guest, domain.EventNewChat, map[string]any{"message": "let me in"})
	denied := expect(t, guest, domain.EventError)
	assert.Equal(t, domain.ErrAccessDenied.Error(), denied["message"])

	sendFrame(t, guest, domain.EventAlert, map[string]any{"username": "Bo"})
	request := expect(t, moderator, domain.EventAlert)
	assert.Equal(t, guestID, request["user_id"])
	assert.Equal(t, "Bo", request["username"])

	sendFrame(t, moderator, domain.EventAlertResponse, map[string]any{
		"requesting_user_id": guestID,
		"approved":           true,
	})
	decision := expect(t, guest, domain.EventAlertResponse)
	assert.Equal(t, true, decision["approved"])

	assert.Eventually(t, func() bool {
		list, err := env.roster.List(context.Background(), lockedRoom)
		return err == nil && len(list) == 2
	}, waitTimeout, 10*time.Millisecond)

	sendFrame(t, guest, domain.EventNewChat, map[string]any{"message": "thanks"})
	msg := expect(t, moderator, domain.EventChatMessage)
	assert.Equal(t, "thanks", msg["message"])
}

func TestRoomSocket_SecondTabLeavingKeepsJoinRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	moderator := env.dial(t, "/ws/room/"+string(lockedRoom), bearer(t, "7"))
	ready(t, moderator)

	guestID, guestToken := env.guest(t)
	waiting := env.dial(t, roomPath(lockedRoom, guestToken), nil)
	ready(t, waiting)
	sendFrame(t, waiting, domain.EventAlert, map[string]any{"username": "Bo"})
	expect(t, moderator, domain.EventAlert)

	// another socket of the same guest comes and goes without asking
	tab := env.dial(t, roomPath(lockedRoom, guestToken), nil)
	ready(t, tab)
	require.NoError(t, tab.Close())
	assert.Eventually(t, func() bool { return env.presence(t, lockedRoom) == 2 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, 1, env.approvals.Pending())

	sendFrame(t, moderator, domain.EventAlertResponse, map[string]any{"user_id": guestID, "approved": true})
	decision := expect(t, waiting, domain.EventAlertResponse)
	assert.Equal(t, true, decision["approved"])

	assert.Eventually(t, func() bool {
		list, err := env.roster.List(context.Background(), lockedRoom)
		return err == nil && len(list) == 2
	}, waitTimeout, 10*time.Millisecond)
}

func TestRoomSocket_RequesterLeavingWithdrawsRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	moderator := env.dial(t, "/ws/room/"+string(lockedRoom), bearer(t, "7"))
	ready(t, moderator)

	guestID, guestToken := env.guest(t)
	waiting := env.dial(t, roomPath(lockedRoom, guestToken), nil)
	ready(t, waiting)
	sendFrame(t, waiting, domain.EventAlert, map[string]any{"username": "Bo"})
	expect(t, moderator, domain.EventAlert)
	require.Equal(t, 1, env.approvals.Pending())

	require.NoError(t, waiting.Close())
	assert.Eventually(t, func() bool { return env.approvals.Pending() == 0 }, waitTimeout, 10*time.Millisecond)

	sendFrame(t, moderator, domain.EventAlertResponse, map[string]any{"user_id": guestID, "approved": true})
	errFrame := expect(t, moderator, domain.EventError)
	assert.Equal(t, domain.ErrNoPendingRequest.Error(), errFrame["message"])
}

// decideDuringConfirm approves the participant right after its first failed
// confirmation, the moment a socket is between lookup and lobby wait.
type decideDuringConfirm struct {
	*services.ApprovalService
	moderator domain.Actor

	mu   sync.Mutex
	done bool
}

func (d *decideDuringConfirm) Confirm(ctx context.Context, room domain.RoomID, participant domain.ParticipantID) error {
	err := d.ApprovalService.Confirm(ctx, room, participant)
	d.mu.Lock()
	first := !d.done
	d.done = true
	d.mu.Unlock()
	if err != nil && first {
		if derr := d.ApprovalService.Decide(ctx, room, d.moderator, participant, true); derr != nil {
			return derr
		}
	}
	return err
}

func TestRoomSocket_ApprovalDuringConnectIsNotLost(t *testing.T) {
	env := newTestEnvWith(t, nil, func(a *services.ApprovalService) ports.ApprovalService {
		return &decideDuringConfirm{ApprovalService: a, moderator: domain.Actor{ParticipantID: "7"}}
	})
	guestID, guestToken := env.guest(t)

	// the request was filed from the lobby page before the socket existed
	require.NoError(t, env.approvals.RequestJoin(context.Background(), domain.JoinRequest{
		RoomID:        lockedRoom,
		ParticipantID: domain.ParticipantID(guestID),
		DisplayName:   "Bo",
	}))

	guest := env.dial(t, roomPath(lockedRoom, guestToken), nil)
	decision := expect(t, guest, domain.EventAlertResponse)
	assert.Equal(t, true, decision["approved"])

	assert.Eventually(t, func() bool {
		list, err := env.roster.List(context.Background(), lockedRoom)
		return err == nil && len(list) == 1 && string(list[0].ParticipantID) == guestID
	}, waitTimeout, 10*time.Millisecond)
}

func TestRoomSocket_PreApprovedGuestJoinsDirectly(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	guestID, guestToken := env.guest(t)

	require.NoError(t, env.approvals.RequestJoin(ctx, domain.JoinRequest{RoomID: lockedRoom, ParticipantID: domain.ParticipantID(guestID)}))
	require.NoError(t, env.approvals.Decide(ctx, lockedRoom, domain.Actor{ParticipantID: "7"}, domain.ParticipantID(guestID), true))

	guest := env.dial(t, roomPath(lockedRoom, guestToken), nil)
	ready(t, guest)
	moderator := env.dial(t, "/ws/room/"+string(lockedRoom), bearer(t, "7"))
	ready(t, moderator)

	sendFrame(t, guest, domain.EventNewChat, map[string]any{"message": "already in"})
	assert.Equal(t, "already in", expect(t, moderator, domain.EventChatMessage)["message"])
}

func TestRoomSocket_WaitingRoomDenial(t *testing.T) {
	env := newTestEnv(t, nil)
	moderator := env.dial(t, "/ws/room/"+string(lockedRoom), bearer(t, "7"))
	ready(t, moderator)
	guestID, guestToken := env.guest(t)
	guest := env.dial(t, roomPath(lockedRoom, guestToken), nil)
	ready(t, guest)

	sendFrame(t, guest, domain.EventJoinRoom, map[string]any{"username": "Bo"})
	expect(t, moderator, domain.EventAlert)

	sendFrame(t, moderator, domain.EventAlertResponse, map[string]any{"user_id": guestID, "approved": false})
	decision := expect(t, guest, domain.EventAlertResponse)
	assert.Equal(t, false, decision["approved"])

	code, _ := closeCode(t, guest)
	assert.Equal(t, domain.CloseRoomNotFound, code)
	assert.Eventually(t, func() bool { return env.presence(t, lockedRoom) == 1 }, waitTimeout, 10*time.Millisecond)
}

func TestRoomSocket_Breakouts(t *testing.T) {
	env := newTestEnv(t, nil)
	firstID, firstToken := env.guest(t)
	secondID, secondToken := env.guest(t)
	moderator := env.dial(t, "/ws/room/"+string(breakoutRoom), bearer(t, "8"))
	guest := env.dial(t, roomPath(breakoutRoom, firstToken), nil)
	ready(t, moderator)
	ready(t, guest)

	sendFrame(t, moderator, domain.EventBreakoutCreate, map[string]any{"names": []string{"Red", "Blue"}})
	created := expect(t, moderator, domain.EventBreakoutCreated)
	list := created["breakouts"].([]any)
	require.Len(t, list, 2)
	red := list[0].(map[string]any)["breakout_id"].(string)
	blue := list[1].(map[string]any)["breakout_id"].(string)

	sendFrame(t, moderator, domain.EventBreakoutAssign, map[string]any{
		"assignments": []map[string]string{
			{"participant_id": firstID, "breakout_id": red},
			{"participant_id": secondID, "breakout_id": blue},
		},
	})
	assigned := expect(t, guest, domain.EventBreakoutAssigned)
	assert.Equal(t, red, assigned["breakout_id"])

	sendFrame(t, guest, domain.EventBreakoutJoin, map[string]any{"breakout_id": blue})
	refused := expect(t, guest, domain.EventError)
	assert.Equal(t, domain.ErrBreakoutNotAssigned.Error(), refused["message"])

	sendFrame(t, guest, domain.EventBreakoutJoin, map[string]any{"breakout_id": red})
	joined := expect(t, guest, domain.EventBreakoutJoined)
	assert.Equal(t, red, joined["breakout_id"])

	// a room code with a breakout suffix joins the assigned breakout directly
	other := env.dial(t, "/ws/room/"+string(breakoutRoom)+"-"+blue+"?guest_token="+secondToken, nil)
	auto := expect(t, other, domain.EventBreakoutJoined)
	assert.Equal(t, blue, auto["breakout_id"])

	sendFrame(t, moderator, domain.EventBreakoutBroadcast, map[string]any{"message": "five minutes left"})
	assert.Equal(t, "five minutes left", expect(t, guest, domain.EventBreakoutMessage)["message"])
	assert.Equal(t, "five minutes left", expect(t, other, domain.EventBreakoutMessage)["message"])

	sendFrame(t, moderator, domain.EventBreakoutClose, nil)
	expect(t, guest, domain.EventBreakoutClosed)

	// back in the parent room, chat reaches the moderator again
	sendFrame(t, guest, domain.EventNewChat, map[string]any{"message": "back"})
	assert.Equal(t, "back", expect(t, moderator, domain.EventChatMessage)["message"])
}

func TestUserSocket_Register(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.dial(t, "/ws/user", nil)
	guestID, guestToken := env.guest(t)
	_, otherToken := env.guest(t)

	// a bare guest id proves nothing
	sendFrame(t, user, domain.EventRegister, map[string]any{"user_id": guestID})
	expect(t, user, domain.EventError)

	require.NoError(t, user.WriteJSON(map[string]any{
		"type":    "register",
		"user_id": "guest_0000ffff",
		"data":    map[string]any{"guest_token": guestToken},
	}))
	expect(t, user, domain.EventError)

	sendFrame(t, user, domain.EventRegister, map[string]any{"guest_token": guestToken})
	registered := expect(t, user, domain.EventRegistered)
	assert.Equal(t, guestID, registered["user_id"])

	sendFrame(t, user, domain.EventRegister, map[string]any{"guest_token": otherToken})
	expect(t, user, domain.EventError)

	// out-of-band notices reach the registered channel
	moderator := env.dial(t, "/ws/room/"+string(freeRoom), bearer(t, "42"))
	ready(t, moderator)
	sendFrame(t, moderator, domain.EventKickUser, map[string]any{"targetUserId": guestID})
	expect(t, user, domain.EventKicked)
}

func TestUserSocket_GuestTokenRegistersImmediately(t *testing.T) {
	env := newTestEnv(t, nil)
	guestID, guestToken := env.guest(t)

	user := env.dial(t, "/ws/user?guest_token="+guestToken, nil)
	assert.Equal(t, guestID, expect(t, user, domain.EventRegistered)["user_id"])

	refused := env.dial(t, "/ws/user?guest_token=forged", nil)
	code, _ := closeCode(t, refused)
	assert.Equal(t, domain.CloseRoomNotFound, code)
}

func TestUserSocket_TokenRegistersImmediately(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.dial(t, "/ws/user", bearer(t, "7"))
	registered := expect(t, user, domain.EventRegistered)
	assert.Equal(t, "7", registered["user_id"])

	guest := env.dial(t, "/ws/room/"+string(lockedRoom), nil)
	ready(t, guest)
	sendFrame(t, guest, domain.EventAlert, map[string]any{"username": "Bo"})

	request := expect(t, user, domain.EventAlert)
	assert.Equal(t, string(lockedRoom), request["room_id"])
}

func TestServer_Shutdown(t *testing.T) {
	env := newTestEnv(t, nil)
	ws := env.dial(t, "/ws/room/"+string(freeRoom), nil)
	ready(t, ws)
	require.Equal(t, 1, env.srv.Connections())

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, env.srv.Shutdown(ctx))

	code, _ := closeCode(t, ws)
	assert.Equal(t, websocket.CloseGoingAway, code)
	assert.Zero(t, env.srv.Connections())
	assert.Zero(t, env.presence(t, freeRoom))
}

func TestSocketCounter(t *testing.T) {
	c := newSocketCounter()
	assert.True(t, c.acquire("42", 2))
	assert.True(t, c.acquire("42", 2))
	assert.False(t, c.acquire("42", 2))
	c.release("42")
	assert.Equal(t, 1, c.count("42"))
	assert.True(t, c.acquire("42", 0))
	c.release("42")
	c.release("42")
	assert.Zero(t, c.count("42"))
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, domain.ErrNotModerator.Error(), publicMessage(errors.Join(errors.New("ctx"), domain.ErrNotModerator)))
	assert.Equal(t, "internal error", publicMessage(errors.New("redis: connection refused")))
}
