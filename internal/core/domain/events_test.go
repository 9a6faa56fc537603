package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_FlattensPayload(t *testing.T) {
	ev, err := NewEvent(EventUserKicked, UserKickedPayload{TargetUserID: "7", ModeratorID: "42"})
	require.NoError(t, err)
	assert.Equal(t, EventUserKicked, ev.Type)
	assert.JSONEq(t, `{"type":"user-kicked","targetUserId":"7","moderator_id":"42"}`, string(ev.Frame))
}

func TestNewEvent_NilPayload(t *testing.T) {
	ev, err := NewEvent(EventRequestInfo, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"request-info"}`, string(ev.Frame))
}

func TestNewEvent_RejectsNonObject(t *testing.T) {
	_, err := NewEvent(EventChatMessage, "just a string")
	assert.Error(t, err)
}

func TestNewEvent_StrokeKeepsRawData(t *testing.T) {
	ev, err := NewEvent(EventMouseMove, StrokePayload{Data: json.RawMessage(`{"x":1,"y":2}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mousemove","data":{"x":1,"y":2}}`, string(ev.Frame))
}

func TestCloseCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ErrRoomNotFound, 4004},
		{ErrAccessDenied, 4004},
		{fmt.Errorf("admit: %w", ErrCapacityExceeded), 4029},
		{ErrRateLimited, 4029},
		{ErrOriginNotAllowed, 4003},
		{errors.New("boom"), 1011},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, CloseCodeFor(tc.err), tc.err.Error())
	}
}

func TestRoom_ClassifyToken(t *testing.T) {
	room := &Room{ID: "abc-defg-hij", ModeratorID: "42", ModeratorToken: "mod-tok", AttendeeToken: "att-tok"}

	class, err := room.ClassifyToken("")
	require.NoError(t, err)
	assert.Equal(t, LinkNone, class)

	class, err = room.ClassifyToken("mod-tok")
	require.NoError(t, err)
	assert.Equal(t, LinkModerator, class)

	class, err = room.ClassifyToken("att-tok")
	require.NoError(t, err)
	assert.Equal(t, LinkAttendee, class)

	_, err = room.ClassifyToken("forged")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestRoom_IsModerator(t *testing.T) {
	room := &Room{ModeratorID: "42", ModeratorToken: "mod-tok"}

	assert.True(t, room.IsModerator(Actor{ParticipantID: "42"}))
	assert.True(t, room.IsModerator(Actor{ParticipantID: "guest_0a1b2c3d", LinkToken: "mod-tok"}))
	assert.False(t, room.IsModerator(Actor{ParticipantID: "7"}))
	assert.False(t, room.IsModerator(Actor{ParticipantID: "7", LinkToken: "wrong"}))

	guestOwned := &Room{ModeratorID: "guest_0a1b2c3d"}
	assert.False(t, guestOwned.IsModerator(Actor{ParticipantID: "guest_0a1b2c3d"}))
}

func TestSessionClock_Remaining(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := SessionClock{StartedAt: start, DurationLimit: 30 * time.Minute}

	assert.Equal(t, 5*time.Minute, clock.Remaining(start.Add(25*time.Minute)))
	assert.Equal(t, time.Duration(0), clock.Remaining(start.Add(31*time.Minute)))
}

func TestPlanForTier(t *testing.T) {
	free := PlanForTier("unknown")
	assert.Equal(t, 4, free.MaxParticipants)
	assert.True(t, free.HasDurationLimit())

	biz := PlanForTier(TierBusiness)
	assert.True(t, biz.BreakoutRoomsEnabled)
	assert.True(t, biz.WaitingRoomEnabled)
	assert.False(t, biz.HasDurationLimit())

	assert.Equal(t, time.Duration(0), DurationFromMinutes(-1))
	assert.Equal(t, 30*time.Minute, DurationFromMinutes(30))
}

func TestParticipantID_IsGuest(t *testing.T) {
	assert.True(t, ParticipantID("guest_0a1b2c3d").IsGuest())
	assert.False(t, ParticipantID("42").IsGuest())
}

func TestGroupKeys(t *testing.T) {
	assert.Equal(t, GroupKey("room:abc-defg-hij"), RoomGroup("abc-defg-hij"))
	assert.Equal(t, GroupKey("user:42"), UserGroup("42"))
	assert.Equal(t, GroupKey("room:abc-defg-hij:participant:42"), ParticipantGroup("abc-defg-hij", "42"))
	assert.Equal(t, GroupKey("room:abc-defg-hij:breakout:br-0a1b2c"), BreakoutGroup("abc-defg-hij", "br-0a1b2c"))
}
