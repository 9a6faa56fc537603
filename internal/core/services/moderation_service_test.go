package services

import (
	"context"
	"testing"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/internal/infrastructure/distributed"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newModerationService(t *testing.T, bus ports.Broadcaster, dir ports.RoomDirectory) ports.ModerationService {
	t.Helper()
	plans := newDirectory()
	if dir == nil {
		dir = plans
	}
	return NewModerationService(NewModeratorVerifier(dir, plans), bus, zaptest.NewLogger(t).Sugar())
}

func TestModeration_Kick(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	svc := newModerationService(t, bus, nil)
	mod := domain.Actor{ParticipantID: "42", ConnectionID: "conn-mod"}

	require.NoError(t, svc.Kick(ctx, freeRoom, mod, "guest_0000abcd"))

	assert.ElementsMatch(t, []domain.GroupKey{
		domain.UserGroup("guest_0000abcd"),
		domain.ParticipantGroup(freeRoom, "guest_0000abcd"),
	}, bus.groups(domain.EventKicked))

	kicked := bus.ofType(domain.EventUserKicked)
	require.Len(t, kicked, 1)
	assert.Equal(t, domain.RoomGroup(freeRoom), kicked[0].Group)
	assert.Equal(t, "guest_0000abcd", kicked[0].Frame["targetUserId"])
	assert.Equal(t, "42", kicked[0].Frame["moderator_id"])
	assert.Equal(t, mod.ConnectionID, kicked[0].Exclude)
}

func TestModeration_KickRejections(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	svc := newModerationService(t, bus, nil)

	err := svc.Kick(ctx, freeRoom, domain.Actor{ParticipantID: "guest_0000abcd"}, "42")
	assert.ErrorIs(t, err, domain.ErrNotModerator)

	err = svc.Kick(ctx, freeRoom, domain.Actor{ParticipantID: "42"}, "42")
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	err = svc.Kick(ctx, freeRoom, domain.Actor{ParticipantID: "42"}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	assert.Zero(t, bus.count())
}

func TestModeration_ModeratorLinkGrantsPrivileges(t *testing.T) {
	bus := &recordingBus{}
	svc := newModerationService(t, bus, nil)
	guestWithLink := domain.Actor{ParticipantID: "guest_0000abcd", LinkToken: "mod-tok"}

	require.NoError(t, svc.EndMeeting(context.Background(), freeRoom, guestWithLink))
	assert.Len(t, bus.ofType(domain.EventMeetingEnded), 1)

	attendee := domain.Actor{ParticipantID: "guest_0000abcd", LinkToken: "att-tok"}
	assert.ErrorIs(t, svc.MuteAll(context.Background(), freeRoom, attendee), domain.ErrNotModerator)
}

func TestModeration_FailsClosedWhenDirectoryDown(t *testing.T) {
	bus := &recordingBus{}
	svc := newModerationService(t, bus, failingDirectory{})

	err := svc.Kick(context.Background(), freeRoom, domain.Actor{ParticipantID: "42"}, "100")
	assert.ErrorIs(t, err, domain.ErrNotModerator)
	assert.Zero(t, bus.count())
}

func TestModeration_RecordingNeedsPlan(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	svc := newModerationService(t, bus, nil)

	err := svc.SetRecording(ctx, freeRoom, domain.Actor{ParticipantID: "42"}, true)
	assert.ErrorIs(t, err, domain.ErrFeatureNotEnabled)

	require.NoError(t, svc.SetRecording(ctx, proRoom, domain.Actor{ParticipantID: "9"}, true))
	require.NoError(t, svc.SetRecording(ctx, proRoom, domain.Actor{ParticipantID: "9"}, false))
	assert.Len(t, bus.ofType(domain.EventRecordingStarted), 1)
	assert.Len(t, bus.ofType(domain.EventRecordingStopped), 1)
}

func TestModeration_SenderDoesNotReceiveOwnBroadcast(t *testing.T) {
	ctx := context.Background()
	bus := distributed.NewLocalGroupBus(nil)
	svc := newModerationService(t, bus, nil)

	moderator := &recordingSub{id: "conn-mod"}
	other := &recordingSub{id: "conn-other"}
	require.NoError(t, bus.Subscribe(ctx, domain.RoomGroup(freeRoom), moderator))
	require.NoError(t, bus.Subscribe(ctx, domain.RoomGroup(freeRoom), other))

	require.NoError(t, svc.MuteAll(ctx, freeRoom, domain.Actor{ParticipantID: "42", ConnectionID: "conn-mod"}))

	assert.Empty(t, moderator.received())
	require.Len(t, other.received(), 1)
	assert.Equal(t, domain.EventMuteAll, other.received()[0].Type)

	ev, err := domain.NewEvent(domain.EventRequestInfo, domain.UserPayload{UserID: "42"})
	require.NoError(t, err)
	require.NoError(t, svc.Broadcast(ctx, freeRoom, domain.Actor{ParticipantID: "42", ConnectionID: "conn-mod"}, ev))
	assert.Empty(t, moderator.received())
	assert.Len(t, other.received(), 2)
}
