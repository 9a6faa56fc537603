package distributed

import (
	"context"
	"testing"
	"time"

	"meetsignal/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRoster(t *testing.T, mr *miniredis.Miniredis, instance string) *SharedRoster {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSharedRoster(client, instance, zap.NewNop().Sugar())
}

func TestSharedRoster_ListAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	room := domain.RoomID("abc-defg-hij")
	a := setupRoster(t, mr, "instance-a")
	b := setupRoster(t, mr, "instance-b")

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.Add(ctx, room, domain.Participant{ConnectionID: "c2", ParticipantID: "guest_00000002", JoinedAt: t0.Add(time.Minute)}, time.Hour))
	require.NoError(t, a.Add(ctx, room, domain.Participant{ConnectionID: "c1", ParticipantID: "42", IsModerator: true, JoinedAt: t0}, time.Hour))

	list, err := a.List(ctx, room)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.ParticipantID("42"), list[0].ParticipantID)
	assert.Equal(t, "instance-a", list[0].Instance)
	assert.Equal(t, "instance-b", list[1].Instance)

	require.NoError(t, a.Remove(ctx, room, "c1"))
	list, err = b.List(ctx, room)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.ConnectionID("c2"), list[0].ConnectionID)
}

func TestSharedRoster_CleanupInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	room := domain.RoomID("abc-defg-hij")
	a := setupRoster(t, mr, "instance-a")
	b := setupRoster(t, mr, "instance-b")

	require.NoError(t, a.Add(ctx, room, domain.Participant{ConnectionID: "c1", ParticipantID: "1"}, time.Hour))
	require.NoError(t, a.Add(ctx, "xyz-abcd-efg", domain.Participant{ConnectionID: "c3", ParticipantID: "3"}, time.Hour))
	require.NoError(t, b.Add(ctx, room, domain.Participant{ConnectionID: "c2", ParticipantID: "2"}, time.Hour))

	require.NoError(t, a.CleanupInstance(ctx))

	list, err := b.List(ctx, room)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "instance-b", list[0].Instance)

	other, err := b.List(ctx, "xyz-abcd-efg")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSharedRoster_EmptyRoom(t *testing.T) {
	mr := miniredis.RunT(t)
	r := setupRoster(t, mr, "instance-a")

	list, err := r.List(context.Background(), "abc-defg-hij")
	require.NoError(t, err)
	assert.Empty(t, list)
}
