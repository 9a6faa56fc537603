package memory

import (
	"context"
	"testing"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeededRoomDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewSeededRoomDirectory([]config.DevRoom{
		{RoomID: "abc-defg-hij", TenantID: "org-1", ModeratorID: "42", Tier: "free", Locked: true},
		{RoomID: "xyz-abcd-efg", ModeratorID: "7", Tier: "business"},
	})

	room, err := dir.GetRoom(ctx, "abc-defg-hij")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("42"), room.ModeratorID)
	assert.True(t, room.Locked)

	plan, err := dir.ResolvePlan(ctx, room.TenantID)
	require.NoError(t, err)
	assert.Equal(t, 4, plan.MaxParticipants)
	assert.Equal(t, 30*time.Minute, plan.MaxDuration)

	other, err := dir.GetRoom(ctx, "xyz-abcd-efg")
	require.NoError(t, err)
	plan, err = dir.ResolvePlan(ctx, other.TenantID)
	require.NoError(t, err)
	assert.True(t, plan.BreakoutRoomsEnabled)

	_, err = dir.GetRoom(ctx, "nop-qrst-uvw")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomDirectory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryRoomDirectory()
	dir.Put(&domain.Room{ID: "abc-defg-hij", ModeratorID: "1"}, domain.TierPro)

	room, err := dir.GetRoom(ctx, "abc-defg-hij")
	require.NoError(t, err)
	room.ModeratorID = "attacker"

	again, err := dir.GetRoom(ctx, "abc-defg-hij")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("1"), again.ModeratorID)
}

func TestBreakoutRepository_CloseAll(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBreakoutRepository()
	parent := domain.RoomID("abc-defg-hij")
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateBatch(ctx, []*domain.Breakout{
		{ID: "br-000001", ParentRoomID: parent, Name: "A", IsActive: true, CreatedAt: now},
		{ID: "br-000002", ParentRoomID: parent, Name: "B", IsActive: true, CreatedAt: now},
		{ID: "br-000003", ParentRoomID: "xyz-abcd-efg", Name: "C", IsActive: true, CreatedAt: now},
	}))

	closed, err := repo.CloseAll(ctx, parent, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, closed, 2)
	assert.Equal(t, "A", closed[0].Name)
	require.NotNil(t, closed[0].ClosedAt)

	active, err := repo.ListActive(ctx, parent)
	require.NoError(t, err)
	assert.Empty(t, active)

	active, err = repo.ListActive(ctx, "xyz-abcd-efg")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	closed, err = repo.CloseAll(ctx, parent, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, closed)

	_, err = repo.GetByID(ctx, parent, "br-000003")
	assert.ErrorIs(t, err, domain.ErrBreakoutNotFound)
}

func TestBreakoutRepository_RejectsDuplicateBatch(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBreakoutRepository()
	b := &domain.Breakout{ID: "br-000001", ParentRoomID: "abc-defg-hij", IsActive: true}

	require.NoError(t, repo.CreateBatch(ctx, []*domain.Breakout{b}))
	assert.ErrorIs(t, repo.CreateBatch(ctx, []*domain.Breakout{b}), domain.ErrDuplicateBreakout)

	twin := &domain.Breakout{ID: "br-000002", ParentRoomID: "abc-defg-hij", IsActive: true}
	err := repo.CreateBatch(ctx, []*domain.Breakout{twin, twin})
	assert.ErrorIs(t, err, domain.ErrDuplicateBreakout)
	_, err = repo.GetByID(ctx, "abc-defg-hij", "br-000002")
	assert.ErrorIs(t, err, domain.ErrBreakoutNotFound)
}

func TestApprovalStore_ExpiresEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	store := newMemoryApprovalStore(func() time.Time { return now })

	require.NoError(t, store.PutApproval(ctx, domain.PendingApproval{RoomID: "abc-defg-hij", ParticipantID: "7"}, time.Minute))
	now = now.Add(2 * time.Minute)

	approval, err := store.TakeApproval(ctx, "abc-defg-hij", "7")
	require.NoError(t, err)
	assert.Nil(t, approval)
}

func TestApprovalStore_TakeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryApprovalStore()

	require.NoError(t, store.PutRequest(ctx, domain.JoinRequest{RoomID: "abc-defg-hij", ParticipantID: "7"}, time.Minute))

	req, err := store.TakeRequest(ctx, "abc-defg-hij", "7")
	require.NoError(t, err)
	require.NotNil(t, req)

	req, err = store.TakeRequest(ctx, "abc-defg-hij", "7")
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestApprovalStore_WithdrawOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryApprovalStore()
	req := domain.JoinRequest{RoomID: "abc-defg-hij", ParticipantID: "guest_0000beef", ConnectionID: "conn-first"}
	require.NoError(t, store.PutRequest(ctx, req, time.Minute))

	removed, err := store.WithdrawRequest(ctx, "abc-defg-hij", "guest_0000beef", "conn-second")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = store.WithdrawRequest(ctx, "abc-defg-hij", "guest_0000beef", "conn-first")
	require.NoError(t, err)
	assert.True(t, removed)

	left, err := store.TakeRequest(ctx, "abc-defg-hij", "guest_0000beef")
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestPresenceCounter_NeverNegative(t *testing.T) {
	ctx := context.Background()
	counter := NewMemoryPresenceCounter()

	n, err := counter.Decrement(ctx, "abc-defg-hij")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, _ = counter.Increment(ctx, "abc-defg-hij")
	n, err = counter.Count(ctx, "abc-defg-hij")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGrantRepository_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccessGrantRepository()
	grant := domain.AccessGrant{RoomID: "abc-defg-hij", UserID: "7"}

	require.NoError(t, repo.Grant(ctx, grant))
	require.NoError(t, repo.Grant(ctx, grant))
	assert.True(t, repo.Has("abc-defg-hij", "7"))
	assert.False(t, repo.Has("abc-defg-hij", "8"))
}
