package postgres

import (
	"context"
	"errors"
	"fmt"

	"meetsignal/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// RoomDirectory resolves codes against personal rooms first, then scheduled meetings.
type RoomDirectory struct {
	db querier
}

const getRoomSQL = `
	SELECT room_id, organization_id, user_id, room_name, moderator_token, attendee_token, is_locked, TRUE
	FROM personal_rooms
	WHERE room_id = $1 AND is_active
	UNION ALL
	SELECT room_id, COALESCE(organization_id, ''), author_id, name, '', '', require_approval, FALSE
	FROM meetings
	WHERE room_id = $1
	LIMIT 1`

func (d *RoomDirectory) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return scanRoom(d.db.QueryRow(ctx, getRoomSQL, string(id)))
}

func scanRoom(row pgx.Row) (*domain.Room, error) {
	var (
		room                  domain.Room
		id, tenant, moderator string
	)
	err := row.Scan(&id, &tenant, &moderator, &room.Name, &room.ModeratorToken, &room.AttendeeToken, &room.Locked, &room.Persistent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}

	room.ID = domain.RoomID(id)
	room.TenantID = domain.TenantID(tenant)
	room.ModeratorID = domain.ParticipantID(moderator)
	return &room, nil
}
