package postgres

import (
	"context"
	"fmt"

	"meetsignal/internal/core/domain"
)

type AccessGrantRepository struct {
	db querier
}

// Grant records that a user may rejoin a room. Existing grants are kept.
func (r *AccessGrantRepository) Grant(ctx context.Context, g domain.AccessGrant) error {
	_, err := r.db.Exec(ctx, `INSERT INTO meeting_access_grants (user_id, room_id, author_id, meeting_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, room_id) DO NOTHING`,
		string(g.UserID), string(g.RoomID), string(g.AuthorID), g.MeetingName, g.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to grant access: %w", err)
	}
	return nil
}
