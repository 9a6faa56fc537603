package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetsignal/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type BreakoutRepository struct {
	db querier
}

const breakoutColumns = `id, parent_room_id, name, is_active, created_by, created_at, closed_at`

// CreateBatch inserts all breakouts in one transaction. A clashing id fails
// the whole batch with domain.ErrDuplicateBreakout.
func (r *BreakoutRepository) CreateBatch(ctx context.Context, breakouts []*domain.Breakout) error {
	if len(breakouts) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range breakouts {
			batch.Queue(`INSERT INTO breakout_rooms (`+breakoutColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				string(b.ID), string(b.ParentRoomID), b.Name, b.IsActive, string(b.CreatedBy), b.CreatedAt, b.ClosedAt)
		}

		results := tx.SendBatch(ctx, batch)
		for range breakouts {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %v", domain.ErrDuplicateBreakout, err)
				}
				return fmt.Errorf("failed to insert breakout: %w", err)
			}
		}
		return results.Close()
	})
}

func (r *BreakoutRepository) GetByID(ctx context.Context, parent domain.RoomID, id domain.BreakoutID) (*domain.Breakout, error) {
	row := r.db.QueryRow(ctx, `SELECT `+breakoutColumns+` FROM breakout_rooms WHERE parent_room_id = $1 AND id = $2`,
		string(parent), string(id))

	b, err := scanBreakout(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBreakoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load breakout: %w", err)
	}
	return b, nil
}

func (r *BreakoutRepository) ListActive(ctx context.Context, parent domain.RoomID) ([]*domain.Breakout, error) {
	rows, err := r.db.Query(ctx, `SELECT `+breakoutColumns+` FROM breakout_rooms
		WHERE parent_room_id = $1 AND is_active ORDER BY created_at, name`, string(parent))
	if err != nil {
		return nil, fmt.Errorf("failed to list breakouts: %w", err)
	}
	return collectBreakouts(rows)
}

// CloseAll flips every active breakout of parent in a single UPDATE.
func (r *BreakoutRepository) CloseAll(ctx context.Context, parent domain.RoomID, at time.Time) ([]*domain.Breakout, error) {
	rows, err := r.db.Query(ctx, `UPDATE breakout_rooms SET is_active = FALSE, closed_at = $2
		WHERE parent_room_id = $1 AND is_active
		RETURNING `+breakoutColumns, string(parent), at)
	if err != nil {
		return nil, fmt.Errorf("failed to close breakouts: %w", err)
	}
	return collectBreakouts(rows)
}

func collectBreakouts(rows pgx.Rows) ([]*domain.Breakout, error) {
	defer rows.Close()

	var result []*domain.Breakout
	for rows.Next() {
		b, err := scanBreakout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan breakout: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanBreakout(row pgx.Row) (*domain.Breakout, error) {
	var (
		b                     domain.Breakout
		id, parent, createdBy string
	)
	if err := row.Scan(&id, &parent, &b.Name, &b.IsActive, &createdBy, &b.CreatedAt, &b.ClosedAt); err != nil {
		return nil, err
	}
	b.ID = domain.BreakoutID(id)
	b.ParentRoomID = domain.RoomID(parent)
	b.CreatedBy = domain.ParticipantID(createdBy)
	return &b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
