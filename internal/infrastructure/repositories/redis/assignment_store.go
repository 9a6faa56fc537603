package redis

import (
	"context"
	"fmt"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AssignmentStore keeps one hash per parent room: participant -> breakout.
type AssignmentStore struct {
	client *redis.Client
}

func NewAssignmentStore(client *redis.Client) ports.AssignmentStore {
	return &AssignmentStore{client: client}
}

func (s *AssignmentStore) Assign(ctx context.Context, room domain.RoomID, assignments []domain.Assignment, ttl time.Duration) error {
	if len(assignments) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(assignments)*2)
	for _, a := range assignments {
		values = append(values, string(a.ParticipantID), string(a.BreakoutID))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, assignmentsKey(room), values...)
		pipe.Expire(ctx, assignmentsKey(room), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store assignments: %w", err)
	}
	return nil
}

func (s *AssignmentStore) Lookup(ctx context.Context, room domain.RoomID, p domain.ParticipantID) (domain.BreakoutID, error) {
	id, err := s.client.HGet(ctx, assignmentsKey(room), string(p)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read assignment: %w", err)
	}
	return domain.BreakoutID(id), nil
}

func (s *AssignmentStore) Clear(ctx context.Context, room domain.RoomID, p domain.ParticipantID) error {
	if err := s.client.HDel(ctx, assignmentsKey(room), string(p)).Err(); err != nil {
		return fmt.Errorf("failed to clear assignment: %w", err)
	}
	return nil
}

func (s *AssignmentStore) ClearRoom(ctx context.Context, room domain.RoomID) error {
	if err := s.client.Del(ctx, assignmentsKey(room)).Err(); err != nil {
		return fmt.Errorf("failed to clear assignments: %w", err)
	}
	return nil
}
