package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// SessionClockStore keeps one clock per room plus a hash of one-shot markers.
type SessionClockStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionClockStore(client *redis.Client, ttl time.Duration) ports.SessionClockStore {
	return &SessionClockStore{client: client, ttl: ttl}
}

func (s *SessionClockStore) StartIfAbsent(ctx context.Context, clock domain.SessionClock) (domain.SessionClock, error) {
	data, err := json.Marshal(clock)
	if err != nil {
		return domain.SessionClock{}, fmt.Errorf("failed to marshal clock: %w", err)
	}

	created, err := s.client.SetNX(ctx, clockKey(clock.RoomID), data, s.ttl).Result()
	if err != nil {
		return domain.SessionClock{}, fmt.Errorf("failed to start clock: %w", err)
	}
	if created {
		return clock, nil
	}

	existing, err := s.Get(ctx, clock.RoomID)
	if err != nil {
		return domain.SessionClock{}, err
	}
	if existing == nil {
		// deleted between SETNX and GET; the room emptied meanwhile
		return clock, nil
	}
	return *existing, nil
}

func (s *SessionClockStore) Get(ctx context.Context, room domain.RoomID) (*domain.SessionClock, error) {
	data, err := s.client.Get(ctx, clockKey(room)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clock: %w", err)
	}

	var clock domain.SessionClock
	if err := json.Unmarshal(data, &clock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal clock: %w", err)
	}
	return &clock, nil
}

func (s *SessionClockStore) Delete(ctx context.Context, room domain.RoomID) error {
	if err := s.client.Del(ctx, clockKey(room), clockMarksKey(room)).Err(); err != nil {
		return fmt.Errorf("failed to delete clock: %w", err)
	}
	return nil
}

func (s *SessionClockStore) MarkOnce(ctx context.Context, room domain.RoomID, marker string) (bool, error) {
	var set *redis.BoolCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		set = pipe.HSetNX(ctx, clockMarksKey(room), marker, time.Now().Unix())
		pipe.Expire(ctx, clockMarksKey(room), s.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to set clock marker: %w", err)
	}
	return set.Val(), nil
}
