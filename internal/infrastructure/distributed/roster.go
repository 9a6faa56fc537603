package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SharedRoster lists room connections across instances. Each room is a hash
// of connection id -> participant JSON; each instance also tracks the entries
// it wrote so they can be dropped on shutdown.
type SharedRoster struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	prefix     string
}

type rosterMember struct {
	Room domain.RoomID       `json:"r"`
	Conn domain.ConnectionID `json:"c"`
}

func NewSharedRoster(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *SharedRoster {
	return &SharedRoster{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		prefix:     "meet:roster:",
	}
}

var _ ports.Roster = (*SharedRoster)(nil)

func (r *SharedRoster) Add(ctx context.Context, room domain.RoomID, p domain.Participant, ttl time.Duration) error {
	p.Instance = r.instanceID
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.roomKey(room), string(p.ConnectionID), data)
		pipe.Expire(ctx, r.roomKey(room), ttl)
		pipe.SAdd(ctx, r.instanceKey(), r.member(room, p.ConnectionID))
		pipe.Expire(ctx, r.instanceKey(), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add participant to roster: %w", err)
	}
	return nil
}

func (r *SharedRoster) Remove(ctx context.Context, room domain.RoomID, conn domain.ConnectionID) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.roomKey(room), string(conn))
		pipe.SRem(ctx, r.instanceKey(), r.member(room, conn))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove participant from roster: %w", err)
	}
	return nil
}

// List returns the room's participants ordered by join time.
func (r *SharedRoster) List(ctx context.Context, room domain.RoomID) ([]domain.Participant, error) {
	entries, err := r.client.HGetAll(ctx, r.roomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}

	participants := make([]domain.Participant, 0, len(entries))
	for conn, data := range entries {
		var p domain.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			r.logger.Warnw("skipping malformed roster entry",
				"room_id", room,
				"connection_id", conn,
				"error", err,
			)
			continue
		}
		participants = append(participants, p)
	}

	sort.Slice(participants, func(i, j int) bool {
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants, nil
}

// CleanupInstance removes every roster entry written by this instance.
func (r *SharedRoster) CleanupInstance(ctx context.Context) error {
	members, err := r.client.SMembers(ctx, r.instanceKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to read instance roster: %w", err)
	}

	for _, m := range members {
		var entry rosterMember
		if err := json.Unmarshal([]byte(m), &entry); err != nil {
			continue
		}
		if err := r.client.HDel(ctx, r.roomKey(entry.Room), string(entry.Conn)).Err(); err != nil {
			r.logger.Warnw("failed to drop roster entry", "room_id", entry.Room, "error", err)
		}
	}

	if err := r.client.Del(ctx, r.instanceKey()).Err(); err != nil {
		return fmt.Errorf("failed to drop instance roster: %w", err)
	}

	r.logger.Infow("cleaned up instance roster", "instance_id", r.instanceID, "entries", len(members))
	return nil
}

func (r *SharedRoster) roomKey(room domain.RoomID) string {
	return r.prefix + "room:" + string(room)
}

func (r *SharedRoster) instanceKey() string {
	return r.prefix + "instance:" + r.instanceID
}

func (r *SharedRoster) member(room domain.RoomID, conn domain.ConnectionID) string {
	data, _ := json.Marshal(rosterMember{Room: room, Conn: conn})
	return string(data)
}
