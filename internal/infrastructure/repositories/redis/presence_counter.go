package redis

import (
	"context"
	"fmt"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// decrement and drop the key once the room is empty
var decrementScript = redis.NewScript(`
local n = redis.call("DECR", KEYS[1])
if n <= 0 then
	redis.call("DEL", KEYS[1])
	return 0
end
return n
`)

// PresenceCounter is the shared occupancy counter. Every increment refreshes
// the key TTL so counters of crashed instances eventually expire.
type PresenceCounter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresenceCounter(client *redis.Client, ttl time.Duration) ports.PresenceCounter {
	return &PresenceCounter{client: client, ttl: ttl}
}

func (c *PresenceCounter) Increment(ctx context.Context, room domain.RoomID) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, presenceKey(room))
		pipe.Expire(ctx, presenceKey(room), c.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment presence: %w", err)
	}
	return incr.Val(), nil
}

func (c *PresenceCounter) Decrement(ctx context.Context, room domain.RoomID) (int64, error) {
	n, err := decrementScript.Run(ctx, c.client, []string{presenceKey(room)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement presence: %w", err)
	}
	return n, nil
}

func (c *PresenceCounter) Count(ctx context.Context, room domain.RoomID) (int64, error) {
	n, err := c.client.Get(ctx, presenceKey(room)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read presence: %w", err)
	}
	return n, nil
}
