package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	groupChannelPrefix = "meet:group:"
	busChannelSize     = 4096
)

// envelope is the wire form of one broadcast on the group channel.
type envelope struct {
	Group      domain.GroupKey     `json:"group"`
	Exclude    domain.ConnectionID `json:"exclude,omitempty"`
	InstanceID string              `json:"instance_id"`
	Event      domain.Event        `json:"event"`
}

// RedisGroupBus fans out group events across instances through Redis pub/sub.
// Every instance pattern-subscribes to all group channels once and delivers to
// the sockets it owns. Local recipients are also reached through Redis so a
// sender's events keep a single order for every recipient.
type RedisGroupBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	observer   DeliveryObserver

	table  *deliveryTable
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

// NewRedisGroupBus subscribes to the group channels and starts the delivery
// loop. It returns once Redis has confirmed the subscription.
func NewRedisGroupBus(
	ctx context.Context,
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
	observer DeliveryObserver,
) (*RedisGroupBus, error) {
	pubsub := client.PSubscribe(ctx, groupChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to group channels: %w", err)
	}

	b := &RedisGroupBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		observer:   observer,
		table:      newDeliveryTable(),
		pubsub:     pubsub,
		done:       make(chan struct{}),
	}
	go b.run(pubsub.Channel(redis.WithChannelSize(busChannelSize)))

	logger.Infow("group bus subscribed", "instance_id", instanceID, "pattern", groupChannelPrefix+"*")
	return b, nil
}

func (b *RedisGroupBus) Broadcast(ctx context.Context, group domain.GroupKey, ev domain.Event, exclude domain.ConnectionID) error {
	data, err := json.Marshal(envelope{
		Group:      group,
		Exclude:    exclude,
		InstanceID: b.instanceID,
		Event:      ev,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, groupChannelPrefix+string(group), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", group, err)
	}
	return nil
}

// Subscribe registers a local socket; membership lives only in this process.
func (b *RedisGroupBus) Subscribe(_ context.Context, group domain.GroupKey, sub ports.Subscriber) error {
	b.table.add(group, sub)
	return nil
}

func (b *RedisGroupBus) Unsubscribe(_ context.Context, group domain.GroupKey, id domain.ConnectionID) error {
	b.table.remove(group, id)
	return nil
}

func (b *RedisGroupBus) Close() error {
	var err error
	b.once.Do(func() {
		err = b.pubsub.Close()
		<-b.done
	})
	return err
}

func (b *RedisGroupBus) run(ch <-chan *redis.Message) {
	defer close(b.done)

	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Warnw("failed to unmarshal group envelope",
				"channel", msg.Channel,
				"error", err,
			)
			continue
		}

		n := b.table.deliver(env.Group, env.Event, env.Exclude)
		if b.observer != nil {
			b.observer.ObserveDelivery(string(env.Event.Type), n)
		}
	}
}
