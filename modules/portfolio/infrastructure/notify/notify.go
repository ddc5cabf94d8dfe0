// Package notify delivers committed change events to the outside world.
package notify

import (
	"context"
	"encoding/json"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain/events"
	"github.com/iota-uz/portfolio-master/modules/portfolio/services"
	"github.com/iota-uz/portfolio-master/pkg/eventbus"
)

var (
	_ services.Notifier = (*RedisPublisher)(nil)
	_ services.Notifier = (*BusNotifier)(nil)
	_ services.Notifier = Multi(nil)
	_ services.Notifier = Nop{}
	_ services.Notifier = (*Retry)(nil)
)

// RedisPublisher publishes each event as JSON on the channel prefix:topic.
type RedisPublisher struct {
	redis  *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{redis: client, prefix: prefix}
}

// Channel returns the channel events of topic are published on.
func (p *RedisPublisher) Channel(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + ":" + topic
}

func (p *RedisPublisher) Notify(ctx context.Context, e events.ChangeEventV1) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return gerrors.Wrap(err, "marshal change event")
	}
	if err := p.redis.Publish(ctx, p.Channel(e.Topic), payload).Err(); err != nil {
		return gerrors.Wrapf(err, "publish %s", e.EventID)
	}
	return nil
}

// BusNotifier hands events to in-process subscribers of the event bus.
// Subscribers take a single events.ChangeEventV1 argument.
type BusNotifier struct {
	bus eventbus.EventBus
}

func NewBusNotifier(bus eventbus.EventBus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func (n *BusNotifier) Notify(_ context.Context, e events.ChangeEventV1) error {
	err := n.bus.PublishE(e)
	if errors.Is(err, eventbus.ErrNoSubscribers) {
		return nil
	}
	return err
}

// Multi fans an event out to every notifier. It returns the joined errors of
// those that failed.
type Multi []services.Notifier

func (m Multi) Notify(ctx context.Context, e events.ChangeEventV1) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Notify(context.Context, events.ChangeEventV1) error { return nil }
