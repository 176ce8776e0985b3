package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel events travel on.
const DefaultChannel = "qanda:changes"

// RedisRelay extends a Broker across processes. Local writes are delivered
// locally and published to Redis; events published by other processes are
// received by Run and delivered to the local broker.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *Broker
	logger  *slog.Logger
}

// NewRedisRelay wraps local. Call Run to start receiving remote events.
func NewRedisRelay(client *redis.Client, channel string, local *Broker, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, local: local, logger: logger}
}

// Notify delivers locally, then publishes. A publish failure is logged: the
// write itself already succeeded and local readers are up to date.
func (r *RedisRelay) Notify(ctx context.Context, ev Event) {
	if ev.Origin == "" {
		ev.Origin = r.local.Origin()
	}
	r.local.Notify(ctx, ev)

	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.ErrorContext(ctx, "changefeed: marshal event", "error", err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.WarnContext(ctx, "changefeed: publish event", "error", err, "collection", ev.Collection)
	}
}

func (r *RedisRelay) Listen() (<-chan Event, func()) {
	return r.local.Listen()
}

// Subscribe opens the pub/sub subscription and waits for Redis to confirm it,
// so events published after Subscribe returns are not missed. The returned
// subscription is handed to Run.
func (r *RedisRelay) Subscribe(ctx context.Context) (*redis.PubSub, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("changefeed: subscribe %s: %w", r.channel, err)
	}
	return ps, nil
}

// Run forwards remote events until ctx is cancelled, then closes ps.
func (r *RedisRelay) Run(ctx context.Context, ps *redis.PubSub) {
	defer ps.Close()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.WarnContext(ctx, "changefeed: bad payload", "error", err)
				continue
			}
			if ev.Origin == r.local.Origin() {
				continue
			}
			r.local.Notify(ctx, ev)
		}
	}
}
