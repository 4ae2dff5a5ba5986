package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/paygate/internal/logging"
	"github.com/congo-pay/paygate/internal/notification"
)

// FanoutChannel is the pub/sub channel shared by all instances.
const FanoutChannel = "paygate:realtime"

type fanoutMessage struct {
	UID   string             `json:"uid"`
	Event notification.Event `json:"event"`
}

// RedisFanout publishes events to every instance; each delivers them to its
// own hub. Use it as the notifier when several instances serve clients.
type RedisFanout struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

// NewRedisFanout wires a hub to the shared channel.
func NewRedisFanout(client *redis.Client, hub *Hub, logger *slog.Logger) *RedisFanout {
	if logger == nil {
		logger = logging.Discard()
	}
	return &RedisFanout{client: client, hub: hub, logger: logger}
}

// Notify publishes the event for uid.
func (f *RedisFanout) Notify(ctx context.Context, uid string, event notification.Event) error {
	raw, err := json.Marshal(fanoutMessage{UID: uid, Event: event})
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, FanoutChannel, raw).Err()
}

// Run relays published events into the local hub until ctx is cancelled.
func (f *RedisFanout) Run(ctx context.Context) error {
	sub := f.client.Subscribe(ctx, FanoutChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", FanoutChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m fanoutMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				f.logger.Warn("discarding malformed fanout message", slog.Any("error", err))
				continue
			}
			_ = f.hub.Notify(ctx, m.UID, m.Event)
		}
	}
}
