package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	statusChannel  = "payments:status"
	publishTimeout = 5 * time.Second
)

type bridgeMessage struct {
	Instance string      `json:"instance"`
	Event    StatusEvent `json:"event"`
}

// RedisPubSub broadcasts payment status transitions across server instances,
// so a browser connected to one instance sees a transition applied on another.
type RedisPubSub struct {
	client   *redis.Client
	logger   *zap.Logger
	instance string
}

// NewRedisPubSub creates a Redis pub/sub bridge.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger, instance: uuid.New().String()}
}

// PublishStatus publishes a status event for other instances.
func (r *RedisPubSub) PublishStatus(ev StatusEvent) error {
	body, err := json.Marshal(bridgeMessage{Instance: r.instance, Event: ev})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, statusChannel, body).Err()
}

// Run subscribes to the status channel and delivers remote events to the hub
// until ctx is done. Events published by this instance are skipped; the hub
// already delivered them locally.
func (r *RedisPubSub) Run(ctx context.Context, hub *Hub) {
	pubsub := r.client.Subscribe(ctx, statusChannel)
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m bridgeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.logger.Warn("invalid status broadcast", zap.Error(err))
				continue
			}
			if m.Instance == r.instance {
				continue
			}
			hub.Deliver(m.Event)
		}
	}
}
