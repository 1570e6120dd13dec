// Package relay fans change events out across API instances over Redis
// pub/sub. Each instance still delivers only to its own connections.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"notesync/api/internal/logging"
	"notesync/api/internal/realtime"
)

const DefaultChannel = "notesync:events"

// envelope is the wire format on the relay channel.
type envelope struct {
	Origin     string          `json:"origin"`
	Event      string          `json:"event"`
	IdentityID string          `json:"identity_id"`
	Data       json.RawMessage `json:"data"`
}

// RedisRelay publishes events tagged with this node's id and delivers
// events from other nodes.
type RedisRelay struct {
	client  *redis.Client
	channel string
	nodeID  string
	logger  *slog.Logger
}

// NewRedisRelay connects to redisURL and checks the connection.
func NewRedisRelay(redisURL, channel string, logger *slog.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisRelayWithClient(client, channel, logger), nil
}

// NewRedisRelayWithClient builds a relay from an existing Redis client
func NewRedisRelayWithClient(client *redis.Client, channel string, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		nodeID:  ulid.Make().String(),
		logger:  logger,
	}
}

func (r *RedisRelay) NodeID() string {
	return r.nodeID
}

func (r *RedisRelay) Publish(ctx context.Context, event realtime.Event) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	msg, err := json.Marshal(envelope{
		Origin:     r.nodeID,
		Event:      string(event.Type),
		IdentityID: event.IdentityID,
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run subscribes to the relay channel and hands every event published by
// another node to deliver. It returns when ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, deliver func(realtime.Event) int) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed", "channel", r.channel, "node_id", r.nodeID)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event, origin, err := decode(msg.Payload)
			if err != nil {
				r.logger.Warn("dropping malformed relay message", "error", err)
				continue
			}
			if origin == r.nodeID {
				continue
			}
			deliver(event)
		}
	}
}

func decode(payload string) (realtime.Event, string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return realtime.Event{}, "", fmt.Errorf("unmarshal relay envelope: %w", err)
	}
	if env.Event == "" || env.IdentityID == "" {
		return realtime.Event{}, "", fmt.Errorf("relay envelope missing event or identity")
	}
	return realtime.Event{
		Type:       realtime.EventType(env.Event),
		IdentityID: env.IdentityID,
		Payload:    env.Data,
	}, env.Origin, nil
}

// Close closes the Redis connection
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
