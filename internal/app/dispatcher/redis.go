package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

// RedisMirror publishes every dispatched signal onto a Redis pub/sub channel
// so external consumers can follow bridge events. Publishing is best effort;
// a failed publish is logged and dropped.
type RedisMirror struct {
	client  *redis.Client
	channel string
	log     *logger.Logger
	timeout time.Duration
}

var _ Mirror = (*RedisMirror)(nil)

// NewRedisMirror connects a mirror to the Redis instance at url
// (redis://host:port/db form).
func NewRedisMirror(url, channel string, log *logger.Logger) (*RedisMirror, error) {
	if log == nil {
		log = logger.NewDefault("dispatcher-redis")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if channel == "" {
		channel = "motion_blinds.events"
	}
	return &RedisMirror{
		client:  redis.NewClient(opts),
		channel: channel,
		log:     log,
		timeout: 2 * time.Second,
	}, nil
}

// Relay publishes the payload as JSON with the signal name attached.
func (m *RedisMirror) Relay(signal string, payload map[string]any) {
	body, err := json.Marshal(map[string]any{"signal": signal, "payload": payload})
	if err != nil {
		m.log.WithError(err).Warn("encode dispatcher event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.client.Publish(ctx, m.channel, body).Err(); err != nil {
		m.log.WithError(err).WithField("signal", signal).Warn("relay to redis failed")
	}
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
