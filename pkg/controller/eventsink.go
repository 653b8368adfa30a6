package controller

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

// EventSink receives every fleet event in addition to the in-memory ring.
// Sinks are best-effort: failures are logged, never propagated into the
// frame-handling path.
type EventSink interface {
	Publish(ev model.Event)
	Close() error
}

// redisListMax caps the mirrored recent-events list.
const redisListMax = 1000

// RedisSink publishes events to a Redis channel and mirrors them into a
// capped list, so dashboards that poll instead of subscribe still see the
// recent history.
type RedisSink struct {
	client  *redis.Client
	channel string
	listKey string
}

// NewRedisSink connects to Redis and verifies reachability.
func NewRedisSink(addr, password string, db int, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisSink{
		client:  client,
		channel: channel,
		listKey: channel + ":recent",
	}, nil
}

// Publish sends the event to subscribers and trims the mirror list.
func (s *RedisSink) Publish(ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		util.Logger.Warnf("Event sink marshal failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		util.Logger.Warnf("Event sink publish failed: %v", err)
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.listKey, data)
	pipe.LTrim(ctx, s.listKey, 0, redisListMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Logger.Warnf("Event sink list update failed: %v", err)
	}
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
