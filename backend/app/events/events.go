// Package events publishes completed-job notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobEvent mirrors one appended log record.
type JobEvent struct {
	JobID     *uint64        `json:"job_id"`
	DeviceID  int            `json:"device_id"`
	TestName  string         `json:"test_name"`
	Outcome   string         `json:"outcome"`
	Metrics   map[string]any `json:"metrics"`
	Timestamp time.Time      `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, JobEvent) error { return nil }

// RedisPublisher sends events on a pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "dutlab:jobs"
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev JobEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []JobEvent
}

func (r *Recorder) Publish(_ context.Context, ev JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]JobEvent(nil), r.events...)
}
