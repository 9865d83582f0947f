package events

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRecorderKeepsOrder(t *testing.T) {
	var r Recorder
	for _, name := range []string{"a", "b"} {
		_ = r.Publish(context.Background(), JobEvent{TestName: name})
	}
	got := r.Events()
	if len(got) != 2 || got[0].TestName != "a" || got[1].TestName != "b" {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestRedisPublisherReportsUnreachableServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	p := NewRedisPublisher(rdb, "")
	if p.channel != "dutlab:jobs" {
		t.Fatalf("default channel not applied: %q", p.channel)
	}
	if err := p.Publish(context.Background(), JobEvent{TestName: "s4"}); err == nil {
		t.Fatalf("expected publish error without a server")
	}
}
