//go:build integration

package controller

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/neuralconfig/ruckus-ztp/internal/testutil"
	"github.com/neuralconfig/ruckus-ztp/pkg/model"
)

func TestRedisSinkPublishAndMirror(t *testing.T) {
	addr := testutil.RequireRedis(t)
	testutil.FlushDB(t, addr, 0)

	sink, err := NewRedisSink(addr, "", 0, "ztp:events:test")
	if err != nil {
		t.Fatalf("NewRedisSink: %v", err)
	}
	defer sink.Close()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, "ztp:events:test")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := model.Event{
		Timestamp: time.Now().UTC(),
		AgentID:   "edge-001",
		Kind:      model.EventDeviceDiscovered,
		Payload:   map[string]interface{}{"mac_address": "cc:4e:24:38:7a:80"},
	}
	sink.Publish(ev)

	select {
	case msg := <-sub.Channel():
		var got model.Event
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("unmarshal published event: %v", err)
		}
		if got.AgentID != "edge-001" || got.Kind != model.EventDeviceDiscovered {
			t.Errorf("published event = %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never published")
	}

	// The mirror list holds the event too, newest first.
	entries, err := client.LRange(ctx, "ztp:events:test:recent", 0, -1).Result()
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("mirror list has %d entries, want 1", len(entries))
	}
}
