package events

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"docdigitizer/internal/models"
	"docdigitizer/internal/redis"
)

func TestRedisNotifierPubSub(t *testing.T) {
	client := redis.NewTestClient(t)
	n := NewRedisNotifier(client, "test", zaptest.NewLogger(t))

	ctx := context.Background()
	ch, cancel, err := n.Subscribe(ctx, "doc-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	ev := Event{Type: StatusChanged, DocumentID: "doc-1", Status: models.StatusProcessed}
	if err := n.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.Status != models.StatusProcessed || got.Type != StatusChanged {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("did not receive pubsub message")
	}
}
