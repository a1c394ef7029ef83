package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"docdigitizer/internal/redis"
)

func newTestRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()
	client := redis.NewTestClient(t)
	return NewRedisBroker(client, RedisBrokerOptions{KeyPrefix: "test", BlockTimeout: 100 * time.Millisecond})
}

func TestRedisBrokerReliableDelivery(t *testing.T) {
	b := newTestRedisBroker(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		if err := b.Publish(ctx, Task{ID: id, DocumentID: "doc-" + id, Attempt: 1}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	first, err := b.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if first.Task.ID != "t1" {
		t.Fatalf("expected FIFO order, got %s", first.Task.ID)
	}
	second, err := b.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := b.Ack(ctx, first); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// second was never acked and comes back after recovery.
	n, err := b.Recover(ctx)
	if err != nil || n != 1 {
		t.Fatalf("recover: n=%d err=%v", n, err)
	}
	again, err := b.Consume(ctx)
	if err != nil || again.Task.ID != second.Task.ID {
		t.Fatalf("expected redelivery of %s, got %+v err=%v", second.Task.ID, again.Task, err)
	}

	short, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	if _, err := b.Consume(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline on empty queue, got %v", err)
	}
}

func TestRedisBrokerStatus(t *testing.T) {
	b := newTestRedisBroker(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := b.SetStatus(ctx, TaskStatus{TaskID: "t1", DocumentID: "doc-1", State: TaskFailed, Attempt: 2, Error: "engine timeout", UpdatedAt: now}); err != nil {
		t.Fatalf("set status: %v", err)
	}
	st, err := b.Status(ctx, "t1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != TaskFailed || st.Attempt != 2 || st.Error != "engine timeout" || !st.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, err := b.Status(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
