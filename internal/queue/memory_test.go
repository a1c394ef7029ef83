package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryBrokerDeliversAndTracksStatus(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(4)
	defer b.Close()

	task := Task{ID: "t1", DocumentID: "doc-1", Attempt: 1, EnqueuedAt: time.Now()}
	if err := b.Publish(ctx, task); err != nil {
		t.Fatalf("publish: %v", err)
	}
	d, err := b.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if d.Task.ID != "t1" || d.Task.DocumentID != "doc-1" {
		t.Fatalf("unexpected delivery %+v", d.Task)
	}

	if err := b.SetStatus(ctx, TaskStatus{TaskID: "t1", DocumentID: "doc-1", State: TaskRunning}); err != nil {
		t.Fatalf("set status: %v", err)
	}
	st, err := b.Status(ctx, "t1")
	if err != nil || st.State != TaskRunning {
		t.Fatalf("status: %+v err=%v", st, err)
	}
	if _, err := b.Status(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if err := b.Ack(ctx, d); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n, _ := b.Recover(ctx); n != 0 {
		t.Fatalf("acked delivery must not be recovered, got %d", n)
	}
}

func TestMemoryBrokerRecoverRedelivers(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(4)
	defer b.Close()

	if err := b.Publish(ctx, Task{ID: "t1", DocumentID: "doc-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Consume(ctx); err != nil {
		t.Fatalf("consume: %v", err)
	}
	n, err := b.Recover(ctx)
	if err != nil || n != 1 {
		t.Fatalf("recover: n=%d err=%v", n, err)
	}
	d, err := b.Consume(ctx)
	if err != nil || d.Task.ID != "t1" {
		t.Fatalf("expected redelivery, got %+v err=%v", d.Task, err)
	}
}

func TestMemoryBrokerConsumeHonoursContext(t *testing.T) {
	b := NewMemoryBroker(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Consume(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	b.Close()
	if _, err := b.Consume(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
