package queue

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// MemoryBroker is an in-process Broker. Tasks do not survive a restart.
type MemoryBroker struct {
	tasks    chan Task
	seq      atomic.Int64
	mu       sync.Mutex
	inflight map[string]Task
	statuses map[string]TaskStatus
	closed   chan struct{}
	once     sync.Once
}

func NewMemoryBroker(size int) *MemoryBroker {
	if size <= 0 {
		size = 128
	}
	return &MemoryBroker{
		tasks:    make(chan Task, size),
		inflight: make(map[string]Task),
		statuses: make(map[string]TaskStatus),
		closed:   make(chan struct{}),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, task Task) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	select {
	case b.tasks <- task:
		return nil
	case <-b.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Consume(ctx context.Context) (Delivery, error) {
	select {
	case task := <-b.tasks:
		receipt := strconv.FormatInt(b.seq.Add(1), 10)
		b.mu.Lock()
		b.inflight[receipt] = task
		b.mu.Unlock()
		return Delivery{Task: task, receipt: receipt}, nil
	case <-b.closed:
		return Delivery{}, ErrClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (b *MemoryBroker) Ack(_ context.Context, d Delivery) error {
	b.mu.Lock()
	delete(b.inflight, d.receipt)
	b.mu.Unlock()
	return nil
}

// Recover requeues in-flight deliveries. Within one process this only matters
// after a consumer stopped without acknowledging.
func (b *MemoryBroker) Recover(ctx context.Context) (int, error) {
	b.mu.Lock()
	pending := make([]Task, 0, len(b.inflight))
	for receipt, task := range b.inflight {
		pending = append(pending, task)
		delete(b.inflight, receipt)
	}
	b.mu.Unlock()

	for i, task := range pending {
		if err := b.Publish(ctx, task); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

func (b *MemoryBroker) SetStatus(_ context.Context, status TaskStatus) error {
	b.mu.Lock()
	b.statuses[status.TaskID] = status
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) Status(_ context.Context, taskID string) (TaskStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.statuses[taskID]
	if !ok {
		return TaskStatus{}, ErrTaskNotFound
	}
	return status, nil
}

func (b *MemoryBroker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}
