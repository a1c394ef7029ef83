package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"docdigitizer/internal/queue"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	panic map[string]bool
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{calls: map[string]int{}, fail: map[string]error{}, panic: map[string]bool{}}
}

func (p *fakeProcessor) ProcessDocument(_ context.Context, id string) error {
	p.mu.Lock()
	p.calls[id]++
	err := p.fail[id]
	shouldPanic := p.panic[id]
	p.mu.Unlock()
	if shouldPanic {
		panic("boom")
	}
	return err
}

func (p *fakeProcessor) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func newTestManager(t *testing.T, proc Processor) *Manager {
	t.Helper()
	broker := queue.NewMemoryBroker(16)
	m := NewManager(broker, proc, DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4, TaskTimeout: time.Second}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		m.Close()
		broker.Close()
	})
	return m
}

func waitForState(t *testing.T, m *Manager, taskID string, want queue.TaskState) queue.TaskStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := m.Status(context.Background(), taskID)
		if err == nil && st.State == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := m.Status(context.Background(), taskID)
	t.Fatalf("task %s did not reach %s, last status %+v", taskID, want, st)
	return queue.TaskStatus{}
}

func TestManagerDispatchRunsProcessor(t *testing.T) {
	proc := newFakeProcessor()
	m := newTestManager(t, proc)

	taskID, err := m.Dispatch(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if taskID == "" {
		t.Fatalf("expected task id")
	}
	st := waitForState(t, m, taskID, queue.TaskSucceeded)
	if st.DocumentID != "doc-1" || st.Attempt != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if proc.count("doc-1") != 1 {
		t.Fatalf("expected one processor call, got %d", proc.count("doc-1"))
	}
}

func TestManagerRecordsFailures(t *testing.T) {
	proc := newFakeProcessor()
	proc.fail["doc-1"] = errors.New("engine unavailable")
	proc.panic["doc-2"] = true
	m := newTestManager(t, proc)

	failed, err := m.Dispatch(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	panicked, err := m.Dispatch(context.Background(), "doc-2")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	st := waitForState(t, m, failed, queue.TaskFailed)
	if st.Error != "engine unavailable" {
		t.Fatalf("unexpected error %q", st.Error)
	}
	waitForState(t, m, panicked, queue.TaskFailed)

	// failed tasks are not retried automatically
	time.Sleep(50 * time.Millisecond)
	if proc.count("doc-1") != 1 {
		t.Fatalf("expected a single attempt, got %d", proc.count("doc-1"))
	}
}

func TestManagerStatusUnknownTask(t *testing.T) {
	m := newTestManager(t, newFakeProcessor())
	if _, err := m.Status(context.Background(), "nope"); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
