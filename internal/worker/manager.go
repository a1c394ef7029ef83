package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docdigitizer/internal/queue"
)

// Processor runs extraction for one document.
type Processor interface {
	ProcessDocument(ctx context.Context, documentID string) error
}

// Manager connects the broker to the dispatcher: it publishes extraction
// tasks, consumes them, and records task status as they run.
type Manager struct {
	broker      queue.Broker
	processor   Processor
	dispatcher  *Dispatcher
	logger      *zap.Logger
	taskTimeout time.Duration
	slots       chan struct{}
}

const defaultTaskTimeout = 30 * time.Minute

func NewManager(broker queue.Broker, processor Processor, cfg DispatcherConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	maxWorkers := cfg.MaxWorkers
	if maxWorkers < cfg.MinWorkers {
		maxWorkers = cfg.MinWorkers
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	m := &Manager{
		broker:      broker,
		processor:   processor,
		logger:      logger.Named("worker"),
		taskTimeout: cfg.TaskTimeout,
		// bounds how many deliveries are held in memory at once
		slots: make(chan struct{}, cfg.QueueSize+maxWorkers),
	}
	m.dispatcher = NewDispatcher(cfg, m.handle)
	return m
}

// Dispatch enqueues extraction for documentID and returns the task id.
func (m *Manager) Dispatch(ctx context.Context, documentID string) (string, error) {
	task := queue.Task{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := m.setStatus(ctx, task, queue.TaskQueued, ""); err != nil {
		return "", err
	}
	if err := m.broker.Publish(ctx, task); err != nil {
		return "", err
	}
	m.logger.Debug("task queued", zap.String("task_id", task.ID), zap.String("document_id", documentID))
	return task.ID, nil
}

func (m *Manager) Status(ctx context.Context, taskID string) (queue.TaskStatus, error) {
	return m.broker.Status(ctx, taskID)
}

// Run requeues unacknowledged tasks, then consumes until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if n, err := m.broker.Recover(ctx); err != nil {
		m.logger.Warn("recover unacknowledged tasks", zap.Error(err))
	} else if n > 0 {
		m.logger.Info("requeued unacknowledged tasks", zap.Int("count", n))
	}

	for {
		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		d, err := m.broker.Consume(ctx)
		if err != nil {
			<-m.slots
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			m.logger.Error("consume task", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if err := m.dispatcher.Submit(ctx, Job{Type: Process, Delivery: d}); err != nil {
			<-m.slots
			// left unacknowledged; Recover picks it up on the next start
			m.logger.Warn("task not dispatched", zap.String("task_id", d.Task.ID), zap.Error(err))
			if ctx.Err() != nil || errors.Is(err, ErrDispatcherClosed) {
				return nil
			}
		}
	}
}

func (m *Manager) handle(job Job) {
	defer func() { <-m.slots }()
	task := job.Delivery.Task
	log := m.logger.With(zap.String("task_id", task.ID), zap.String("document_id", task.DocumentID))

	// Runs detached from the consume context: extraction is not cancelled mid-flight.
	ctx, cancel := context.WithTimeout(context.Background(), m.taskTimeout)
	defer cancel()

	if err := m.setStatus(ctx, task, queue.TaskRunning, ""); err != nil {
		log.Warn("set task running", zap.Error(err))
	}
	start := time.Now()
	err := m.runProcessor(ctx, task.DocumentID)
	if err != nil {
		log.Error("task failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if serr := m.setStatus(ctx, task, queue.TaskFailed, err.Error()); serr != nil {
			log.Warn("set task failed", zap.Error(serr))
		}
	} else {
		log.Info("task succeeded", zap.Duration("elapsed", time.Since(start)))
		if serr := m.setStatus(ctx, task, queue.TaskSucceeded, ""); serr != nil {
			log.Warn("set task succeeded", zap.Error(serr))
		}
	}
	if err := m.broker.Ack(context.Background(), job.Delivery); err != nil {
		log.Error("ack task", zap.Error(err))
	}
}

// runProcessor converts a panic in one task into a task failure.
func (m *Manager) runProcessor(ctx context.Context, documentID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("processor panicked")
			m.logger.Error("processor panic", zap.String("document_id", documentID), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	return m.processor.ProcessDocument(ctx, documentID)
}

func (m *Manager) setStatus(ctx context.Context, task queue.Task, state queue.TaskState, errMsg string) error {
	return m.broker.SetStatus(ctx, queue.TaskStatus{
		TaskID:     task.ID,
		DocumentID: task.DocumentID,
		State:      state,
		Attempt:    task.Attempt,
		Error:      errMsg,
		UpdatedAt:  time.Now().UTC(),
	})
}

// Close waits for running tasks and stops the workers. Cancel the Run context first.
// Pending reports deliveries accepted from the broker that wait for a worker.
func (m *Manager) Pending() int {
	return m.dispatcher.Pending()
}

func (m *Manager) Close() {
	m.dispatcher.Close()
}
