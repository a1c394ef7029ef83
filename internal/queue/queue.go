package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTaskNotFound is returned by Status for unknown or expired task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrClosed is returned once a broker has been closed.
	ErrClosed = errors.New("broker closed")
)

// Task asks a worker to run extraction for one document.
type Task struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Delivery is a task handed to a consumer. It stays owned by the consumer
// until acknowledged; unacknowledged deliveries are redelivered.
type Delivery struct {
	Task    Task
	receipt string
}

type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

type TaskStatus struct {
	TaskID     string    `json:"taskId"`
	DocumentID string    `json:"documentId"`
	State      TaskState `json:"state"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Broker delivers tasks at least once and tracks their status.
type Broker interface {
	Publish(ctx context.Context, task Task) error
	// Consume blocks until a task is available or ctx is done.
	Consume(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	// Recover requeues deliveries left unacknowledged by a previous consumer.
	Recover(ctx context.Context) (int, error)

	SetStatus(ctx context.Context, status TaskStatus) error
	Status(ctx context.Context, taskID string) (TaskStatus, error)
}
