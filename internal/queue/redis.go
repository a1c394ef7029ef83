package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"docdigitizer/internal/redis"
)

// RedisBroker implements the reliable-queue pattern: consumers atomically move
// a task from the pending list to a processing list and remove it on Ack.
type RedisBroker struct {
	client       *redis.Client
	pendingKey   string
	inflightKey  string
	statusPrefix string
	statusTTL    time.Duration
	blockTimeout time.Duration
}

type RedisBrokerOptions struct {
	KeyPrefix    string
	StatusTTL    time.Duration
	BlockTimeout time.Duration
}

func NewRedisBroker(client *redis.Client, opts RedisBrokerOptions) *RedisBroker {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "docdigitizer"
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 24 * time.Hour
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	return &RedisBroker{
		client:       client,
		pendingKey:   opts.KeyPrefix + ":queue:pending",
		inflightKey:  opts.KeyPrefix + ":queue:processing",
		statusPrefix: opts.KeyPrefix + ":task:",
		statusTTL:    opts.StatusTTL,
		blockTimeout: opts.BlockTimeout,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := b.client.Raw().LPush(ctx, b.pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("publish task %s: %w", task.ID, err)
	}
	return nil
}

func (b *RedisBroker) Consume(ctx context.Context) (Delivery, error) {
	raw := b.client.Raw()
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		payload, err := raw.BLMove(ctx, b.pendingKey, b.inflightKey, "RIGHT", "LEFT", b.blockTimeout).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Delivery{}, ctx.Err()
			}
			return Delivery{}, fmt.Errorf("consume task: %w", err)
		}
		var task Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			// Poison payloads are dropped so they cannot block the queue.
			raw.LRem(ctx, b.inflightKey, 1, payload)
			return Delivery{}, fmt.Errorf("decode task payload: %w", err)
		}
		return Delivery{Task: task, receipt: payload}, nil
	}
}

func (b *RedisBroker) Ack(ctx context.Context, d Delivery) error {
	if err := b.client.Raw().LRem(ctx, b.inflightKey, 1, d.receipt).Err(); err != nil {
		return fmt.Errorf("ack task %s: %w", d.Task.ID, err)
	}
	return nil
}

// Recover moves every delivery in the processing list back to pending. Run it
// before starting consumers.
func (b *RedisBroker) Recover(ctx context.Context) (int, error) {
	raw := b.client.Raw()
	moved := 0
	for {
		err := raw.LMove(ctx, b.inflightKey, b.pendingKey, "RIGHT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover tasks: %w", err)
		}
		moved++
	}
}

func (b *RedisBroker) SetStatus(ctx context.Context, status TaskStatus) error {
	fields := map[string]any{
		"taskId":     status.TaskID,
		"documentId": status.DocumentID,
		"state":      string(status.State),
		"attempt":    status.Attempt,
		"error":      status.Error,
		"updatedAt":  status.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := b.client.SetHash(ctx, b.statusPrefix+status.TaskID, fields, b.statusTTL); err != nil {
		return fmt.Errorf("set task status %s: %w", status.TaskID, err)
	}
	return nil
}

func (b *RedisBroker) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	values, err := b.client.GetHash(ctx, b.statusPrefix+taskID)
	if errors.Is(err, redis.ErrCacheMiss) {
		return TaskStatus{}, ErrTaskNotFound
	}
	if err != nil {
		return TaskStatus{}, fmt.Errorf("get task status %s: %w", taskID, err)
	}
	status := TaskStatus{
		TaskID:     values["taskId"],
		DocumentID: values["documentId"],
		State:      TaskState(values["state"]),
		Error:      values["error"],
	}
	status.Attempt, _ = strconv.Atoi(values["attempt"])
	status.UpdatedAt, _ = time.Parse(time.RFC3339Nano, values["updatedAt"])
	return status, nil
}
