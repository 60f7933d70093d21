package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"llm-ensemble/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	TaskTypeEnsemble TaskType = "ensemble"
)

// DefaultMaxAttempts applies to tasks enqueued without their own limit.
const DefaultMaxAttempts = 5

// Task represents a unit of asynchronous work. ReplyTo, when set, is the subject that receives the outcome.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	ReplyTo     string
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

// EnsemblePayload is the body of an ensemble task.
type EnsemblePayload struct {
	Query     string `json:"query"`
	Strategy  string `json:"strategy,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
	MinModels int    `json:"min_models,omitempty"`
	UseCache  *bool  `json:"use_cache,omitempty"`
}

// ErrorReply is published to ReplyTo when a task cannot produce a result.
type ErrorReply struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// Handler processes one task. A returned error marks the task for retry.
type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks and to answer on reply subjects.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
	Publish(ctx context.Context, subject string, body []byte) error
}

// ReplySubject returns a fresh reply subject for a task.
func ReplySubject(id uuid.UUID) string {
	return "ensemble.replies." + id.String()
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := q.Enqueue(ctx, task); err == nil {
			return nil
		} else if attempt == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.ExponentialBackoff(attempt, base)):
		}
	}
	return nil
}
