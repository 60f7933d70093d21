package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"llm-ensemble/internal/retry"
)

// NewNATS constructs a thin NATS-based queue.
func NewNATS(log *slog.Logger, nc *nats.Conn) Queue {
	return &natsQueue{log: log, nc: nc, pub: nc, backoffBase: time.Second}
}

// publisher is the part of *nats.Conn used to send messages.
type publisher interface {
	Publish(subject string, data []byte) error
}

type natsQueue struct {
	log         *slog.Logger
	nc          *nats.Conn
	pub         publisher
	backoffBase time.Duration
}

func (q *natsQueue) Enqueue(_ context.Context, task Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Type == "" {
		return errors.New("task type required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.pub.Publish("tasks."+string(task.Type), body)
}

func (q *natsQueue) Publish(_ context.Context, subject string, body []byte) error {
	if subject == "" {
		return errors.New("subject required")
	}
	return q.pub.Publish(subject, body)
}

// Worker consumes tasks until ctx is done. Tasks still waiting for their NotBefore time
// at shutdown are put back on the queue before Worker returns.
func (q *natsQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	subject := "tasks." + string(taskType)
	group := "workers-" + string(taskType)
	var delayed sync.WaitGroup
	sub, err := q.nc.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		q.handleMessage(ctx, &delayed, msg.Data, handler)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	err = sub.Unsubscribe()
	delayed.Wait()
	return err
}

// handleMessage runs a task now, or schedules it when its NotBefore time lies ahead.
// It never blocks on the delay, so the subscription keeps delivering other tasks.
func (q *natsQueue) handleMessage(ctx context.Context, delayed *sync.WaitGroup, data []byte, handler Handler) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		q.log.Error("failed to decode task", "err", err)
		return
	}

	wait := time.Until(task.NotBefore)
	if wait <= 0 {
		q.run(ctx, task, handler)
		return
	}
	if ctx.Err() != nil {
		q.requeue(task)
		return
	}

	delayed.Add(1)
	go func() {
		defer delayed.Done()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			q.requeue(task)
		case <-timer.C:
			q.run(ctx, task, handler)
		}
	}()
}

func (q *natsQueue) run(ctx context.Context, task Task, handler Handler) {
	if err := handler(ctx, task); err != nil {
		q.retryTask(ctx, task, err)
	}
}

// requeue hands an unstarted task back to the queue unchanged.
func (q *natsQueue) requeue(task Task) {
	if err := q.Enqueue(context.Background(), task); err != nil {
		q.log.Error("failed to requeue delayed task", "id", task.ID, "type", task.Type, "err", err)
	}
}

func (q *natsQueue) retryTask(ctx context.Context, task Task, handlerErr error) {
	task.Attempts++
	if task.MaxAttempts == 0 {
		task.MaxAttempts = DefaultMaxAttempts
	}

	if task.Attempts < task.MaxAttempts {
		task.NotBefore = time.Now().Add(retry.ExponentialBackoff(task.Attempts, q.backoffBase))
		if err := q.Enqueue(ctx, task); err != nil {
			q.log.Error("failed to re-enqueue task after failure", "id", task.ID, "type", task.Type, "original_err", handlerErr, "enqueue_err", err)
		}
		return
	}

	q.log.Error("task permanently failed", "id", task.ID, "type", task.Type, "original_err", handlerErr)
	if task.ReplyTo == "" {
		return
	}
	body, _ := json.Marshal(ErrorReply{TaskID: task.ID.String(), Error: handlerErr.Error()})
	if err := q.Publish(ctx, task.ReplyTo, body); err != nil {
		q.log.Error("failed to publish error reply", "id", task.ID, "reply_to", task.ReplyTo, "err", err)
	}
}
