package reminder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"

	appLog "schoolcal/internal/log"
)

// TaskTypeDeliver is the task type consumed by delivery workers.
const TaskTypeDeliver = "reminder:deliver"

const (
	taskRetention = 24 * time.Hour
	taskMaxRetry  = 5
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher enqueues due reminders as asynq tasks. Each reminder
// maps to a fixed task ID, so a reminder seen by two sweeps is enqueued
// once.
type QueueDispatcher struct {
	client enqueuer
	closer func() error
	queue  string
}

// NewQueueDispatcher connects to Redis at redisAddr and enqueues on queue.
func NewQueueDispatcher(redisAddr, queue string) *QueueDispatcher {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	return &QueueDispatcher{client: client, closer: client.Close, queue: queue}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, r Reminder) error {
	task, err := newDeliverTask(r)
	if err != nil {
		return err
	}

	info, err := d.client.EnqueueContext(ctx, task,
		asynq.Queue(d.queue),
		asynq.TaskID(taskID(r)),
		asynq.MaxRetry(taskMaxRetry),
		asynq.Retention(taskRetention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		appLog.Debug("reminder already queued", "key", r.Key())
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "enqueue reminder")
	}
	appLog.Debug("reminder queued", "key", r.Key(), "task_id", info.ID, "queue", info.Queue)
	return nil
}

// Close releases the Redis connection.
func (d *QueueDispatcher) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

func newDeliverTask(r Reminder) (*asynq.Task, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encode reminder")
	}
	return asynq.NewTask(TaskTypeDeliver, payload), nil
}

func taskID(r Reminder) string {
	sum := sha256.Sum256([]byte(r.Key()))
	return "reminder-" + hex.EncodeToString(sum[:12])
}
