package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jpalmerr/pulsewatch/model"
)

// DefaultQueueSize is the task buffer used when none is configured.
const DefaultQueueSize = 256

type task struct {
	operation string
	run       func(ctx context.Context) error
}

// QueueConfig configures a [Queue].
type QueueConfig struct {
	// Size bounds the number of pending tasks. Enqueues beyond it are dropped.
	Size int

	Retry RetryConfig

	// OnAlertSent is called after an alert email was delivered.
	OnAlertSent func(ctx context.Context, alertID int64) error

	Logger *slog.Logger
}

// Queue delivers notifications on a single background worker.
//
// Enqueue never blocks: when the buffer is full the task is dropped and
// counted. Tasks enqueued before Start are buffered and run once the worker
// starts.
type Queue struct {
	notifier    Notifier
	tasks       chan task
	retry       RetryConfig
	onAlertSent func(ctx context.Context, alertID int64) error
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	dropped atomic.Int64
}

// NewQueue creates a queue that delivers through notifier.
func NewQueue(notifier Notifier, cfg QueueConfig) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = DefaultQueueSize
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		notifier:    notifier,
		tasks:       make(chan task, cfg.Size),
		retry:       cfg.Retry,
		onAlertSent: cfg.OnAlertSent,
		logger:      cfg.Logger,
		done:        make(chan struct{}),
	}
}

// Start launches the worker. Subsequent calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.stopped {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	go q.work(ctx)
}

// Stop stops accepting tasks and waits for the pending ones to finish, or
// for ctx to expire, in which case in-flight retries are abandoned.
// Safe to call multiple times and before Start.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.tasks)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return fmt.Errorf("notification queue did not drain: %w", ctx.Err())
	}
}

// EnqueueAlert schedules an alert email. It reports whether the task was accepted.
func (q *Queue) EnqueueAlert(alert model.Alert, device model.Device) bool {
	return q.enqueue(task{
		operation: fmt.Sprintf("alert email %d", alert.ID),
		run: func(ctx context.Context) error {
			if err := q.notifier.SendAlertEmail(ctx, alert, device); err != nil {
				return err
			}
			if q.onAlertSent != nil {
				err := q.onAlertSent(ctx, alert.ID)
				switch {
				case errors.Is(err, model.ErrAlreadyResolved):
					q.logger.Debug("alert resolved before its email was recorded", "alert_id", alert.ID)
				case err != nil:
					// the email went out; do not resend it
					q.logger.Warn("failed to record alert email", "alert_id", alert.ID, "error", err)
				}
			}
			return nil
		},
	})
}

// EnqueueReport schedules a daily report. It reports whether the task was accepted.
func (q *Queue) EnqueueReport(report Report) bool {
	return q.enqueue(task{
		operation: "daily report",
		run: func(ctx context.Context) error {
			return q.notifier.SendDailyReport(ctx, report)
		},
	})
}

// Dropped returns how many tasks were rejected because the queue was full
// or stopped.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

func (q *Queue) enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		q.dropped.Add(1)
		q.logger.Warn("notification queue stopped, dropping task", "operation", t.operation)
		return false
	}
	select {
	case q.tasks <- t:
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("notification queue full, dropping task", "operation", t.operation)
		return false
	}
}

func (q *Queue) work(ctx context.Context) {
	defer close(q.done)

	for t := range q.tasks {
		if err := withRetry(ctx, q.retry, q.logger, t.operation, t.run); err != nil {
			q.logger.Error("notification failed", "operation", t.operation, "error", err)
		}
	}
}
