package notificationworker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/medspa-consent-intake/internal/events"
	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultBatchSize     = 5
	defaultWaitSeconds   = 10
	deleteTimeout        = 5 * time.Second
	maxReceiveBackoff    = 5 * time.Second
	initialRecvBackoff   = time.Second
	defaultLookupTimeout = 5 * time.Second
)

// Notifier settles the confirmation for one submission. *intake.Orchestrator
// implements it.
type Notifier interface {
	Notify(ctx context.Context, sub *submissions.Submission) submissions.NotificationState
}

// Consumer drains notification jobs from the queue.
type Consumer struct {
	queue    events.Queue
	reader   submissions.Reader
	notifier Notifier
	logger   *logging.Logger

	workers     int
	batchSize   int
	waitSeconds int

	wg sync.WaitGroup
}

func NewConsumer(queue events.Queue, reader submissions.Reader, notifier Notifier, logger *logging.Logger) *Consumer {
	if queue == nil {
		panic("notificationworker: queue cannot be nil")
	}
	if reader == nil {
		panic("notificationworker: reader cannot be nil")
	}
	if notifier == nil {
		panic("notificationworker: notifier cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		queue:       queue,
		reader:      reader,
		notifier:    notifier,
		logger:      logger,
		workers:     defaultWorkerCount,
		batchSize:   defaultBatchSize,
		waitSeconds: defaultWaitSeconds,
	}
}

func (c *Consumer) WithWorkers(n int) *Consumer {
	if n > 0 {
		c.workers = n
	}
	return c
}

func (c *Consumer) WithReceiveWait(seconds int) *Consumer {
	if seconds >= 0 {
		c.waitSeconds = seconds
	}
	return c
}

// Start launches worker goroutines until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, workerID int) {
	defer c.wg.Done()
	c.logger.Debug("notification worker started", "worker_id", workerID)

	backoff := initialRecvBackoff
	for {
		if ctx.Err() != nil {
			c.logger.Debug("notification worker stopping", "worker_id", workerID)
			return
		}

		messages, err := c.queue.Receive(ctx, c.batchSize, c.waitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error("failed to receive notification jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxReceiveBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = initialRecvBackoff

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg events.QueueMessage) {
	evt, err := events.DecodeNotificationRequested(msg.Body)
	if err != nil {
		c.logger.Error("dropping malformed notification job", "error", err, "msg_id", msg.ID)
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, defaultLookupTimeout)
	sub, err := c.reader.GetByID(lookupCtx, evt.SubmissionID)
	cancel()
	if errors.Is(err, submissions.ErrSubmissionNotFound) {
		c.logger.Warn("notification job for unknown submission", "submission_id", evt.SubmissionID)
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}
	if err != nil {
		// Left on the queue; it becomes visible again after the visibility timeout.
		c.logger.Error("failed to load submission", "submission_id", evt.SubmissionID, "error", err)
		return
	}

	state := c.notifier.Notify(ctx, sub)
	if state == submissions.NotificationPending && ctx.Err() != nil {
		c.logger.Info("shutdown interrupted notification", "submission_id", sub.ID)
		return
	}
	c.logger.Debug("notification job processed", "submission_id", sub.ID, "state", state)
	c.deleteMessage(ctx, msg.ReceiptHandle)
}

func (c *Consumer) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	if err := c.queue.Delete(deleteCtx, receiptHandle); err != nil {
		c.logger.Error("failed to delete notification job", "error", err)
	}
}
