package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

// Publisher enqueues notification jobs for asynchronous processing.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("events: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// PublishNotificationRequested enqueues a confirmation job for submissionID.
func (p *Publisher) PublishNotificationRequested(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return errors.New("events: submission id required")
	}
	evt := NotificationRequestedV1{
		EventID:      uuid.NewString(),
		Type:         EventTypeNotificationRequested,
		SubmissionID: submissionID,
		RequestedAt:  time.Now().UTC(),
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: failed to encode payload: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("events: failed to enqueue notification: %w", err)
	}
	p.logger.Debug("notification job enqueued", "event_id", evt.EventID, "submission_id", submissionID)
	return nil
}

// DecodeNotificationRequested parses a queue body.
func DecodeNotificationRequested(body string) (NotificationRequestedV1, error) {
	var evt NotificationRequestedV1
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		return evt, fmt.Errorf("events: failed to decode payload: %w", err)
	}
	if evt.Type != EventTypeNotificationRequested {
		return evt, fmt.Errorf("events: unexpected event type %q", evt.Type)
	}
	if evt.SubmissionID == "" {
		return evt, errors.New("events: submission id missing")
	}
	return evt, nil
}
