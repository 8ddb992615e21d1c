package events

import "time"

// EventTypeNotificationRequested is the queue message type for pending confirmations.
const EventTypeNotificationRequested = "notification_requested.v1"

// NotificationRequestedV1 asks a worker to send the WhatsApp confirmation for
// one persisted submission. The worker reloads the submission by id, so the
// payload carries no personal data.
type NotificationRequestedV1 struct {
	EventID      string    `json:"event_id"`
	Type         string    `json:"type"`
	SubmissionID string    `json:"submission_id"`
	RequestedAt  time.Time `json:"requested_at"`
}
