package submissions

import (
	"encoding/json"
	"time"
)

// NotificationState tracks the WhatsApp dispatch outcome independently of the
// submission row itself.
type NotificationState string

const (
	NotificationNotApplicable NotificationState = "NotApplicable"
	NotificationPending       NotificationState = "Pending"
	NotificationSent          NotificationState = "Sent"
	NotificationFailed        NotificationState = "Failed"
)

// Valid reports whether s is one of the known states.
func (s NotificationState) Valid() bool {
	switch s {
	case NotificationNotApplicable, NotificationPending, NotificationSent, NotificationFailed:
		return true
	}
	return false
}

// Settled reports whether no further transition is possible.
func (s NotificationState) Settled() bool {
	return s != NotificationPending
}

// Label is the lower-case form returned to API clients.
func (s NotificationState) Label() string {
	switch s {
	case NotificationNotApplicable:
		return "not_applicable"
	case NotificationPending:
		return "pending"
	case NotificationSent:
		return "sent"
	case NotificationFailed:
		return "failed"
	}
	return "unknown"
}

// InitialState is Pending when the customer consented, NotApplicable otherwise.
func InitialState(consent bool) NotificationState {
	if consent {
		return NotificationPending
	}
	return NotificationNotApplicable
}

// CanTransition reports whether a stored state may move from -> to.
// Re-applying the current state is always allowed.
func CanTransition(from, to NotificationState) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	return from == NotificationPending && (to == NotificationSent || to == NotificationFailed)
}

// Submission is one accepted consent form.
type Submission struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	Phone                 string            `json:"phone"`
	Product               string            `json:"product"`
	Consent               bool              `json:"consent"`
	SubmittedAt           time.Time         `json:"submitted_at"`
	NotificationState     NotificationState `json:"notification_state"`
	NotificationUpdatedAt *time.Time        `json:"notification_updated_at,omitempty"`
}

// SubmissionRequest is the untrusted request body of POST /submissions.
// Consent stays raw so the validator can decide what counts as a boolean.
type SubmissionRequest struct {
	Name    string          `json:"name"`
	Phone   string          `json:"phone"`
	Product string          `json:"product"`
	Consent json.RawMessage `json:"consent"`
}

// Accepted is a request that passed validation, with normalized fields.
type Accepted struct {
	Name    string
	Phone   string
	Product string
	Consent bool
}
