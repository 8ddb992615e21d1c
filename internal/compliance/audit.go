// Package compliance keeps an append-only record of consent decisions and the
// messages sent because of them.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
)

// AuditEventType represents the type of consent event.
type AuditEventType string

const (
	// EventConsentGranted is logged when a submission arrives with consent.
	EventConsentGranted AuditEventType = "consent.granted"
	// EventConsentDeclined is logged when a submission arrives without consent.
	EventConsentDeclined AuditEventType = "consent.declined"
	// EventNotificationSent is logged once the confirmation was accepted by WhatsApp.
	EventNotificationSent AuditEventType = "notification.sent"
	// EventNotificationFailed is logged when the confirmation could not be delivered.
	EventNotificationFailed AuditEventType = "notification.failed"
)

// AuditEvent represents an immutable audit record.
type AuditEvent struct {
	ID           string          `json:"id"`
	SubmissionID string          `json:"submission_id"`
	EventType    AuditEventType  `json:"event_type"`
	Phone        string          `json:"phone,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	Product     string `json:"product,omitempty"`
	SubmittedAt string `json:"submitted_at,omitempty"`

	// For notification outcomes
	FailureKind string `json:"failure_kind,omitempty"`
	Error       string `json:"error,omitempty"`
}

// AuditService handles consent audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service. A nil db yields a service that
// records nothing.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO consent_audit_events (
			id, submission_id, event_type, phone, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.SubmissionID,
		event.EventType,
		nullString(event.Phone),
		string(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// LogConsent records the consent decision captured with a new submission.
func (s *AuditService) LogConsent(ctx context.Context, sub *submissions.Submission) error {
	if sub == nil {
		return nil
	}
	eventType := EventConsentDeclined
	if sub.Consent {
		eventType = EventConsentGranted
	}
	detailsJSON, _ := json.Marshal(AuditDetails{
		Product:     sub.Product,
		SubmittedAt: sub.SubmittedAt.UTC().Format(time.RFC3339),
	})
	return s.LogEvent(ctx, AuditEvent{
		SubmissionID: sub.ID,
		EventType:    eventType,
		Phone:        sub.Phone,
		Details:      detailsJSON,
	})
}

// LogNotification records the settled outcome of a confirmation message.
// Pending and NotApplicable are not outcomes and are ignored.
func (s *AuditService) LogNotification(ctx context.Context, sub *submissions.Submission, state submissions.NotificationState, failureKind string, cause error) error {
	if sub == nil {
		return nil
	}
	var eventType AuditEventType
	switch state {
	case submissions.NotificationSent:
		eventType = EventNotificationSent
	case submissions.NotificationFailed:
		eventType = EventNotificationFailed
	default:
		return nil
	}
	details := AuditDetails{Product: sub.Product, FailureKind: failureKind}
	if cause != nil {
		details.Error = cause.Error()
	}
	detailsJSON, _ := json.Marshal(details)
	return s.LogEvent(ctx, AuditEvent{
		SubmissionID: sub.ID,
		EventType:    eventType,
		Phone:        sub.Phone,
		Details:      detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, submission_id, event_type, phone, details, created_at
		FROM consent_audit_events
		WHERE 1 = 1
	`
	var args []interface{}
	argIdx := 1

	if filter.SubmissionID != "" {
		query += fmt.Sprintf(" AND submission_id = $%d", argIdx)
		args = append(args, filter.SubmissionID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var phone sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.SubmissionID, &e.EventType, &phone, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.Phone = phone.String
		e.Details = details
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to read audit events: %w", err)
	}
	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	SubmissionID string
	EventType    AuditEventType
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
