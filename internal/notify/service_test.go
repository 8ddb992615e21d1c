package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type mockEmailSender struct {
	sent    []EmailMessage
	callErr error
}

func (m *mockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.callErr != nil {
		return m.callErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

type denyThrottle struct{}

func (denyThrottle) Claim(context.Context, string, time.Duration) bool { return false }

func TestAlertAuthFailure_SendsOncePerWindow(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewAlertService(email, "ops@example.com", nil, time.Hour, nil)

	cause := errors.New("token expired")
	if err := svc.AlertAuthFailure(context.Background(), "sub-1", cause); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.AlertAuthFailure(context.Background(), "sub-2", cause); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(email.sent) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(email.sent))
	}
	msg := email.sent[0]
	if msg.To != "ops@example.com" {
		t.Errorf("unexpected recipient %s", msg.To)
	}
	if !strings.Contains(msg.Body, "sub-1") || !strings.Contains(msg.Body, "token expired") {
		t.Errorf("alert body missing context: %s", msg.Body)
	}
}

func TestAlertAuthFailure_Throttled(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewAlertService(email, "ops@example.com", denyThrottle{}, time.Minute, nil)

	if err := svc.AlertAuthFailure(context.Background(), "sub-1", errors.New("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 0 {
		t.Fatalf("expected no alert, got %d", len(email.sent))
	}
}

func TestAlertAuthFailure_NoRecipient(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewAlertService(email, "  ", nil, time.Minute, nil)
	if err := svc.AlertAuthFailure(context.Background(), "sub-1", errors.New("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 0 {
		t.Fatal("expected no email without a recipient")
	}
}

func TestAlertAuthFailure_PropagatesSendError(t *testing.T) {
	email := &mockEmailSender{callErr: errors.New("smtp down")}
	svc := NewAlertService(email, "ops@example.com", nil, time.Minute, nil)
	if err := svc.AlertAuthFailure(context.Background(), "sub-1", errors.New("x")); err == nil {
		t.Fatal("expected send error")
	}
}

func TestAlertService_NilSafe(t *testing.T) {
	var svc *AlertService
	if err := svc.AlertAuthFailure(context.Background(), "sub-1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
