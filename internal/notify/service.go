package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

// AuthAlertKey throttles credential alerts across processes.
const AuthAlertKey = "intake:alert:auth"

// Throttle grants a key for a window. dispatch.Claimer satisfies it.
type Throttle interface {
	Claim(ctx context.Context, key string, ttl time.Duration) bool
}

// AlertService emails operators about failures that need a human, such as an
// expired WhatsApp access token.
type AlertService struct {
	email    EmailSender
	to       string
	throttle Throttle
	window   time.Duration
	logger   *logging.Logger
}

// NewAlertService builds an alerter. A nil throttle falls back to an
// in-process one.
func NewAlertService(email EmailSender, to string, throttle Throttle, window time.Duration, logger *logging.Logger) *AlertService {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	if throttle == nil {
		throttle = &localThrottle{until: map[string]time.Time{}}
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &AlertService{
		email:    email,
		to:       strings.TrimSpace(to),
		throttle: throttle,
		window:   window,
		logger:   logger,
	}
}

// AlertAuthFailure notifies operators that WhatsApp rejected our credentials.
// At most one alert is sent per window.
func (s *AlertService) AlertAuthFailure(ctx context.Context, submissionID string, cause error) error {
	if s == nil {
		return nil
	}
	if !s.throttle.Claim(ctx, AuthAlertKey, s.window) {
		s.logger.Debug("auth alert throttled", "submission_id", submissionID)
		return nil
	}
	if s.to == "" {
		s.logger.Error("whatsapp credentials rejected and no operator email configured",
			"submission_id", submissionID, "error", cause)
		return nil
	}

	body := fmt.Sprintf(
		"WhatsApp rejected the configured credentials while confirming submission %s.\n\n"+
			"Error: %v\n\n"+
			"Confirmations will keep failing until WHATSAPP_ACCESS_TOKEN is rotated. "+
			"Further alerts are suppressed for %s.",
		submissionID, cause, s.window)
	if err := s.email.Send(ctx, EmailMessage{
		To:      s.to,
		Subject: "[consent-intake] WhatsApp credentials rejected",
		Body:    body,
	}); err != nil {
		s.logger.Error("failed to send operator alert", "error", err)
		return err
	}
	return nil
}

type localThrottle struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func (t *localThrottle) Claim(_ context.Context, key string, ttl time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if until, ok := t.until[key]; ok && now.Before(until) {
		return false
	}
	t.until[key] = now.Add(ttl)
	return true
}
