package dispatch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/medspa-consent-intake/internal/channels/whatsapp"
	"github.com/wolfman30/medspa-consent-intake/internal/observability/metrics"
	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

var dispatchTracer = otel.Tracer("medspa.internal.dispatch")

// Sender delivers a text message to a phone number.
type Sender interface {
	SendText(ctx context.Context, to, body string) (*whatsapp.SendResponse, error)
}

// Dispatcher sends the confirmation message for one submission per call.
// It does not retry; callers wrap it with a RetryPolicy.
type Dispatcher struct {
	sender   Sender
	renderer *MessageRenderer
	timeout  time.Duration
	logger   *logging.Logger
	metrics  *metrics.IntakeMetrics
}

// NewDispatcher panics when sender is nil. A nil renderer uses the default template.
func NewDispatcher(sender Sender, renderer *MessageRenderer, logger *logging.Logger) *Dispatcher {
	if sender == nil {
		panic("dispatch: sender required")
	}
	if renderer == nil {
		renderer, _ = NewMessageRenderer(DefaultMessageTemplate)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		sender:   sender,
		renderer: renderer,
		timeout:  10 * time.Second,
		logger:   logger,
	}
}

// WithTimeout bounds each send attempt.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.IntakeMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// Notify performs one send attempt. Failures are returned as *DispatchError.
func (d *Dispatcher) Notify(ctx context.Context, sub *submissions.Submission) error {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.notify", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if sub == nil || sub.Phone == "" {
		err := &DispatchError{Kind: RejectedByProvider, Err: errors.New("recipient phone required")}
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing recipient")
		return err
	}
	span.SetAttributes(attribute.String("medspa.submission_id", sub.ID))

	body, err := d.renderer.Render(sub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return &DispatchError{Kind: RejectedByProvider, Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	resp, err := d.sender.SendText(attemptCtx, sub.Phone, body)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		kind := Classify(err)
		d.metrics.ObserveDispatchAttempt(string(kind), elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		span.SetAttributes(attribute.String("dispatch.error_kind", string(kind)))
		return &DispatchError{Kind: kind, Err: err}
	}

	d.metrics.ObserveDispatchAttempt("ok", elapsed)
	d.logger.Debug("whatsapp confirmation accepted",
		"submission_id", sub.ID,
		"message_id", resp.MessageID(),
		"to", logging.MaskPhone(sub.Phone),
	)
	return nil
}
