package intake

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-consent-intake/internal/dispatch"
	"github.com/wolfman30/medspa-consent-intake/internal/observability/metrics"
	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

var intakeTracer = otel.Tracer("medspa.internal.intake")

// Notifier sends one confirmation attempt. *dispatch.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, sub *submissions.Submission) error
}

// Auditor records consent decisions and notification outcomes.
type Auditor interface {
	LogConsent(ctx context.Context, sub *submissions.Submission) error
	LogNotification(ctx context.Context, sub *submissions.Submission, state submissions.NotificationState, failureKind string, cause error) error
}

// Alerter pages operators when WhatsApp rejects our credentials.
type Alerter interface {
	AlertAuthFailure(ctx context.Context, submissionID string, cause error) error
}

// JobPublisher hands notification work to the background worker.
type JobPublisher interface {
	PublishNotificationRequested(ctx context.Context, submissionID string) error
}

// OutcomeKind is the terminal state of one Submit call.
type OutcomeKind string

const (
	OutcomeRejected      OutcomeKind = "rejected"
	OutcomePersistFailed OutcomeKind = "persist_failed"
	OutcomeAccepted      OutcomeKind = "accepted"
)

// Outcome is what Submit reports back to the transport layer.
type Outcome struct {
	Kind         OutcomeKind
	Submission   *submissions.Submission
	Notification submissions.NotificationState
	Err          error
}

// ID returns the stored submission id, or "" when nothing was stored.
func (o Outcome) ID() string {
	if o.Submission == nil {
		return ""
	}
	return o.Submission.ID
}

// Orchestrator runs validate -> persist -> notify for one submission. It holds
// no per-request state and is safe for concurrent use.
type Orchestrator struct {
	store        submissions.Store
	notifier     Notifier
	retry        dispatch.RetryPolicy
	claimer      dispatch.Claimer
	claimTTL     time.Duration
	storeTimeout time.Duration
	audit        Auditor
	alerts       Alerter
	publisher    JobPublisher
	logger       *logging.Logger
	metrics      *metrics.IntakeMetrics
}

// NewOrchestrator panics when store or notifier is nil.
func NewOrchestrator(store submissions.Store, notifier Notifier, logger *logging.Logger) *Orchestrator {
	if store == nil {
		panic("intake: store required")
	}
	if notifier == nil {
		panic("intake: notifier required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		store:        store,
		notifier:     notifier,
		retry:        dispatch.DefaultRetryPolicy(),
		claimer:      dispatch.NopClaimer{},
		claimTTL:     2 * time.Minute,
		storeTimeout: 5 * time.Second,
		logger:       logger,
	}
}

func (o *Orchestrator) WithRetryPolicy(p dispatch.RetryPolicy) *Orchestrator {
	o.retry = p
	return o
}

func (o *Orchestrator) WithClaimer(c dispatch.Claimer, ttl time.Duration) *Orchestrator {
	if c != nil {
		o.claimer = c
	}
	if ttl > 0 {
		o.claimTTL = ttl
	}
	return o
}

func (o *Orchestrator) WithStoreTimeout(d time.Duration) *Orchestrator {
	if d > 0 {
		o.storeTimeout = d
	}
	return o
}

func (o *Orchestrator) WithAuditor(a Auditor) *Orchestrator {
	o.audit = a
	return o
}

func (o *Orchestrator) WithAlerter(a Alerter) *Orchestrator {
	o.alerts = a
	return o
}

// WithPublisher switches consenting submissions to queued delivery.
func (o *Orchestrator) WithPublisher(p JobPublisher) *Orchestrator {
	o.publisher = p
	return o
}

func (o *Orchestrator) WithMetrics(m *metrics.IntakeMetrics) *Orchestrator {
	o.metrics = m
	return o
}

// Submit validates, persists and (when consent was given) notifies. Dispatch
// failures never turn an accepted submission into a failed one.
func (o *Orchestrator) Submit(ctx context.Context, req submissions.SubmissionRequest) Outcome {
	ctx, span := intakeTracer.Start(ctx, "intake.submit")
	defer span.End()

	accepted, err := submissions.Validate(req)
	if err != nil {
		o.metrics.ObserveSubmission(string(OutcomeRejected))
		o.logger.Info("submission rejected", "error", err)
		span.SetAttributes(attribute.String("intake.outcome", string(OutcomeRejected)))
		return Outcome{Kind: OutcomeRejected, Err: err}
	}

	// The client going away must not cancel the write.
	storeCtx, cancel := o.storeContext(ctx)
	sub, err := o.store.Insert(storeCtx, accepted)
	cancel()
	if err != nil {
		kind := submissions.StoreErrorKindOf(err)
		o.metrics.ObserveSubmission(string(OutcomePersistFailed))
		o.metrics.ObserveStoreError("insert", string(kind))
		o.logger.Error("failed to persist submission", "error", err, "kind", kind)
		span.RecordError(err)
		span.SetAttributes(attribute.String("intake.outcome", string(OutcomePersistFailed)))
		return Outcome{Kind: OutcomePersistFailed, Err: err}
	}

	span.SetAttributes(
		attribute.String("medspa.submission_id", sub.ID),
		attribute.String("intake.outcome", string(OutcomeAccepted)),
	)
	o.metrics.ObserveSubmission(string(OutcomeAccepted))
	o.logger.Info("submission stored",
		"submission_id", sub.ID,
		"phone", logging.MaskPhone(sub.Phone),
		"product", sub.Product,
		"consent", sub.Consent,
	)
	o.auditConsent(ctx, sub)

	if !sub.Consent {
		o.metrics.ObserveNotification(submissions.NotificationNotApplicable.Label())
		return Outcome{Kind: OutcomeAccepted, Submission: sub, Notification: submissions.NotificationNotApplicable}
	}

	if o.publisher != nil {
		pubCtx, cancel := o.storeContext(ctx)
		err := o.publisher.PublishNotificationRequested(pubCtx, sub.ID)
		cancel()
		if err == nil {
			return Outcome{Kind: OutcomeAccepted, Submission: sub, Notification: submissions.NotificationPending}
		}
		o.logger.Warn("failed to enqueue notification, sending inline", "submission_id", sub.ID, "error", err)
	}

	state := o.Notify(ctx, sub)
	return Outcome{Kind: OutcomeAccepted, Submission: sub, Notification: state}
}

// Notify sends the confirmation for a stored, consenting submission and
// records the settled state. It returns Pending when the work was left for
// later: another process holds the claim, or ctx ended mid-dispatch.
func (o *Orchestrator) Notify(ctx context.Context, sub *submissions.Submission) submissions.NotificationState {
	if sub == nil || !sub.Consent {
		return submissions.NotificationNotApplicable
	}
	if sub.NotificationState.Valid() && sub.NotificationState.Settled() {
		return sub.NotificationState
	}

	key := dispatch.ClaimKey(sub.ID)
	if !o.claimer.Claim(ctx, key, o.claimTTL) {
		o.logger.Info("notification already in flight", "submission_id", sub.ID)
		return submissions.NotificationPending
	}
	defer o.claimer.Release(context.WithoutCancel(ctx), key)

	attempts := 0
	err := o.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		return o.notifier.Notify(ctx, sub)
	})

	if err != nil && ctx.Err() != nil && dispatch.Classify(err) == dispatch.TransientNetworkError {
		o.logger.Warn("notification abandoned, caller went away",
			"submission_id", sub.ID, "attempts", attempts, "error", err)
		return submissions.NotificationPending
	}

	state := submissions.NotificationSent
	failureKind := ""
	if err != nil {
		state = submissions.NotificationFailed
		kind := dispatch.Classify(err)
		failureKind = string(kind)
		o.reportDispatchFailure(ctx, sub, kind, attempts, err)
	}

	storeCtx, cancel := o.storeContext(ctx)
	defer cancel()
	if uerr := o.store.UpdateNotificationState(storeCtx, sub.ID, state); uerr != nil {
		if errors.Is(uerr, submissions.ErrSubmissionNotFound) {
			o.logger.Error("notification state update for unknown submission", "submission_id", sub.ID)
		} else {
			o.metrics.ObserveStoreError("update_notification_state", string(submissions.StoreErrorKindOf(uerr)))
			o.logger.Error("failed to record notification state",
				"submission_id", sub.ID, "state", state, "error", uerr)
		}
	}
	sub.NotificationState = state

	if o.audit != nil {
		if aerr := o.audit.LogNotification(storeCtx, sub, state, failureKind, err); aerr != nil {
			o.logger.Warn("failed to audit notification", "submission_id", sub.ID, "error", aerr)
		}
	}
	o.metrics.ObserveNotification(state.Label())
	return state
}

func (o *Orchestrator) reportDispatchFailure(ctx context.Context, sub *submissions.Submission, kind dispatch.Kind, attempts int, err error) {
	switch kind {
	case dispatch.AuthError:
		o.logger.Error("whatsapp rejected credentials", "submission_id", sub.ID, "error", err)
		if o.alerts != nil {
			if aerr := o.alerts.AlertAuthFailure(context.WithoutCancel(ctx), sub.ID, err); aerr != nil {
				o.logger.Error("operator alert failed", "error", aerr)
			}
		}
	case dispatch.RejectedByProvider:
		o.logger.Warn("whatsapp rejected confirmation",
			"submission_id", sub.ID, "to", logging.MaskPhone(sub.Phone), "error", err)
	default:
		o.logger.Warn("whatsapp confirmation failed after retries",
			"submission_id", sub.ID, "attempts", attempts, "error", err)
	}
}

func (o *Orchestrator) auditConsent(ctx context.Context, sub *submissions.Submission) {
	if o.audit == nil {
		return
	}
	auditCtx, cancel := o.storeContext(ctx)
	defer cancel()
	if err := o.audit.LogConsent(auditCtx, sub); err != nil {
		o.logger.Warn("failed to audit consent", "submission_id", sub.ID, "error", err)
	}
}

func (o *Orchestrator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.storeTimeout)
}
