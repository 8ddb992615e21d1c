package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-consent-intake/internal/catalog"
	"github.com/wolfman30/medspa-consent-intake/internal/channels/whatsapp"
	"github.com/wolfman30/medspa-consent-intake/internal/compliance"
	appconfig "github.com/wolfman30/medspa-consent-intake/internal/config"
	"github.com/wolfman30/medspa-consent-intake/internal/dispatch"
	"github.com/wolfman30/medspa-consent-intake/internal/events"
	"github.com/wolfman30/medspa-consent-intake/internal/intake"
	"github.com/wolfman30/medspa-consent-intake/internal/notify"
	"github.com/wolfman30/medspa-consent-intake/internal/observability/metrics"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

// Services is everything the API and the worker share.
type Services struct {
	Store        *StoreHandle
	Redis        *redis.Client
	Queue        events.Queue
	Metrics      *metrics.IntakeMetrics
	Orchestrator *intake.Orchestrator
}

// Close releases the store and Redis connections.
func (s *Services) Close() {
	if s == nil {
		return
	}
	s.Store.Close()
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
}

// BuildServices wires the store, dispatcher, alerts and queue into an
// orchestrator. awsCfg may be nil when no AWS-backed component is configured.
func BuildServices(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, reg prometheus.Registerer, logger *logging.Logger) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	store, err := BuildSubmissionStore(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	svc := &Services{
		Store: store,
		Redis: BuildRedisClient(ctx, cfg, logger, true),
	}
	if cfg.MetricsEnabled {
		svc.Metrics = metrics.NewIntakeMetrics(reg)
	}

	dispatcher, err := BuildDispatcher(cfg, logger)
	if err != nil {
		svc.Close()
		return nil, err
	}
	dispatcher.WithMetrics(svc.Metrics)

	queue, err := BuildNotificationQueue(cfg, awsCfg)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Queue = queue

	var claimer dispatch.Claimer = dispatch.NopClaimer{}
	var alertThrottle notify.Throttle
	if svc.Redis != nil {
		claimer = dispatch.NewRedisClaimer(svc.Redis, logger)
		alertThrottle = claimer
	}

	orch := intake.NewOrchestrator(store.Repository, dispatcher, logger).
		WithRetryPolicy(dispatch.RetryPolicy{
			MaxAttempts: cfg.DispatchMaxAttempts,
			BaseDelay:   cfg.DispatchBaseDelay,
			MaxDelay:    cfg.DispatchMaxDelay,
		}).
		WithClaimer(claimer, cfg.DispatchClaimTTL).
		WithStoreTimeout(cfg.StoreTimeout).
		WithAlerter(BuildAlertService(cfg, awsCfg, alertThrottle, logger)).
		WithMetrics(svc.Metrics)
	if store.AuditDB != nil {
		orch.WithAuditor(compliance.NewAuditService(store.AuditDB))
	}
	if queue != nil {
		orch.WithPublisher(events.NewPublisher(queue, logger))
	}
	svc.Orchestrator = orch

	logger.Info("intake services ready",
		"store", store.Backend,
		"dispatch_mode", cfg.DispatchMode,
		"redis", svc.Redis != nil,
		"whatsapp_configured", cfg.WhatsAppConfigured(),
	)
	return svc, nil
}

// BuildDispatcher creates the WhatsApp dispatcher. Missing credentials are
// logged, not fatal: sends then fail as auth errors and page operators.
func BuildDispatcher(cfg *appconfig.Config, logger *logging.Logger) (*dispatch.Dispatcher, error) {
	if !cfg.WhatsAppConfigured() {
		logger.Warn("whatsapp credentials missing; confirmations will fail")
	}
	client := whatsapp.NewClient(cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneNumberID)
	if base := strings.TrimSpace(cfg.WhatsAppGraphBaseURL); base != "" {
		client.SetGraphAPIBase(base)
	}

	tmpl := cfg.WhatsAppMessageTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = dispatch.DefaultMessageTemplate
	}
	renderer, err := dispatch.NewMessageRenderer(tmpl)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: WHATSAPP_MESSAGE_TEMPLATE: %w", err)
	}
	return dispatch.NewDispatcher(client, renderer, logger).WithTimeout(cfg.DispatchTimeout), nil
}

// BuildNotificationQueue returns nil in inline dispatch mode.
func BuildNotificationQueue(cfg *appconfig.Config, awsCfg *aws.Config) (events.Queue, error) {
	if cfg.DispatchMode != appconfig.DispatchModeQueue {
		return nil, nil
	}
	if cfg.UseMemoryQueue {
		return events.NewMemoryQueue(0), nil
	}
	if strings.TrimSpace(cfg.NotificationQueueURL) == "" {
		return nil, errors.New("bootstrap: NOTIFICATION_QUEUE_URL is required when DISPATCH_MODE=queue")
	}
	if awsCfg == nil {
		return nil, errors.New("bootstrap: aws config is required for the SQS queue")
	}
	return events.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.NotificationQueueURL), nil
}

// BuildAlertService selects the operator email provider.
func BuildAlertService(cfg *appconfig.Config, awsCfg *aws.Config, throttle notify.Throttle, logger *logging.Logger) *notify.AlertService {
	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "ses":
		if awsCfg != nil {
			if ses := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
				FromName:  cfg.SendGridFromName,
			}, logger); ses != nil {
				sender = ses
			}
		}
	case "sendgrid":
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sg != nil {
			sender = sg
		}
	}
	if sender == nil {
		logger.Warn("operator alert email not configured; alerts will only be logged", "provider", cfg.EmailProvider)
	}
	return notify.NewAlertService(sender, cfg.OperatorAlertEmail, throttle, cfg.AlertThrottle, logger)
}

// LoadCatalog reads the product list. S3 sources use awsCfg.
func LoadCatalog(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) ([]catalog.Product, error) {
	var client catalog.S3API
	if awsCfg != nil {
		client = s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
	}
	return catalog.NewLoader(client, logger).Load(ctx, cfg.ProductCatalogSource)
}
