package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	appconfig "github.com/wolfman30/medspa-consent-intake/internal/config"
	"github.com/wolfman30/medspa-consent-intake/internal/events"
	"github.com/wolfman30/medspa-consent-intake/internal/intake"
	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

func baseConfig() *appconfig.Config {
	return &appconfig.Config{
		StoreBackend:        appconfig.StoreBackendMemory,
		StoreTimeout:        time.Second,
		DispatchMode:        appconfig.DispatchModeInline,
		DispatchTimeout:     time.Second,
		DispatchMaxAttempts: 1,
		DispatchBaseDelay:   time.Millisecond,
		DispatchMaxDelay:    time.Millisecond,
		DispatchClaimTTL:    time.Minute,
		EmailProvider:       "stub",
		AlertThrottle:       time.Minute,
		MetricsEnabled:      true,
	}
}

func TestBuildRedisClientDisabled(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logging.Discard(), true); client != nil {
		t.Fatalf("expected nil client when REDIS_ADDR is empty")
	}
	if client := BuildRedisClient(context.Background(), nil, nil, true); client != nil {
		t.Fatalf("expected nil client for nil config")
	}
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	client := BuildRedisClient(context.Background(), cfg, logging.Discard(), true)
	if client == nil {
		t.Fatalf("expected client when redis is reachable")
	}
	_ = client.Close()

	mr.Close()
	if client := BuildRedisClient(context.Background(), cfg, logging.Discard(), true); client != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestBuildSubmissionStore(t *testing.T) {
	handle, err := BuildSubmissionStore(context.Background(), baseConfig(), nil, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer handle.Close()
	if _, ok := handle.Repository.(*submissions.InMemoryRepository); !ok {
		t.Fatalf("expected in-memory repository, got %T", handle.Repository)
	}
	if err := handle.Ping(context.Background()); err != nil {
		t.Fatalf("expected memory store to be healthy: %v", err)
	}

	cfg := baseConfig()
	cfg.StoreBackend = appconfig.StoreBackendPostgres
	if _, err := BuildSubmissionStore(context.Background(), cfg, nil, logging.Discard()); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}

	cfg.StoreBackend = appconfig.StoreBackendDynamo
	if _, err := BuildSubmissionStore(context.Background(), cfg, nil, logging.Discard()); err == nil {
		t.Fatalf("expected error without aws config")
	}

	cfg.StoreBackend = "cassandra"
	if _, err := BuildSubmissionStore(context.Background(), cfg, nil, logging.Discard()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestBuildSubmissionStoreDynamo(t *testing.T) {
	cfg := baseConfig()
	cfg.StoreBackend = appconfig.StoreBackendDynamo
	cfg.SubmissionsTable = "consent_submissions"
	awsCfg := aws.Config{Region: "us-east-1"}

	handle, err := BuildSubmissionStore(context.Background(), cfg, &awsCfg, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := handle.Repository.(*submissions.DynamoRepository); !ok {
		t.Fatalf("expected dynamo repository, got %T", handle.Repository)
	}
}

func TestBuildNotificationQueue(t *testing.T) {
	cfg := baseConfig()
	queue, err := BuildNotificationQueue(cfg, nil)
	if err != nil || queue != nil {
		t.Fatalf("expected no queue inline, got %v %v", queue, err)
	}

	cfg.DispatchMode = appconfig.DispatchModeQueue
	cfg.UseMemoryQueue = true
	queue, err = BuildNotificationQueue(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := queue.(*events.MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", queue)
	}

	cfg.UseMemoryQueue = false
	if _, err := BuildNotificationQueue(cfg, nil); err == nil {
		t.Fatalf("expected error without queue url")
	}
	cfg.NotificationQueueURL = "http://localhost:4566/000000000000/notifications"
	if _, err := BuildNotificationQueue(cfg, nil); err == nil {
		t.Fatalf("expected error without aws config")
	}
	awsCfg := aws.Config{Region: "us-east-1"}
	queue, err = BuildNotificationQueue(cfg, &awsCfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := queue.(*events.SQSQueue); !ok {
		t.Fatalf("expected sqs queue, got %T", queue)
	}
}

func TestBuildDispatcherRejectsBadTemplate(t *testing.T) {
	cfg := baseConfig()
	cfg.WhatsAppMessageTemplate = "Thank you, {{.Name"
	if _, err := BuildDispatcher(cfg, logging.Discard()); err == nil {
		t.Fatalf("expected template parse error")
	}
}

func TestBuildServicesEndToEnd(t *testing.T) {
	var sends atomic.Int32
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sends.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messaging_product": "whatsapp",
			"messages":          []map[string]string{{"id": "wamid.test"}},
		})
	}))
	defer graph.Close()

	cfg := baseConfig()
	cfg.WhatsAppAccessToken = "token"
	cfg.WhatsAppPhoneNumberID = "12345"
	cfg.WhatsAppGraphBaseURL = graph.URL

	svc, err := BuildServices(context.Background(), cfg, nil, prometheus.NewRegistry(), logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer svc.Close()

	out := svc.Orchestrator.Submit(context.Background(), submissions.SubmissionRequest{
		Name:    "Ana",
		Phone:   "+14155552671",
		Product: "Botox",
		Consent: json.RawMessage("true"),
	})
	if out.Kind != intake.OutcomeAccepted || out.Notification != submissions.NotificationSent {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if sends.Load() != 1 {
		t.Fatalf("expected one graph api call, got %d", sends.Load())
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	if err := os.WriteFile(path, []byte(`[{"id":1,"name":"Botox"}]`), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cfg := baseConfig()
	cfg.ProductCatalogSource = path

	products, err := LoadCatalog(context.Background(), cfg, nil, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 || products[0].Name != "Botox" {
		t.Fatalf("unexpected products %+v", products)
	}
}
