package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendDynamo   = "dynamodb"
	StoreBackendMemory   = "memory"

	DispatchModeInline = "inline"
	DispatchModeQueue  = "queue"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Submission store
	DatabaseURL      string
	StoreBackend     string
	StoreTimeout     time.Duration
	SubmissionsTable string
	AuditEnabled     bool

	// WhatsApp Cloud API
	WhatsAppAccessToken     string
	WhatsAppPhoneNumberID   string
	WhatsAppGraphBaseURL    string
	WhatsAppMessageTemplate string

	// Dispatch policy
	DispatchMode        string
	DispatchTimeout     time.Duration
	DispatchMaxAttempts int
	DispatchBaseDelay   time.Duration
	DispatchMaxDelay    time.Duration
	DispatchClaimTTL    time.Duration

	// Queue + worker
	NotificationQueueURL string
	UseMemoryQueue       bool
	WorkerCount          int
	SweepInterval        time.Duration
	SweepStaleAfter      time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	ProductCatalogSource string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Operator alerts
	EmailProvider      string
	OperatorAlertEmail string
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
	SESFromEmail       string
	AlertThrottle      time.Duration

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	MetricsEnabled     bool
}

// Load reads configuration from environment variables
func Load() *Config {
	databaseURL := getEnv("DATABASE_URL", "")
	defaultBackend := StoreBackendMemory
	if databaseURL != "" {
		defaultBackend = StoreBackendPostgres
	}

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:      databaseURL,
		StoreBackend:     strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", defaultBackend))),
		StoreTimeout:     getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
		SubmissionsTable: getEnv("SUBMISSIONS_TABLE", "consent_submissions"),
		AuditEnabled:     getEnvAsBool("AUDIT_ENABLED", true),

		WhatsAppAccessToken:     getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID:   getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppGraphBaseURL:    getEnv("WHATSAPP_GRAPH_BASE_URL", "https://graph.facebook.com/v20.0"),
		WhatsAppMessageTemplate: getEnv("WHATSAPP_MESSAGE_TEMPLATE", "Thank you, {{.Name}}, for choosing {{.Product}}!"),

		DispatchMode:        strings.ToLower(strings.TrimSpace(getEnv("DISPATCH_MODE", DispatchModeInline))),
		DispatchTimeout:     getEnvAsDuration("DISPATCH_TIMEOUT", 10*time.Second),
		DispatchMaxAttempts: getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchBaseDelay:   getEnvAsDuration("DISPATCH_BASE_DELAY", 500*time.Millisecond),
		DispatchMaxDelay:    getEnvAsDuration("DISPATCH_MAX_DELAY", 8*time.Second),
		DispatchClaimTTL:    getEnvAsDuration("DISPATCH_CLAIM_TTL", 2*time.Minute),

		NotificationQueueURL: getEnv("NOTIFICATION_QUEUE_URL", ""),
		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),
		SweepInterval:        getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		SweepStaleAfter:      getEnvAsDuration("SWEEP_STALE_AFTER", 5*time.Minute),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ProductCatalogSource: getEnv("PRODUCT_CATALOG_SOURCE", "products.json"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EmailProvider:      strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		OperatorAlertEmail: getEnv("OPERATOR_ALERT_EMAIL", ""),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "MedSpa Consent Intake"),
		SESFromEmail:       getEnv("SES_FROM_EMAIL", ""),
		AlertThrottle:      getEnvAsDuration("ALERT_THROTTLE", 15*time.Minute),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
		MetricsEnabled:     getEnvAsBool("METRICS_ENABLED", true),
	}
}

// WhatsAppConfigured reports whether outbound notifications can be sent.
func (c *Config) WhatsAppConfigured() bool {
	return c != nil && strings.TrimSpace(c.WhatsAppAccessToken) != "" && strings.TrimSpace(c.WhatsAppPhoneNumberID) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
