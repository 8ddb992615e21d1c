package dispatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

// Claimer grants short-lived exclusive ownership of a key, so only one process
// dispatches a given submission at a time.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) bool
	Release(ctx context.Context, key string)
}

// ClaimKey is the claim key for a submission's notification.
func ClaimKey(submissionID string) string {
	return "intake:dispatch:" + submissionID
}

// RedisClaimer implements Claimer with SET NX PX.
type RedisClaimer struct {
	redis  *redis.Client
	logger *logging.Logger
}

// NewRedisClaimer returns a NopClaimer when client is nil.
func NewRedisClaimer(client *redis.Client, logger *logging.Logger) Claimer {
	if client == nil {
		return NopClaimer{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisClaimer{redis: client, logger: logger}
}

// Claim returns false only when another holder owns the key. Redis failures
// fail open.
func (c *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	ok, err := c.redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		c.logger.Warn("dispatch claim failed, proceeding", "key", key, "error", err)
		return true
	}
	return ok
}

func (c *RedisClaimer) Release(ctx context.Context, key string) {
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("dispatch claim release failed", "key", key, "error", err)
	}
}

// NopClaimer always grants the claim.
type NopClaimer struct{}

func (NopClaimer) Claim(context.Context, string, time.Duration) bool { return true }
func (NopClaimer) Release(context.Context, string) {}
