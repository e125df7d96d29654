package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/listinglens/listinglens/internal/config"
)

const keyEnhanceWorkspace = "enhance:workspace:%s"

// EnhanceLimiter throttles enhancement job submissions per workspace. A nil
// limiter (rate limiting disabled or no redis) allows everything.
type EnhanceLimiter struct {
	enabled bool

	bucket *TokenBucket

	rate  float64
	burst int
}

func NewEnhanceLimiter(cfg config.Config, client *redis.Client) (*EnhanceLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return nil, nil
	}
	if limitCfg.EnhanceRate <= 0 || limitCfg.EnhanceBurst <= 0 {
		return nil, errors.New("enhance rate limit must be positive")
	}

	return &EnhanceLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.EnhanceRate,
		burst:   limitCfg.EnhanceBurst,
	}, nil
}

func (l *EnhanceLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *EnhanceLimiter) AllowWorkspace(ctx context.Context, workspaceID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keyEnhanceWorkspace, strings.TrimSpace(workspaceID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
