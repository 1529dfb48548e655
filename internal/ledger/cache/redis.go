package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"clearfund/internal/ledger/models"
	platformredis "clearfund/internal/platform/redis"
	id "clearfund/pkg/domain"
)

const defaultTTL = 5 * time.Minute

// RedisCache stores computed balance summaries keyed by case. Every cache
// failure degrades to a recompute; nothing here is load-bearing for
// correctness.
type RedisCache struct {
	client *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a RedisCache.
type Option func(*RedisCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *RedisCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRedis constructs a summary cache on the shared Redis client.
func NewRedis(client *platformredis.Client, opts ...Option) *RedisCache {
	c := &RedisCache{
		client: client,
		ttl:    defaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func summaryKey(caseID id.CaseID) string {
	return "clearfund:balance:" + caseID.String()
}

func (c *RedisCache) Get(ctx context.Context, caseID id.CaseID) (*models.BalanceSummary, bool) {
	raw, err := c.client.Get(ctx, summaryKey(caseID)).Bytes()
	if err != nil {
		return nil, false
	}
	var summary models.BalanceSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		c.logger.Warn("dropping unreadable cached balance summary",
			"case_id", caseID.String(), "error", err)
		c.Invalidate(ctx, caseID)
		return nil, false
	}
	return &summary, true
}

func (c *RedisCache) Set(ctx context.Context, caseID id.CaseID, summary *models.BalanceSummary) {
	raw, err := json.Marshal(summary)
	if err != nil {
		c.logger.Warn("failed to encode balance summary for cache",
			"case_id", caseID.String(), "error", err)
		return
	}
	if err := c.client.Set(ctx, summaryKey(caseID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache balance summary",
			"case_id", caseID.String(), "error", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, caseID id.CaseID) {
	if err := c.client.Del(ctx, summaryKey(caseID)).Err(); err != nil {
		c.logger.Warn("failed to invalidate balance summary",
			"case_id", caseID.String(), "error", err)
	}
}
