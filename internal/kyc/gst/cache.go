package gst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"kyc-intake/internal/kyc/models"
	"kyc-intake/pkg/platform/sentinel"
	"kyc-intake/pkg/requestcontext"
)

// Cache stores registry answers keyed by GSTIN.
type Cache interface {
	Get(ctx context.Context, gstNumber string) (*models.GSTVerification, error)
	Put(ctx context.Context, gstNumber string, result *models.GSTVerification, ttl time.Duration) error
}

// CacheMetrics is satisfied by the kyc metrics collector.
type CacheMetrics interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheError()
}

// CachedVerifier serves repeated registry lookups from cache. Only registry
// outcomes are cached: verified and not-registered. Format errors are cheap
// and infrastructure failures must be retried. A ttl of zero or less turns
// caching off. Cache failures are logged and never fail a verification.
type CachedVerifier struct {
	next    Verifier
	cache   Cache
	ttl     time.Duration
	metrics CacheMetrics
	logger  *slog.Logger
}

type CacheOption func(*CachedVerifier)

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CachedVerifier) {
		c.logger = logger
	}
}

func NewCachedVerifier(next Verifier, cache Cache, ttl time.Duration, metrics CacheMetrics, opts ...CacheOption) *CachedVerifier {
	c := &CachedVerifier{
		next:    next,
		cache:   cache,
		ttl:     ttl,
		metrics: metrics,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedVerifier) Verify(ctx context.Context, gstNumber string) (*models.GSTVerification, error) {
	if err := CheckFormat(gstNumber); err != nil {
		return nil, err
	}
	if c.ttl <= 0 {
		return c.next.Verify(ctx, gstNumber)
	}

	if cached, ok := c.lookup(ctx, gstNumber); ok {
		if cached.Status == models.GSTStatusRejected {
			return nil, ErrNotRegistered
		}
		return cached, nil
	}

	res, err := c.next.Verify(ctx, gstNumber)
	switch {
	case err == nil:
		if res.Source != models.GSTSourceFormatFallback {
			c.store(ctx, gstNumber, res)
		}
		return res, nil
	case errors.Is(err, ErrNotRegistered):
		c.store(ctx, gstNumber, &models.GSTVerification{
			Status:    models.GSTStatusRejected,
			Error:     ErrNotRegistered.Message,
			CheckedAt: time.Now(),
		})
		return nil, err
	default:
		return nil, err
	}
}

func (c *CachedVerifier) lookup(ctx context.Context, gstNumber string) (*models.GSTVerification, bool) {
	cached, err := c.cache.Get(ctx, gstNumber)
	switch {
	case err == nil:
		if c.metrics != nil {
			c.metrics.RecordCacheHit()
		}
		return cached, true
	case errors.Is(err, sentinel.ErrNotFound):
		if c.metrics != nil {
			c.metrics.RecordCacheMiss()
		}
	default:
		c.cacheFailed(ctx, "gst cache read failed", err)
	}
	return nil, false
}

func (c *CachedVerifier) store(ctx context.Context, gstNumber string, res *models.GSTVerification) {
	if err := c.cache.Put(ctx, gstNumber, res, c.ttl); err != nil {
		c.cacheFailed(ctx, "gst cache write failed", err)
	}
}

func (c *CachedVerifier) cacheFailed(ctx context.Context, msg string, err error) {
	if c.metrics != nil {
		c.metrics.RecordCacheError()
	}
	c.logger.WarnContext(ctx, msg,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	result    models.GSTVerification
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, gstNumber string) (*models.GSTVerification, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[gstNumber]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	res := e.result
	return &res, nil
}

// Put ignores entries with a ttl of zero or less.
func (c *MemoryCache) Put(_ context.Context, gstNumber string, result *models.GSTVerification, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[gstNumber] = memoryEntry{result: *result, expiresAt: c.now().Add(ttl)}
	return nil
}

const redisCacheKeyPrefix = "kyc:gst:"

// RedisCache shares registry answers across instances.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, gstNumber string) (*models.GSTVerification, error) {
	raw, err := c.client.Get(ctx, redisCacheKeyPrefix+gstNumber).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get gst cache: %w", err)
	}
	var res models.GSTVerification
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode gst cache: %w", err)
	}
	return &res, nil
}

// Put ignores entries with a ttl of zero or less; redis would keep them
// forever.
func (c *RedisCache) Put(ctx context.Context, gstNumber string, result *models.GSTVerification, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode gst cache: %w", err)
	}
	if err := c.client.Set(ctx, redisCacheKeyPrefix+gstNumber, raw, ttl).Err(); err != nil {
		return fmt.Errorf("put gst cache: %w", err)
	}
	return nil
}
