package gst

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-intake/internal/kyc/models"
	"kyc-intake/pkg/platform/sentinel"
)

type countingMetrics struct {
	hits, misses, errors int
}

func (m *countingMetrics) RecordCacheHit()   { m.hits++ }
func (m *countingMetrics) RecordCacheMiss()  { m.misses++ }
func (m *countingMetrics) RecordCacheError() { m.errors++ }

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (*models.GSTVerification, error) {
	return nil, errors.New("redis: connection refused")
}

func (brokenCache) Put(context.Context, string, *models.GSTVerification, time.Duration) error {
	return errors.New("redis: connection refused")
}

func TestCachedVerifier(t *testing.T) {
	ctx := context.Background()

	t.Run("second lookup is served from cache", func(t *testing.T) {
		calls := 0
		next := verifierFunc(func(context.Context, string) (*models.GSTVerification, error) {
			calls++
			return &models.GSTVerification{Status: models.GSTStatusVerified, Source: "gst-registry", LegalName: "Acme"}, nil
		})
		m := &countingMetrics{}
		v := NewCachedVerifier(next, NewMemoryCache(), time.Minute, m)

		for i := 0; i < 2; i++ {
			res, err := v.Verify(ctx, testGSTIN)
			require.NoError(t, err)
			assert.Equal(t, "Acme", res.LegalName)
		}
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, m.hits)
		assert.Equal(t, 1, m.misses)
	})

	t.Run("not registered answers are cached", func(t *testing.T) {
		calls := 0
		next := verifierFunc(func(context.Context, string) (*models.GSTVerification, error) {
			calls++
			return nil, ErrNotRegistered
		})
		v := NewCachedVerifier(next, NewMemoryCache(), time.Minute, nil)

		_, err := v.Verify(ctx, testGSTIN)
		assert.ErrorIs(t, err, ErrNotRegistered)
		_, err = v.Verify(ctx, testGSTIN)
		assert.ErrorIs(t, err, ErrNotRegistered)
		assert.Equal(t, 1, calls)
	})

	t.Run("outages and fallback answers are not cached", func(t *testing.T) {
		calls := 0
		next := verifierFunc(func(context.Context, string) (*models.GSTVerification, error) {
			calls++
			if calls == 1 {
				return nil, errOutage
			}
			return &models.GSTVerification{Status: models.GSTStatusVerified, Source: models.GSTSourceFormatFallback}, nil
		})
		v := NewCachedVerifier(next, NewMemoryCache(), time.Minute, nil)

		_, err := v.Verify(ctx, testGSTIN)
		assert.Error(t, err)
		_, err = v.Verify(ctx, testGSTIN)
		require.NoError(t, err)
		_, err = v.Verify(ctx, testGSTIN)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("format errors bypass cache and registry", func(t *testing.T) {
		v := NewCachedVerifier(verifierFunc(func(context.Context, string) (*models.GSTVerification, error) {
			t.Fatal("registry must not be called")
			return nil, nil
		}), NewMemoryCache(), time.Minute, nil)

		_, err := v.Verify(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyInput)
	})
}

func TestCachedVerifier_CacheFailures(t *testing.T) {
	ctx := context.Background()
	calls := 0
	next := verifierFunc(func(context.Context, string) (*models.GSTVerification, error) {
		calls++
		return &models.GSTVerification{Status: models.GSTStatusVerified, Source: "gst-registry"}, nil
	})
	var logs bytes.Buffer
	m := &countingMetrics{}
	v := NewCachedVerifier(next, brokenCache{}, time.Minute, m,
		WithCacheLogger(slog.New(slog.NewJSONHandler(&logs, nil))))

	res, err := v.Verify(ctx, testGSTIN)
	require.NoError(t, err)
	assert.Equal(t, models.GSTStatusVerified, res.Status)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, m.errors, "read and write failures are both counted")
	assert.Contains(t, logs.String(), "gst cache read failed")
	assert.Contains(t, logs.String(), "gst cache write failed")
}

func TestCachedVerifier_ZeroTTLDisablesCaching(t *testing.T) {
	calls := 0
	next := verifierFunc(func(context.Context, string) (*models.GSTVerification, error) {
		calls++
		return &models.GSTVerification{Status: models.GSTStatusVerified, Source: "gst-registry"}, nil
	})
	m := &countingMetrics{}
	v := NewCachedVerifier(next, NewMemoryCache(), 0, m)

	for i := 0; i < 3; i++ {
		_, err := v.Verify(context.Background(), testGSTIN)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.Zero(t, m.hits+m.misses)
}

func TestCachesIgnoreNonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	caches := map[string]Cache{
		"memory": NewMemoryCache(),
		"redis":  NewRedisCache(client),
	}
	for name, c := range caches {
		t.Run(name, func(t *testing.T) {
			res := &models.GSTVerification{Status: models.GSTStatusVerified}
			require.NoError(t, c.Put(ctx, testGSTIN, res, 0))
			require.NoError(t, c.Put(ctx, testGSTIN, res, -time.Second))

			_, err := c.Get(ctx, testGSTIN)
			assert.ErrorIs(t, err, sentinel.ErrNotFound)
		})
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, testGSTIN, &models.GSTVerification{Status: models.GSTStatusVerified}, time.Minute))
	_, err := c.Get(ctx, testGSTIN)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = c.Get(ctx, testGSTIN)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisCache(client)
	ctx := context.Background()

	_, err := c.Get(ctx, testGSTIN)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	want := &models.GSTVerification{Status: models.GSTStatusVerified, Source: "gst-registry", LegalName: "Acme"}
	require.NoError(t, c.Put(ctx, testGSTIN, want, time.Minute))

	got, err := c.Get(ctx, testGSTIN)
	require.NoError(t, err)
	assert.Equal(t, want.LegalName, got.LegalName)
	assert.Equal(t, want.Status, got.Status)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, testGSTIN)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
