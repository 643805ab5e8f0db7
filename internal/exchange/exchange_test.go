package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/database/dbtest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	rate  decimal.Decimal
	err   error
	calls atomic.Int32
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Rate(context.Context, string, string) (decimal.Decimal, error) {
	s.calls.Add(1)
	return s.rate, s.err
}

func TestGetRateSameCurrency(t *testing.T) {
	svc := NewService(NewMemoryCache())
	rate, err := svc.GetRate(context.Background(), "gbp", "GBP")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestGetRateUsesFirstHealthySourceAndCaches(t *testing.T) {
	failing := &stubSource{err: errors.New("down")}
	healthy := &stubSource{rate: decimal.RequireFromString("1923.45")}
	svc := NewService(NewMemoryCache(), failing, healthy)

	for i := 0; i < 3; i++ {
		rate, err := svc.GetRate(context.Background(), "GBP", "NGN")
		require.NoError(t, err)
		assert.Equal(t, "1923.45", rate.String())
	}
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), healthy.calls.Load())
}

func TestGetRateSkipsNonPositiveRates(t *testing.T) {
	zero := &stubSource{rate: decimal.Zero}
	svc := NewService(nil, zero)

	rate, err := svc.GetRate(context.Background(), "USD", "NGN")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1500)))
}

func TestGetRateFallbackIsCachedBriefly(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.now = func() time.Time { return now }
	src := &stubSource{err: errors.New("down")}
	svc := NewService(cache, src)

	rate, err := svc.GetRate(context.Background(), "GBP", "NGN")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1850)))

	now = now.Add(10 * time.Minute)
	_, err = svc.GetRate(context.Background(), "GBP", "NGN")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	now = now.Add(6 * time.Minute)
	_, err = svc.GetRate(context.Background(), "GBP", "NGN")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestGetRateUnknownPair(t *testing.T) {
	svc := NewService(nil, &stubSource{err: errors.New("down")})
	_, err := svc.GetRate(context.Background(), "JPY", "CHF")
	assert.ErrorIs(t, err, ErrNoRate)
}

func TestFallbackRateInverse(t *testing.T) {
	rate, ok := FallbackRate("NGN", "GBP")
	require.True(t, ok)
	assert.Equal(t, "0.00054054", rate.String())
}

func TestConvert(t *testing.T) {
	svc := NewService(nil, &stubSource{rate: decimal.NewFromInt(1850)})
	got, err := svc.Convert(context.Background(), decimal.RequireFromString("10.00"), "GBP", "NGN")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(18500)))
}

func TestLatestSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/latest/GBP", r.URL.Path)
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"base":"GBP","rates":{"NGN":2011.5,"USD":1.27}}`))
	}))
	defer srv.Close()

	src := &LatestSource{BaseURL: srv.URL + "/v4/latest/"}
	rate, err := src.Rate(context.Background(), "GBP", "NGN")
	require.NoError(t, err)
	assert.Equal(t, "2011.5", rate.String())

	_, err = src.Rate(context.Background(), "GBP", "JPY")
	assert.Error(t, err)
}

func TestConvertSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "key", q.Get("access_key"))
		assert.Equal(t, "1", q.Get("amount"))
		if q.Get("to") == "XXX" {
			w.Write([]byte(`{"success":false}`))
			return
		}
		w.Write([]byte(`{"success":true,"info":{"quote":1999.25}}`))
	}))
	defer srv.Close()

	src := &ConvertSource{URL: srv.URL, AccessKey: "key"}
	rate, err := src.Rate(context.Background(), "GBP", "NGN")
	require.NoError(t, err)
	assert.Equal(t, "1999.25", rate.String())

	_, err = src.Rate(context.Background(), "GBP", "XXX")
	assert.Error(t, err)
}

func TestSourceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := NewService(nil, &LatestSource{BaseURL: srv.URL})
	rate, err := svc.GetRate(context.Background(), "EUR", "NGN")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1600)))
}

func TestRedisCache(t *testing.T) {
	rdb := dbtest.NewRedis(t)
	cache := NewRedisCache(rdb, "test")
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "GBP_TO_NGN")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "GBP_TO_NGN", decimal.RequireFromString("1850.5"), time.Minute))
	rate, ok, err := cache.Get(ctx, "GBP_TO_NGN")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1850.5", rate.String())

	ttl, err := rdb.TTL(ctx, "test:exchange:GBP_TO_NGN").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
