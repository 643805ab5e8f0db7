// Package exchange resolves currency conversion rates from live sources with a
// shared cache and a static fallback table.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrNoRate = errors.New("no exchange rate available")

const (
	RateTTL     = time.Hour
	FallbackTTL = 15 * time.Minute
)

// Fallback rates used when every live source fails.
var fallbackRates = map[string]decimal.Decimal{
	pairKey("GBP", "NGN"): decimal.NewFromInt(1850),
	pairKey("USD", "NGN"): decimal.NewFromInt(1500),
	pairKey("EUR", "NGN"): decimal.NewFromInt(1600),
}

func pairKey(base, quote string) string {
	return base + "_TO_" + quote
}

// FallbackRate returns the static rate for the pair, deriving the inverse
// when only the opposite direction is listed.
func FallbackRate(base, quote string) (decimal.Decimal, bool) {
	if r, ok := fallbackRates[pairKey(base, quote)]; ok {
		return r, true
	}
	if r, ok := fallbackRates[pairKey(quote, base)]; ok {
		return decimal.NewFromInt(1).DivRound(r, 8), true
	}
	return decimal.Decimal{}, false
}

// Source is a live rate provider.
type Source interface {
	Name() string
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// Cache stores resolved rates keyed by currency pair.
type Cache interface {
	Get(ctx context.Context, key string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, key string, rate decimal.Decimal, ttl time.Duration) error
}

type Service struct {
	sources []Source
	cache   Cache
}

func NewService(cache Cache, sources ...Source) *Service {
	return &Service{sources: sources, cache: cache}
}

// GetRate returns how many units of quote one unit of base buys. Cache
// failures are logged and treated as misses.
func (s *Service) GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	base = strings.ToUpper(base)
	quote = strings.ToUpper(quote)
	if base == quote {
		return decimal.NewFromInt(1), nil
	}

	key := pairKey(base, quote)
	if s.cache != nil {
		rate, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("pair", key).Msg("exchange rate cache read failed")
		} else if ok {
			return rate, nil
		}
	}

	for _, src := range s.sources {
		rate, err := src.Rate(ctx, base, quote)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Str("pair", key).Msg("exchange rate source failed")
			continue
		}
		if !rate.IsPositive() {
			log.Warn().Str("source", src.Name()).Str("pair", key).Str("rate", rate.String()).Msg("exchange rate source returned a non-positive rate")
			continue
		}
		s.store(ctx, key, rate, RateTTL)
		log.Debug().Str("source", src.Name()).Str("pair", key).Str("rate", rate.String()).Msg("exchange rate fetched")
		return rate, nil
	}

	rate, ok := FallbackRate(base, quote)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNoRate, key)
	}
	log.Warn().Str("pair", key).Str("rate", rate.String()).Msg("all exchange rate sources failed, using fallback rate")
	s.store(ctx, key, rate, FallbackTTL)
	return rate, nil
}

// Convert returns amount expressed in quote, unrounded.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, base, quote string) (decimal.Decimal, error) {
	rate, err := s.GetRate(ctx, base, quote)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return amount.Mul(rate), nil
}

func (s *Service) store(ctx context.Context, key string, rate decimal.Decimal, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, rate, ttl); err != nil {
		log.Warn().Err(err).Str("pair", key).Msg("exchange rate cache write failed")
	}
}
