// Package pricing supplies the live prices and USD/THB rate a portfolio view
// is valued at. Sources are cached in-process with a short TTL; the store is
// the only upstream.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/asset"
	"github.com/watersalamander/portfolio-dashboard/internal/currency"
	"github.com/watersalamander/portfolio-dashboard/internal/metrics"
	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

// QuoteSource returns the latest known quote per ticker. Unknown tickers are
// absent from the result, not an error.
type QuoteSource interface {
	GetQuotes(ctx context.Context, tickers []string) (map[string]model.Quote, error)
}

// RateSource returns the latest USD/THB observation (THB per 1 USD).
type RateSource interface {
	LatestFXRate(ctx context.Context) (decimal.Decimal, error)
}

// Snapshot is a per-ticker TTL cache in front of a QuoteSource.
type Snapshot struct {
	src   QuoteSource
	ttl   time.Duration
	cache *cache.Cache
}

// NewSnapshot creates a quote cache whose entries expire after ttl.
// A non-positive ttl disables caching.
func NewSnapshot(src QuoteSource, ttl time.Duration) *Snapshot {
	return &Snapshot{
		src:   src,
		ttl:   ttl,
		cache: newCache(ttl),
	}
}

// newCache builds a go-cache for ttl. go-cache treats a zero default
// expiration as never-expire, so callers must not Set when ttl <= 0.
func newCache(ttl time.Duration) *cache.Cache {
	if ttl <= 0 {
		return cache.New(cache.NoExpiration, 0)
	}
	return cache.New(ttl, 2*ttl)
}

// Quotes returns quotes for tickers, keyed by normalized ticker. Cached
// entries are served without touching the source. On a source error the
// cached subset is returned together with the error.
func (s *Snapshot) Quotes(ctx context.Context, tickers []string) (map[string]model.Quote, error) {
	result := make(map[string]model.Quote, len(tickers))
	var misses []string
	for _, t := range tickers {
		key := asset.Normalize(t)
		if v, found := s.cache.Get(quoteKey(key)); found {
			result[key] = v.(model.Quote)
			continue
		}
		misses = append(misses, key)
	}
	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := s.src.GetQuotes(ctx, misses)
	if err != nil {
		return result, fmt.Errorf("fetch quotes: %w", err)
	}
	for key, q := range fetched {
		key = asset.Normalize(key)
		if s.ttl > 0 {
			s.cache.Set(quoteKey(key), q, s.ttl)
		}
		result[key] = q
	}
	return result, nil
}

// Invalidate drops cached quotes for tickers.
func (s *Snapshot) Invalidate(tickers ...string) {
	for _, t := range tickers {
		s.cache.Delete(quoteKey(asset.Normalize(t)))
	}
}

// FXRates caches the USD/THB rate and degrades to a fixed default when the
// source has nothing usable.
type FXRates struct {
	src      RateSource
	fallback decimal.Decimal
	ttl      time.Duration
	cache    *cache.Cache
}

const rateKey = "fx-USD-THB"

// NewFXRates creates a rate cache. A non-positive fallback means
// currency.DefaultUSDTHB; a non-positive ttl disables caching.
func NewFXRates(src RateSource, fallback decimal.Decimal, ttl time.Duration) *FXRates {
	return &FXRates{
		src:      src,
		fallback: currency.Rate(fallback, currency.DefaultUSDTHB),
		ttl:      ttl,
		cache:    newCache(ttl),
	}
}

// USDTHB returns THB per 1 USD. It never fails: any source error or a
// non-positive rate yields the fallback, which is not cached.
func (f *FXRates) USDTHB(ctx context.Context) decimal.Decimal {
	if v, found := f.cache.Get(rateKey); found {
		return v.(decimal.Decimal)
	}

	rate, err := f.src.LatestFXRate(ctx)
	switch {
	case err != nil:
		lvl := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			lvl = slog.LevelDebug
		}
		slog.Log(ctx, lvl, "fx rate unavailable, using default", "err", err, "default", f.fallback.String())
	case !rate.IsPositive():
		slog.Warn("non-positive fx rate, using default", "rate", rate.String(), "default", f.fallback.String())
	default:
		if f.ttl > 0 {
			f.cache.Set(rateKey, rate, f.ttl)
		}
		return rate
	}

	metrics.FXFallbacksTotal.Inc()
	return f.fallback
}

// Fallback returns the default rate used when no rate is available.
func (f *FXRates) Fallback() decimal.Decimal { return f.fallback }

// Invalidate drops the cached rate.
func (f *FXRates) Invalidate() {
	f.cache.Delete(rateKey)
}

func quoteKey(ticker string) string { return "quote-" + ticker }
