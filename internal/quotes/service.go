package quotes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelbist/sentinel/internal/cache"
	"github.com/sentinelbist/sentinel/internal/marketdata"
	"github.com/sentinelbist/sentinel/internal/models"
	"github.com/sentinelbist/sentinel/internal/observability"
)

// Service orchestrates quote retrieval using the cache-aside pattern with the
// market feed as upstream. Both the decision engine and the dashboard API read
// prices through it, so one 15-minute cycle does not hit the feed twice for
// the same symbol.
type Service struct {
	client          marketdata.Client
	cache           cache.Cache
	ttl             time.Duration
	staleQuoteTTL   time.Duration // Maximum age for stale cache fallback (0 = disabled)
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // Optional request coalescing (nil if disabled)
}

// NewService creates a quote Service. ttl is the cache expiration for quotes,
// staleQuoteTTL the maximum age for stale fallback (0 = disabled), and
// coalesceEnabled/coalesceTimeout configure request coalescing.
func NewService(client marketdata.Client, cache cache.Cache, ttl, staleQuoteTTL time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *Service {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &Service{
		client:          client,
		cache:           cache,
		ttl:             ttl,
		staleQuoteTTL:   staleQuoteTTL,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// GetQuote retrieves the quote for the symbol: cache first, market feed on
// miss, cache populated on success, stale fallback when the feed is down.
func (s *Service) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	key := normalizeSymbol(symbol)
	start := time.Now()
	logger := loggerFromContext(ctx)
	observability.RecordQuoteRequest(key)

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.QuoteCacheHitsTotal.WithLabelValues("quote").Inc()
		if logger != nil {
			logger.Debug("quote cache hit", zap.String("symbol", key))
		}
		return cached, nil
	}

	concurrentMisses := s.stampedeTracker.RecordMiss(key)
	defer s.stampedeTracker.RecordHit(key)
	if concurrentMisses > 1 {
		symLabel := observability.MetricSymbolLabel(key)
		observability.CacheStampedeDetectedTotal.WithLabelValues(symLabel).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(symLabel).Observe(float64(concurrentMisses))
	}

	if logger != nil {
		logger.Debug("quote cache miss, fetching feed", zap.String("symbol", key))
	}

	// Use the coalescer if enabled so concurrent misses for the same symbol
	// share one upstream call.
	var quote models.Quote
	var upstreamErr error
	if s.coalescer != nil {
		quote, upstreamErr = s.coalescer.GetOrDo(ctx, key, func() (models.Quote, error) {
			return s.client.GetQuote(ctx, key)
		})
	} else {
		quote, upstreamErr = s.client.GetQuote(ctx, key)
	}
	if upstreamErr != nil {
		// Feed failed - try stale cache if enabled
		if s.staleQuoteTTL > 0 {
			stale, ok, staleErr := s.cache.GetStale(ctx, key, s.staleQuoteTTL)
			if staleErr == nil && ok {
				staleAge := time.Since(stale.Timestamp)
				observability.StaleQuoteServesTotal.WithLabelValues(observability.MetricSymbolLabel(key)).Inc()
				observability.StaleQuoteAgeSeconds.Observe(staleAge.Seconds())
				stale.Stale = true
				if logger != nil {
					logger.Info("serving stale quote", zap.String("symbol", key), zap.Duration("age", staleAge))
				}
				return stale, nil
			}
		}
		return models.Quote{}, fmt.Errorf("fetch quote for %s: %w", key, upstreamErr)
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, quote, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		if logger != nil {
			logger.Warn("quote cache set failed", zap.String("symbol", key), zap.Error(setErr))
		}
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	if logger != nil {
		logger.Debug("quote served", zap.String("symbol", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return quote, nil
}

// GetHeadlines fetches news headlines for sentiment scoring. Headlines are not
// cached; the feed's news endpoint already serves a rolling window.
func (s *Service) GetHeadlines(ctx context.Context, symbol string) ([]models.Headline, error) {
	return s.client.GetHeadlines(ctx, normalizeSymbol(symbol))
}

// LastPrice returns the last close for the symbol, or 0 when unavailable.
// Convenience for mark-to-market paths that tolerate missing prices.
func (s *Service) LastPrice(ctx context.Context, symbol string) float64 {
	q, err := s.GetQuote(ctx, symbol)
	if err != nil {
		return 0
	}
	return q.Last
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// normalizeSymbol normalizes symbols by trimming whitespace, uppercasing and
// stripping the exchange suffix. Ensures consistent cache keys regardless of
// input format (garan, GARAN, GARAN.IS).
func normalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.TrimSuffix(s, ".IS")
}
