package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelbist/sentinel/internal/models"
	"github.com/sentinelbist/sentinel/internal/observability"
)

// QuoteFetcher is implemented by the quotes service to fetch a quote for a
// symbol. Used by Warmer to avoid a circular dependency on the quotes package.
type QuoteFetcher interface {
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
}

// Warmer warms the cache by prefetching quotes for the ticker universe so the
// first decision cycle after session open does not hammer the feed.
type Warmer struct {
	fetcher QuoteFetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that uses the given fetcher and logger.
func NewWarmer(fetcher QuoteFetcher, logger *zap.Logger) *Warmer {
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm fetches quotes for each symbol concurrently and populates the cache
// via the fetcher. Returns an error if any symbol failed (aggregated).
func (w *Warmer) Warm(ctx context.Context, symbols []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming quote cache", zap.Int("symbols", len(symbols)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(symbols))
	for _, sym := range symbols {
		sym := sym
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.fetcher.GetQuote(ctx, sym)
			if err != nil {
				errCh <- fmt.Errorf("warm %s: %w", sym, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("quote cache warming complete", zap.Int("symbols", len(symbols)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, symbols []string, interval time.Duration) error {
	if err := w.Warm(ctx, symbols); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, symbols); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
