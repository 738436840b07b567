package quotes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sentinelbist/sentinel/internal/models"
	"github.com/sentinelbist/sentinel/internal/observability"
)

type mockFeed struct {
	quote       models.Quote
	headlines   []models.Headline
	err         error
	validateErr error
	calls       atomic.Int32
}

func (m *mockFeed) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	m.calls.Add(1)
	return m.quote, m.err
}

func (m *mockFeed) GetHeadlines(ctx context.Context, symbol string) ([]models.Headline, error) {
	return m.headlines, m.err
}

func (m *mockFeed) ValidateAPIKey(ctx context.Context) error {
	return m.validateErr
}

type mockCache struct {
	mu        sync.Mutex
	data      map[string]models.Quote
	staleData map[string]models.Quote // Expired but available for stale retrieval
	err       error
}

func (m *mockCache) Get(ctx context.Context, key string) (models.Quote, bool, error) {
	if m.err != nil {
		return models.Quote{}, false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *mockCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Quote, bool, error) {
	if m.err != nil {
		return models.Quote{}, false, m.err
	}
	if m.staleData != nil {
		if stale, ok := m.staleData[key]; ok {
			if time.Since(stale.Timestamp) <= maxStaleAge {
				return stale, true, nil
			}
		}
	}
	return m.Get(ctx, key)
}

func (m *mockCache) Set(ctx context.Context, key string, value models.Quote, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]models.Quote)
	}
	m.data[key] = value
	return nil
}

// TestNormalizeSymbol verifies trimming, uppercasing, and suffix stripping.
func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "trim and upper", in: " garan ", want: "GARAN"},
		{name: "already normalized", in: "GARAN", want: "GARAN"},
		{name: "strips suffix", in: "THYAO.IS", want: "THYAO"},
		{name: "lower with suffix", in: "asels.IS", want: "ASELS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizeSymbol(tc.in); got != tc.want {
				t.Fatalf("normalizeSymbol(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// TestService_GetQuote_CacheHit verifies cached quotes short-circuit the feed.
func TestService_GetQuote_CacheHit(t *testing.T) {
	cached := models.Quote{Symbol: "GARAN", Last: 92.5, Timestamp: time.Now()}
	feed := &mockFeed{}
	svc := NewService(feed, &mockCache{data: map[string]models.Quote{"GARAN": cached}}, time.Minute, 0, false, 0)

	got, err := svc.GetQuote(context.Background(), "garan")
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if got.Last != cached.Last {
		t.Errorf("Last = %v, want %v", got.Last, cached.Last)
	}
	if feed.calls.Load() != 0 {
		t.Errorf("feed calls = %d, want 0 on cache hit", feed.calls.Load())
	}
}

// TestService_GetQuote_CacheMissPopulates verifies the cache-aside write path.
func TestService_GetQuote_CacheMissPopulates(t *testing.T) {
	feed := &mockFeed{quote: models.Quote{Symbol: "THYAO", Last: 251.0, Timestamp: time.Now()}}
	mc := &mockCache{}
	svc := NewService(feed, mc, time.Minute, 0, false, 0)

	got, err := svc.GetQuote(context.Background(), "THYAO")
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if got.Last != 251.0 {
		t.Errorf("Last = %v, want 251.0", got.Last)
	}
	if _, ok := mc.data["THYAO"]; !ok {
		t.Error("cache should be populated after feed fetch")
	}
	if feed.calls.Load() != 1 {
		t.Errorf("feed calls = %d, want 1", feed.calls.Load())
	}
}

// TestService_GetQuote_StaleFallback verifies stale quotes are served with the
// Stale flag when the feed is down.
func TestService_GetQuote_StaleFallback(t *testing.T) {
	stale := models.Quote{Symbol: "ASELS", Last: 60.0, Timestamp: time.Now().Add(-10 * time.Minute)}
	feed := &mockFeed{err: errors.New("feed down")}
	mc := &mockCache{staleData: map[string]models.Quote{"ASELS": stale}}
	svc := NewService(feed, mc, time.Minute, time.Hour, false, 0)

	got, err := svc.GetQuote(context.Background(), "ASELS")
	if err != nil {
		t.Fatalf("GetQuote() error = %v, want stale fallback", err)
	}
	if !got.Stale {
		t.Error("Stale flag should be set on stale fallback")
	}
	if got.Last != 60.0 {
		t.Errorf("Last = %v, want 60.0", got.Last)
	}
}

// TestService_GetQuote_FeedErrorNoStale verifies the error path when stale
// fallback is disabled.
func TestService_GetQuote_FeedErrorNoStale(t *testing.T) {
	feed := &mockFeed{err: errors.New("feed down")}
	svc := NewService(feed, &mockCache{}, time.Minute, 0, false, 0)

	if _, err := svc.GetQuote(context.Background(), "GARAN"); err == nil {
		t.Fatal("GetQuote() expected error when feed is down and no stale fallback")
	}
}

// TestService_LastPrice verifies the zero-on-error convenience wrapper.
func TestService_LastPrice(t *testing.T) {
	feed := &mockFeed{quote: models.Quote{Symbol: "GARAN", Last: 92.5, Timestamp: time.Now()}}
	svc := NewService(feed, &mockCache{}, time.Minute, 0, false, 0)
	if got := svc.LastPrice(context.Background(), "GARAN"); got != 92.5 {
		t.Errorf("LastPrice = %v, want 92.5", got)
	}

	down := NewService(&mockFeed{err: errors.New("down")}, &mockCache{}, time.Minute, 0, false, 0)
	if got := down.LastPrice(context.Background(), "GARAN"); got != 0 {
		t.Errorf("LastPrice on error = %v, want 0", got)
	}
}

// TestService_GetQuote_CacheErrorFallsThrough verifies a broken cache backend
// degrades to direct feed fetches instead of failing the request.
func TestService_GetQuote_CacheErrorFallsThrough(t *testing.T) {
	feed := &mockFeed{quote: models.Quote{Symbol: "SISE", Last: 11.0, Timestamp: time.Now()}}
	svc := NewService(feed, &mockCache{err: errors.New("memcached connection refused")}, time.Minute, 0, false, 0)

	got, err := svc.GetQuote(context.Background(), "SISE")
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if got.Last != 11.0 {
		t.Errorf("Last = %v, want 11.0", got.Last)
	}
}

type blockingFeed struct {
	mockFeed
	entered chan struct{}
	release chan struct{}
}

func (b *blockingFeed) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.quote, nil
}

// TestService_GetQuote_DetectsStampede verifies overlapping misses for the
// same symbol show up in the stampede metrics.
func TestService_GetQuote_DetectsStampede(t *testing.T) {
	feed := &blockingFeed{
		mockFeed: mockFeed{quote: models.Quote{Symbol: "GARAN", Last: 100, Timestamp: time.Now()}},
		entered:  make(chan struct{}, 2),
		release:  make(chan struct{}),
	}
	svc := NewService(feed, &mockCache{}, time.Minute, 0, false, 0)

	before := testutil.ToFloat64(observability.CacheStampedeDetectedTotal.WithLabelValues("other"))

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = svc.GetQuote(context.Background(), "GARAN")
			done <- struct{}{}
		}()
	}
	// Both calls are past the miss bookkeeping once they reach the feed.
	<-feed.entered
	<-feed.entered
	close(feed.release)
	<-done
	<-done

	after := testutil.ToFloat64(observability.CacheStampedeDetectedTotal.WithLabelValues("other"))
	if after-before < 1 {
		t.Errorf("stampede detections = %v, want at least 1", after-before)
	}
}
