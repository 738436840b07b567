package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelbist/sentinel/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate for the dashboard API. Watch for: sudden drops (service down) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation during shutdown drain.
	HTTPRequestsInFlight prometheus.Gauge

	// Market data API call rate. Watch for: error vs success ratio.
	MarketAPICallsTotal *prometheus.CounterVec

	// Market data API latency per request. Watch for: p95 > 2s (feed degradation).
	MarketAPIDuration *prometheus.HistogramVec

	// Retry attempts for the market data API. High retries = unstable feed.
	MarketAPIRetriesTotal prometheus.Counter

	// Quote cache hits. Hit rate = hits/(hits+misses).
	QuoteCacheHitsTotal *prometheus.CounterVec

	// Cache backend operation failures by operation and error category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache backend operation latency by operation and result.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent cache misses for the same symbol (stampede detection).
	CacheStampedeDetectedTotal *prometheus.CounterVec
	CacheStampedeConcurrency   *prometheus.HistogramVec

	// Quotes served from stale cache while the feed is down.
	StaleQuoteServesTotal *prometheus.CounterVec

	// Age of stale quotes at serve time.
	StaleQuoteAgeSeconds prometheus.Histogram

	// Decision cycles executed by the engine runner.
	DecisionCyclesTotal prometheus.Counter

	// Decisions by action (BUY, SELL, HOLD).
	DecisionsTotal *prometheus.CounterVec

	// Paper trades executed through the virtual broker.
	TradesExecutedTotal *prometheus.CounterVec

	// Daily rebalancing trades still available (resets at date change).
	DailyTradesRemaining prometheus.Gauge

	// 1 when the engine switch is on, 0 when stopped from the dashboard.
	EngineRunning prometheus.Gauge

	// Mark-to-market equity after the last cycle, in TL.
	PortfolioEquity prometheus.Gauge

	// Quote lookups by symbol (allow-list; others go to "other").
	QuoteRequestsTotal         prometheus.Counter
	QuoteRequestsBySymbolTotal *prometheus.CounterVec

	// Rate limit denials on the dashboard API.
	RateLimitDeniedTotal prometheus.Counter

	// Cache warming runs, duration and failures.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Circuit breaker transitions and current state per component.
	circuitBreakerTransitions *prometheus.CounterVec
	circuitBreakerState       *prometheus.GaugeVec

	// In-flight requests remaining when shutdown drain started.
	shutdownInFlight prometheus.Gauge

	// trackedSymbols is built from config; used to resolve symbol labels for metrics.
	trackedSymbolsMu sync.RWMutex
	trackedSymbols   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	MarketAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketApiCallsTotal",
			Help: "Total number of market data API calls",
		},
		[]string{"status"},
	)
	MarketAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketApiDurationSeconds",
			Help:    "Market data API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	MarketAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketApiRetriesTotal",
			Help: "Total number of retry attempts for market data API calls",
		},
	)
	QuoteCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoteCacheHitsTotal",
			Help: "Total number of quote cache hits",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend operation failures",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache backend operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"operation", "result"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that overlapped another in-flight miss for the same symbol",
		},
		[]string{"symbol"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent miss count observed when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 20},
		},
		[]string{"symbol"},
	)
	StaleQuoteServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staleQuoteServesTotal",
			Help: "Quotes served from stale cache while the market feed is unavailable",
		},
		[]string{"symbol"},
	)
	StaleQuoteAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staleQuoteAgeSeconds",
			Help:    "Age of stale quotes at serve time",
			Buckets: []float64{60, 300, 900, 1800, 3600, 14400},
		},
	)
	DecisionCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "decisionCyclesTotal",
			Help: "Total number of engine decision cycles executed",
		},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionsTotal",
			Help: "Engine decisions by action",
		},
		[]string{"action"},
	)
	TradesExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesExecutedTotal",
			Help: "Paper trades executed through the virtual broker",
		},
		[]string{"action"},
	)
	DailyTradesRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dailyTradesRemaining",
			Help: "Rebalancing trades still available today (max 3)",
		},
	)
	EngineRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engineRunning",
			Help: "1 when the engine switch is on, 0 when stopped",
		},
	)
	PortfolioEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portfolioEquityTL",
			Help: "Mark-to-market equity after the last cycle, in TL",
		},
	)
	QuoteRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quoteRequestsTotal",
			Help: "Total number of quote lookups",
		},
	)
	QuoteRequestsBySymbolTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quoteRequestsBySymbolTotal",
			Help: "Quote lookups by symbol (allow-list; others use symbol=other)",
		},
		[]string{"symbol"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs that had at least one failure",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30},
		},
	)
	circuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)
	shutdownInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests remaining when shutdown drain started",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		MarketAPICallsTotal, MarketAPIDuration, MarketAPIRetriesTotal,
		QuoteCacheHitsTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		StaleQuoteServesTotal, StaleQuoteAgeSeconds,
		DecisionCyclesTotal, DecisionsTotal, TradesExecutedTotal,
		DailyTradesRemaining, EngineRunning, PortfolioEquity,
		QuoteRequestsTotal, QuoteRequestsBySymbolTotal,
		RateLimitDeniedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		circuitBreakerTransitions, circuitBreakerState,
		shutdownInFlight,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// SetTrackedSymbols sets the allow-list for symbol metrics. Non-tracked symbols increment "other".
func SetTrackedSymbols(symbols []string) {
	trackedSymbolsMu.Lock()
	defer trackedSymbolsMu.Unlock()
	trackedSymbols = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		trackedSymbols[normalizeSymbolForMetrics(s)] = struct{}{}
	}
}

// RecordQuoteRequest records a quote lookup for the given symbol.
func RecordQuoteRequest(symbol string) {
	QuoteRequestsTotal.Inc()
	QuoteRequestsBySymbolTotal.WithLabelValues(MetricSymbolLabel(symbol)).Inc()
}

// MetricSymbolLabel resolves the metrics label for a symbol: the symbol itself
// when tracked, "other" otherwise. Keeps label cardinality bounded.
func MetricSymbolLabel(symbol string) string {
	s := normalizeSymbolForMetrics(symbol)
	trackedSymbolsMu.RLock()
	_, ok := trackedSymbols[s] // nil map read is safe in Go
	trackedSymbolsMu.RUnlock()
	if ok {
		return s
	}
	return "other"
}

// RecordCircuitBreakerTransition records a state transition for the component.
func RecordCircuitBreakerTransition(component, from, to string) {
	circuitBreakerTransitions.WithLabelValues(component, from, to).Inc()
}

// SetCircuitBreakerStateGauge sets the current state gauge for the component.
func SetCircuitBreakerStateGauge(component string, state float64) {
	circuitBreakerState.WithLabelValues(component).Set(state)
}

// RecordShutdownInFlight records how many requests were still in flight when drain started.
func RecordShutdownInFlight(n int64) {
	shutdownInFlight.Set(float64(n))
}

func normalizeSymbolForMetrics(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToUpper(s)
	return strings.TrimSuffix(s, ".IS")
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
