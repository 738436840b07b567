// Package httpapi serves the dashboard and operations API: portfolio state,
// decision history, the engine switch, health and testing endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sentinelbist/sentinel/internal/broker"
	"github.com/sentinelbist/sentinel/internal/control"
	"github.com/sentinelbist/sentinel/internal/degraded"
	"github.com/sentinelbist/sentinel/internal/engine"
	"github.com/sentinelbist/sentinel/internal/lifecycle"
	"github.com/sentinelbist/sentinel/internal/marketdata"
	"github.com/sentinelbist/sentinel/internal/models"
	"github.com/sentinelbist/sentinel/internal/observability"
	"github.com/sentinelbist/sentinel/internal/quotes"
	"github.com/sentinelbist/sentinel/internal/traffic"
	"github.com/sentinelbist/sentinel/internal/validation"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	RateLimitBurst         int // 0 when rate limiter disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	DegradedRetryInitial   time.Duration
	DegradedRetryMax       time.Duration
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	quotes       *quotes.Service
	client       marketdata.Client
	broker       *broker.VirtualBroker
	engine       *engine.Engine
	engineSwitch *control.Switch
	healthConfig *HealthConfig
	logger       *zap.Logger
	rateLimiter  *rate.Limiter

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	quoteService *quotes.Service,
	client marketdata.Client,
	b *broker.VirtualBroker,
	e *engine.Engine,
	engineSwitch *control.Switch,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	rateLimiter *rate.Limiter,
) *Handler {
	return &Handler{
		quotes:       quoteService,
		client:       client,
		broker:       b,
		engine:       e,
		engineSwitch: engineSwitch,
		healthConfig: healthConfig,
		logger:       logger,
		rateLimiter:  rateLimiter,
	}
}

// lastPrices fetches current prices for all open positions. Lookup failures
// leave the ticker out; the broker then values it at entry price.
func (h *Handler) lastPrices(ctx context.Context) map[string]float64 {
	prices := make(map[string]float64)
	for _, pos := range h.broker.Positions() {
		if price := h.quotes.LastPrice(ctx, pos.Ticker); price > 0 {
			prices[pos.Ticker] = price
		}
	}
	return prices
}

// GetPortfolio handles GET /portfolio.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	traffic.RecordSuccess()
	portfolio := h.broker.Portfolio(h.lastPrices(r.Context()))
	observability.PortfolioEquity.Set(portfolio.Equity)
	writeJSON(w, http.StatusOK, portfolio)
}

// positionView is a position with its mark-to-market P&L.
type positionView struct {
	models.Position
	LastPrice   float64 `json:"lastPrice"`
	MarketValue float64 `json:"marketValue"`
	PnL         float64 `json:"pnl"`
	PnLPct      float64 `json:"pnlPct"`
}

// GetPositions handles GET /positions.
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	traffic.RecordSuccess()
	prices := h.lastPrices(r.Context())

	views := make([]positionView, 0)
	for _, pos := range h.broker.Positions() {
		price, ok := prices[pos.Ticker]
		if !ok || price <= 0 {
			price = pos.EntryPrice
		}
		cost := float64(pos.Quantity) * pos.EntryPrice
		value := float64(pos.Quantity) * price
		view := positionView{
			Position:    pos,
			LastPrice:   price,
			MarketValue: value,
			PnL:         value - cost,
		}
		if cost > 0 {
			view.PnLPct = (value - cost) / cost * 100
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": views})
}

// GetTrades handles GET /trades.
func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": h.broker.Trades()})
}

// GetDecisions handles GET /decisions.
func (h *Handler) GetDecisions(w http.ResponseWriter, r *http.Request) {
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions":       h.engine.RecentDecisions(),
		"tradesRemaining": h.engine.TradesRemaining(),
	})
}

// GetEngine handles GET /engine.
func (h *Handler) GetEngine(w http.ResponseWriter, r *http.Request) {
	traffic.RecordSuccess()
	status, err := h.engineSwitch.Load()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "SWITCH_UNREADABLE", "cannot read engine status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// PostEngineStart handles POST /engine/start.
func (h *Handler) PostEngineStart(w http.ResponseWriter, r *http.Request) {
	h.setEngine(w, r, true)
}

// PostEngineStop handles POST /engine/stop.
func (h *Handler) PostEngineStop(w http.ResponseWriter, r *http.Request) {
	h.setEngine(w, r, false)
}

func (h *Handler) setEngine(w http.ResponseWriter, r *http.Request, running bool) {
	traffic.RecordSuccess()
	status, err := h.engineSwitch.Set(running)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "SWITCH_UNWRITABLE", "cannot write engine status")
		return
	}
	if running {
		observability.EngineRunning.Set(1)
	} else {
		observability.EngineRunning.Set(0)
	}
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Info("engine switch set", zap.Bool("running", running))
	}
	writeJSON(w, http.StatusOK, status)
}

const (
	tickerMinLength = 2
	tickerMaxLength = 10
)

// GetQuote handles GET /quotes/{ticker}. Serves the dashboard's watchlist.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	ticker, err := validation.ValidateTicker(mux.Vars(r)["ticker"], tickerMinLength, tickerMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_TICKER", err.Error())
		return
	}
	quote, err := h.quotes.GetQuote(r.Context(), ticker)
	if err != nil {
		degraded.RecordError()
		degraded.NotifyDegraded()
		writeServiceError(w, r, err)
		return
	}
	degraded.RecordSuccess()
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, quote)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["marketApi"] = "unhealthy"
	} else {
		checks["marketApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "sentinel-bist",
		"version":   "dev",
		"engine":    h.engineSwitch.Running(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus evaluates health conditions in priority order:
// shutting-down > API key invalid > overloaded > idle > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateAPIKey(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
	if float64(traffic.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if h.healthConfig.IdleWindow > 0 && h.healthConfig.MinimumLifespan > 0 && time.Since(h.healthConfig.StartTime) >= h.healthConfig.MinimumLifespan {
		if traffic.RequestCount(h.healthConfig.IdleWindow) < h.healthConfig.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := degraded.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch market data")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}

// GetTestStatus handles GET /test. Returns current simulated state.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errors, _ := degraded.ErrorRate(window)

	cfg := make(map[string]interface{})
	if h.healthConfig != nil {
		overloadThreshold := 0
		if h.healthConfig.RateLimitRPS > 0 {
			overloadThreshold = int(float64(h.healthConfig.RateLimitRPS) *
				h.healthConfig.OverloadWindow.Seconds() *
				float64(h.healthConfig.OverloadThresholdPct) / 100)
		}
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["rate_limit_burst"] = h.healthConfig.RateLimitBurst
		cfg["overload_threshold"] = overloadThreshold
		cfg["overload_window_seconds"] = h.healthConfig.OverloadWindow.Seconds()
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}

	resp := map[string]interface{}{
		"total_requests_in_window":  traffic.RequestCount(window),
		"denied_requests_in_window": traffic.DenialCount(window),
		"errors_in_window":          errors,
		"window_length":             window.String(),
		"auto_clear":                !degraded.IsRecoveryDisabled(),
		"config":                    cfg,
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostTestAction handles POST /test/{action} for load, error, reset, shutdown, prevent_clear, fail_clear, clear.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "load":
		h.postTestLoad(w, r)
	case "error":
		h.postTestError(w, r)
	case "reset":
		h.postTestReset(w, r)
	case "shutdown":
		h.postTestShutdown(w, r)
	case "prevent_clear":
		h.postTestPreventClear(w, r)
	case "fail_clear":
		h.postTestFailClear(w, r)
	case "clear":
		h.postTestClear(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = 10
	}
	var accepted, denied int
	if h.rateLimiter != nil {
		for i := 0; i < body.Count; i++ {
			if h.rateLimiter.Allow() {
				traffic.RecordSuccess()
				accepted++
			} else {
				traffic.RecordDenied()
				observability.RateLimitDeniedTotal.Inc()
				denied++
			}
		}
	} else {
		traffic.RecordSuccessN(body.Count)
		accepted = body.Count
	}
	result := h.computeHealthStatus(r.Context())
	msg := "Recorded " + strconv.Itoa(accepted) + " accepted"
	if denied > 0 {
		msg += ", " + strconv.Itoa(denied) + " denied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"action":   "load",
		"message":  msg,
		"state":    result.status,
		"accepted": accepted,
		"denied":   denied,
	})
}

func (h *Handler) postTestError(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = 1
	}
	traffic.RecordErrorN(body.Count)
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errors, total := degraded.ErrorRate(window)
	pct := 0
	if total > 0 {
		pct = errors * 100 / total
	}
	result := h.computeHealthStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"action":         "error",
		"message":        "Recorded " + strconv.Itoa(body.Count) + " errors",
		"state":          result.status,
		"error_rate_pct": pct,
	})
}

func (h *Handler) postTestReset(w http.ResponseWriter, r *http.Request) {
	traffic.Reset()
	degraded.ClearRecoveryOverrides()
	lifecycle.SetShuttingDown(false)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "reset",
		"message": "All simulated state cleared",
	})
}

func (h *Handler) postTestShutdown(w http.ResponseWriter, r *http.Request) {
	lifecycle.SetShuttingDown(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "shutdown",
		"message": "Shutting-down flag set",
	})
}

func (h *Handler) postTestPreventClear(w http.ResponseWriter, r *http.Request) {
	degraded.SetRecoveryDisabled(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "prevent_clear",
		"message": "Auto-recovery disabled",
	})
}

func (h *Handler) postTestFailClear(w http.ResponseWriter, r *http.Request) {
	degraded.SetForceFailNextAttempt(true)
	resp := map[string]interface{}{
		"ok":      true,
		"action":  "fail_clear",
		"message": "Simulated failed recovery attempt",
	}
	if h.healthConfig != nil && h.healthConfig.DegradedRetryInitial > 0 && h.healthConfig.DegradedRetryMax >= h.healthConfig.DegradedRetryInitial {
		if d, ok := degraded.GetAndAdvanceNextRecoveryDelay(h.healthConfig.DegradedRetryInitial, h.healthConfig.DegradedRetryMax); ok {
			resp["next_recovery"] = d.String()
		} else {
			resp["next_recovery"] = "shutting-down"
			lifecycle.SetShuttingDown(true)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) postTestClear(w http.ResponseWriter, r *http.Request) {
	degraded.Reset()
	degraded.ClearRecoveryOverrides()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "clear",
		"message": "Recovery forced successful",
	})
}
