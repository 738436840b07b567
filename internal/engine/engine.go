// Package engine implements the hybrid decision engine. Each evaluation
// blends a technical score and a news sentiment score for one ticker and
// resolves to a BUY, SELL or HOLD, subject to the daily trade budget, the
// drawdown stop and the animal-spirits confidence penalty.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelbist/sentinel/internal/analyzers"
	"github.com/sentinelbist/sentinel/internal/models"
	"github.com/sentinelbist/sentinel/internal/observability"
)

const (
	// MaxDailyTrades bounds executed trades per local calendar day.
	MaxDailyTrades = 3

	// AlignmentThreshold is the base signal threshold; the effective
	// threshold is AlignmentThreshold / confidence.
	AlignmentThreshold = 0.2

	// DrawdownThreshold sells a holding once it drops this fraction
	// below its tracked peak.
	DrawdownThreshold = 0.03

	// AnimalSpiritsPenalty is subtracted from confidence when risk
	// keywords appear in the news flow.
	AnimalSpiritsPenalty = 0.30
)

// QuoteSource supplies quotes and headlines for evaluation.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
	GetHeadlines(ctx context.Context, symbol string) ([]models.Headline, error)
}

// Broker executes paper trades and exposes position state.
type Broker interface {
	HasPosition(ticker string) bool
	ExecuteBuy(ticker string, price float64) (models.Trade, error)
	ExecuteSell(ticker string, price float64) (models.Trade, error)
}

// Engine is the hybrid decision engine. Safe for concurrent use, though one
// cycle runs at a time in practice.
type Engine struct {
	quotes    QuoteSource
	technical *analyzers.TechnicalAnalyzer
	sentiment *analyzers.SentimentAnalyzer
	broker    Broker
	logger    *zap.Logger
	loc       *time.Location

	mu          sync.Mutex
	tradesToday int
	tradeDay    string
	peaks       map[string]float64
	decisions   *decisionLog

	now func() time.Time
}

// New creates an engine evaluating against the given quote source and broker.
// loc is the exchange's local time zone, used for the daily trade counter.
func New(quotes QuoteSource, broker Broker, logger *zap.Logger, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		quotes:    quotes,
		technical: analyzers.NewTechnicalAnalyzer(),
		sentiment: analyzers.NewSentimentAnalyzer(),
		broker:    broker,
		logger:    logger,
		loc:       loc,
		peaks:     make(map[string]float64),
		decisions: newDecisionLog(recentDecisionLimit),
		now:       time.Now,
	}
}

// TradesRemaining returns today's remaining trade budget.
func (e *Engine) TradesRemaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetDayLocked()
	return MaxDailyTrades - e.tradesToday
}

// RecentDecisions returns the most recent decisions, newest first.
func (e *Engine) RecentDecisions() []models.Decision {
	return e.decisions.Recent()
}

func (e *Engine) resetDayLocked() {
	day := e.now().In(e.loc).Format("2006-01-02")
	if day != e.tradeDay {
		e.tradeDay = day
		e.tradesToday = 0
	}
}

// Evaluate scores ticker and resolves an action. It does not execute the
// trade; RunCycle does that so evaluation stays side-effect free.
func (e *Engine) Evaluate(ctx context.Context, ticker string) (models.Decision, error) {
	quote, err := e.quotes.GetQuote(ctx, ticker)
	if err != nil {
		return models.Decision{}, fmt.Errorf("quote for %s: %w", ticker, err)
	}
	if quote.Last <= 0 {
		return models.Decision{}, fmt.Errorf("quote for %s: no usable price", ticker)
	}

	technicalScore, err := e.technical.Analyze(quote.Closes)
	if err != nil {
		if errors.Is(err, analyzers.ErrInsufficientHistory) {
			return e.hold(ticker, 0, 0, 1, "insufficient price history"), nil
		}
		return models.Decision{}, fmt.Errorf("technical analysis for %s: %w", ticker, err)
	}

	// News flow failure degrades to neutral sentiment rather than
	// blocking the cycle.
	headlines, err := e.quotes.GetHeadlines(ctx, ticker)
	if err != nil {
		e.logger.Warn("headlines unavailable, sentiment neutral",
			zap.String("ticker", ticker), zap.Error(err))
		headlines = nil
	}
	sentimentScore, risky := e.sentiment.Score(headlines)

	confidence := 1.0
	if risky {
		confidence -= AnimalSpiritsPenalty
	}
	threshold := AlignmentThreshold / confidence

	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetDayLocked()

	holding := e.broker.HasPosition(ticker)
	if holding {
		// Peak ratchets up on every observation while the position is open.
		if quote.Last > e.peaks[ticker] {
			e.peaks[ticker] = quote.Last
		}
	}

	if e.tradesToday >= MaxDailyTrades {
		return e.hold(ticker, technicalScore, sentimentScore, confidence, "daily trade limit reached"), nil
	}

	d := models.Decision{
		Action:          models.ActionHold,
		Ticker:          ticker,
		TechnicalScore:  technicalScore,
		SentimentScore:  sentimentScore,
		Confidence:      confidence,
		DailyTradesLeft: MaxDailyTrades - e.tradesToday,
		EvaluatedAt:     e.now(),
	}

	switch {
	case holding && quote.Last <= e.peaks[ticker]*(1-DrawdownThreshold):
		d.Action = models.ActionSell
		d.Reason = fmt.Sprintf("drawdown stop: %.2f is %.1f%% below peak %.2f",
			quote.Last, (1-quote.Last/e.peaks[ticker])*100, e.peaks[ticker])
	case holding && technicalScore < -threshold && sentimentScore < -threshold:
		d.Action = models.ActionSell
		d.Aligned = true
		d.Reason = "bearish alignment"
	case !holding && technicalScore > threshold && sentimentScore > threshold:
		d.Action = models.ActionBuy
		d.Aligned = true
		d.Reason = "bullish alignment"
	default:
		d.Reason = fmt.Sprintf("signals below threshold %.2f", threshold)
	}
	return d, nil
}

func (e *Engine) hold(ticker string, t, s, confidence float64, reason string) models.Decision {
	return models.Decision{
		Action:          models.ActionHold,
		Ticker:          ticker,
		TechnicalScore:  t,
		SentimentScore:  s,
		Confidence:      confidence,
		DailyTradesLeft: MaxDailyTrades - e.tradesToday,
		Reason:          reason,
		EvaluatedAt:     e.now(),
	}
}

// RunCycle evaluates every ticker in the universe and executes resulting
// trades through the broker. Evaluation errors skip the ticker; the cycle
// always completes.
func (e *Engine) RunCycle(ctx context.Context, tickers []string) {
	observability.DecisionCyclesTotal.Inc()
	log := e.logger.With(zap.String("cycle", e.now().Format(time.RFC3339)))
	log.Info("decision cycle started", zap.Int("tickers", len(tickers)))

	for _, ticker := range tickers {
		if ctx.Err() != nil {
			log.Warn("decision cycle cancelled", zap.Error(ctx.Err()))
			return
		}
		decision, err := e.Evaluate(ctx, ticker)
		if err != nil {
			log.Warn("evaluation skipped", zap.String("ticker", ticker), zap.Error(err))
			continue
		}
		e.execute(ctx, log, &decision)
		e.decisions.Add(decision)
		observability.DecisionsTotal.WithLabelValues(string(decision.Action)).Inc()
	}

	e.mu.Lock()
	remaining := MaxDailyTrades - e.tradesToday
	e.mu.Unlock()
	observability.DailyTradesRemaining.Set(float64(remaining))
	log.Info("decision cycle finished", zap.Int("tradesRemaining", remaining))
}

// execute carries out a BUY or SELL decision. Failures downgrade the decision
// to HOLD so the recorded history reflects what actually happened.
func (e *Engine) execute(ctx context.Context, log *zap.Logger, d *models.Decision) {
	if d.Action == models.ActionHold {
		return
	}
	quote, err := e.quotes.GetQuote(ctx, d.Ticker)
	if err != nil || quote.Last <= 0 {
		log.Warn("execution price unavailable", zap.String("ticker", d.Ticker), zap.Error(err))
		d.Action = models.ActionHold
		d.Reason = "execution price unavailable"
		return
	}

	var trade models.Trade
	switch d.Action {
	case models.ActionBuy:
		trade, err = e.broker.ExecuteBuy(d.Ticker, quote.Last)
	case models.ActionSell:
		trade, err = e.broker.ExecuteSell(d.Ticker, quote.Last)
	}
	if err != nil {
		log.Warn("trade rejected",
			zap.String("ticker", d.Ticker),
			zap.String("action", string(d.Action)),
			zap.Error(err))
		d.Action = models.ActionHold
		d.Reason = fmt.Sprintf("trade rejected: %v", err)
		return
	}

	e.mu.Lock()
	e.resetDayLocked()
	e.tradesToday++
	if d.Action == models.ActionSell {
		delete(e.peaks, d.Ticker)
	} else {
		e.peaks[d.Ticker] = trade.Price
	}
	d.DailyTradesLeft = MaxDailyTrades - e.tradesToday
	e.mu.Unlock()

	observability.TradesExecutedTotal.WithLabelValues(string(d.Action)).Inc()
	log.Info("trade executed",
		zap.String("ticker", trade.Ticker),
		zap.String("action", string(trade.Action)),
		zap.Int("quantity", trade.Quantity),
		zap.Float64("price", trade.Price))
}
