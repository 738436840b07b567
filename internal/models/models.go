package models

import "time"

// Quote is a market data snapshot for a single BIST symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Closes    []float64 `json:"closes,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Stale     bool      `json:"stale,omitempty"` // Indicates data served from stale cache
}

// Headline is a single news item used for sentiment scoring.
type Headline struct {
	Title       string    `json:"title"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
}

// Action is the outcome of a decision evaluation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Decision is the result of one hybrid engine evaluation for a ticker.
type Decision struct {
	Action          Action    `json:"action"`
	Ticker          string    `json:"ticker"`
	TechnicalScore  float64   `json:"technicalScore"`
	SentimentScore  float64   `json:"sentimentScore"`
	Confidence      float64   `json:"confidence"`
	Aligned         bool      `json:"aligned"`
	DailyTradesLeft int       `json:"dailyTradesLeft"`
	Reason          string    `json:"reason,omitempty"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
}

// Position is an open paper-trading position.
type Position struct {
	Ticker     string    `json:"ticker"`
	Quantity   int       `json:"quantity"`
	EntryPrice float64   `json:"entryPrice"`
	OpenedAt   time.Time `json:"openedAt"`
}

// Trade is one executed paper trade, kept in the broker history.
type Trade struct {
	Ticker     string    `json:"ticker"`
	Action     Action    `json:"action"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"`
	ExecutedAt time.Time `json:"executedAt"`
}

// Portfolio is the mark-to-market view served by the dashboard API.
type Portfolio struct {
	Balance        float64 `json:"balance"`
	InitialBalance float64 `json:"initialBalance"`
	PositionValue  float64 `json:"positionValue"`
	Equity         float64 `json:"equity"`
	PnL            float64 `json:"pnl"`
	PnLPct         float64 `json:"pnlPct"`
}
