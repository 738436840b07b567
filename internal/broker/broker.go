// Package broker implements the virtual paper-trading broker. It tracks a
// simulated cash balance and open positions, executes buy/sell orders at the
// provided market price, and persists its state to disk so the portfolio
// survives restarts.
package broker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelbist/sentinel/internal/models"
)

const (
	// DefaultInitialBalance is the virtual cash a fresh broker starts with, in TRY.
	DefaultInitialBalance = 100_000

	// DefaultAllocationFraction is the share of cash committed to one buy.
	DefaultAllocationFraction = 0.25

	// maxTradeHistory bounds the persisted trade log.
	maxTradeHistory = 500
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPositionExists    = errors.New("position already open for ticker")
	ErrNoPosition        = errors.New("no open position for ticker")
	ErrInvalidPrice      = errors.New("price must be positive")
)

// VirtualBroker is a thread-safe simulated broker. One position per ticker.
type VirtualBroker struct {
	mu sync.Mutex

	balance        float64
	initialBalance float64
	positions      map[string]models.Position
	history        []models.Trade

	allocationFraction float64
	store              *StateStore // nil disables persistence

	now func() time.Time
}

// Option configures a VirtualBroker.
type Option func(*VirtualBroker)

// WithInitialBalance overrides the starting cash balance.
func WithInitialBalance(balance float64) Option {
	return func(b *VirtualBroker) {
		b.balance = balance
		b.initialBalance = balance
	}
}

// WithAllocationFraction overrides the per-buy cash allocation.
func WithAllocationFraction(f float64) Option {
	return func(b *VirtualBroker) {
		if f > 0 && f <= 1 {
			b.allocationFraction = f
		}
	}
}

// WithStateStore enables persistence through the given store.
func WithStateStore(store *StateStore) Option {
	return func(b *VirtualBroker) { b.store = store }
}

func withClock(now func() time.Time) Option {
	return func(b *VirtualBroker) { b.now = now }
}

// NewVirtualBroker creates a broker with the default balance, then applies
// options. If a state store is configured and holds a previous snapshot, the
// snapshot takes precedence over the configured initial balance.
func NewVirtualBroker(opts ...Option) (*VirtualBroker, error) {
	b := &VirtualBroker{
		balance:            DefaultInitialBalance,
		initialBalance:     DefaultInitialBalance,
		positions:          make(map[string]models.Position),
		allocationFraction: DefaultAllocationFraction,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.store != nil {
		state, err := b.store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading broker state: %w", err)
		}
		if state != nil {
			b.restore(state)
		}
	}
	return b, nil
}

func (b *VirtualBroker) restore(state *State) {
	b.balance = state.VirtualBalance
	if state.InitialBalance > 0 {
		b.initialBalance = state.InitialBalance
	}
	b.positions = make(map[string]models.Position, len(state.Positions))
	for ticker, p := range state.Positions {
		b.positions[ticker] = models.Position{
			Ticker:     ticker,
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			OpenedAt:   p.OpenedAt,
		}
	}
	b.history = append([]models.Trade(nil), state.TradeHistory...)
}

// ExecuteBuy opens a position in ticker at price, spending the configured
// allocation fraction of available cash. Fails if a position is already open
// or the allocation does not cover at least one share.
func (b *VirtualBroker) ExecuteBuy(ticker string, price float64) (models.Trade, error) {
	if price <= 0 {
		return models.Trade{}, ErrInvalidPrice
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.positions[ticker]; ok {
		return models.Trade{}, fmt.Errorf("%w: %s", ErrPositionExists, ticker)
	}
	budget := b.balance * b.allocationFraction
	quantity := int(budget / price)
	if quantity < 1 {
		return models.Trade{}, fmt.Errorf("%w: budget %.2f below price %.2f", ErrInsufficientFunds, budget, price)
	}
	cost := float64(quantity) * price

	now := b.now()
	b.balance -= cost
	b.positions[ticker] = models.Position{
		Ticker:     ticker,
		Quantity:   quantity,
		EntryPrice: price,
		OpenedAt:   now,
	}
	trade := models.Trade{
		Ticker:     ticker,
		Action:     models.ActionBuy,
		Quantity:   quantity,
		Price:      price,
		ExecutedAt: now,
	}
	b.appendTradeLocked(trade)
	if err := b.persistLocked(); err != nil {
		return trade, err
	}
	return trade, nil
}

// ExecuteSell closes the open position in ticker at price, returning the
// proceeds to the cash balance.
func (b *VirtualBroker) ExecuteSell(ticker string, price float64) (models.Trade, error) {
	if price <= 0 {
		return models.Trade{}, ErrInvalidPrice
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[ticker]
	if !ok {
		return models.Trade{}, fmt.Errorf("%w: %s", ErrNoPosition, ticker)
	}
	b.balance += float64(pos.Quantity) * price
	delete(b.positions, ticker)

	trade := models.Trade{
		Ticker:     ticker,
		Action:     models.ActionSell,
		Quantity:   pos.Quantity,
		Price:      price,
		ExecutedAt: b.now(),
	}
	b.appendTradeLocked(trade)
	if err := b.persistLocked(); err != nil {
		return trade, err
	}
	return trade, nil
}

func (b *VirtualBroker) appendTradeLocked(trade models.Trade) {
	b.history = append(b.history, trade)
	if len(b.history) > maxTradeHistory {
		b.history = b.history[len(b.history)-maxTradeHistory:]
	}
}

func (b *VirtualBroker) persistLocked() error {
	if b.store == nil {
		return nil
	}
	return b.store.Save(b.snapshotLocked())
}

func (b *VirtualBroker) snapshotLocked() *State {
	state := &State{
		VirtualBalance: b.balance,
		InitialBalance: b.initialBalance,
		Positions:      make(map[string]PositionState, len(b.positions)),
		TradeHistory:   append([]models.Trade(nil), b.history...),
	}
	for ticker, p := range b.positions {
		state.Positions[ticker] = PositionState{
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			OpenedAt:   p.OpenedAt,
		}
	}
	return state
}

// Balance returns the current cash balance.
func (b *VirtualBroker) Balance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// HasPosition reports whether a position is open for ticker.
func (b *VirtualBroker) HasPosition(ticker string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[ticker]
	return ok
}

// Position returns the open position for ticker, if any.
func (b *VirtualBroker) Position(ticker string) (models.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[ticker]
	return pos, ok
}

// Positions returns all open positions.
func (b *VirtualBroker) Positions() []models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out
}

// Trades returns the trade history, most recent last.
func (b *VirtualBroker) Trades() []models.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Trade(nil), b.history...)
}

// Portfolio computes the mark-to-market portfolio view. prices maps ticker to
// last price; a missing price values the position at its entry price.
func (b *VirtualBroker) Portfolio(prices map[string]float64) models.Portfolio {
	b.mu.Lock()
	defer b.mu.Unlock()

	var positionValue float64
	for ticker, pos := range b.positions {
		price, ok := prices[ticker]
		if !ok || price <= 0 {
			price = pos.EntryPrice
		}
		positionValue += float64(pos.Quantity) * price
	}
	equity := b.balance + positionValue
	pnl := equity - b.initialBalance
	var pnlPct float64
	if b.initialBalance > 0 {
		pnlPct = pnl / b.initialBalance * 100
	}
	return models.Portfolio{
		Balance:        b.balance,
		InitialBalance: b.initialBalance,
		PositionValue:  positionValue,
		Equity:         equity,
		PnL:            pnl,
		PnLPct:         pnlPct,
	}
}
