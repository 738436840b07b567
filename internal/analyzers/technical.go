package analyzers

import (
	"errors"
	"fmt"
)

// ErrInsufficientHistory is returned when too few closes are available to score.
var ErrInsufficientHistory = errors.New("insufficient price history")

// Minimum closes required for a technical score.
const minHistory = 5

// Component weights for the blended score.
const (
	momentumWeight = 0.6
	rsiWeight      = 0.4
)

// TechnicalAnalyzer produces the T score in [-1, 1] from a daily close series.
// The score blends price momentum against the moving average with a
// trend-following RSI component.
type TechnicalAnalyzer struct {
	// SMAWindow and RSIPeriod shrink automatically when the series is shorter.
	SMAWindow int
	RSIPeriod int
}

// NewTechnicalAnalyzer returns an analyzer with the default 20-day SMA window
// and 14-day RSI period.
func NewTechnicalAnalyzer() *TechnicalAnalyzer {
	return &TechnicalAnalyzer{SMAWindow: 20, RSIPeriod: 14}
}

// Analyze scores the close series. The last element is the current price.
// Returns ErrInsufficientHistory when fewer than 5 closes are given.
func (a *TechnicalAnalyzer) Analyze(closes []float64) (float64, error) {
	if len(closes) < minHistory {
		return 0, fmt.Errorf("%w: have %d closes, need %d", ErrInsufficientHistory, len(closes), minHistory)
	}
	for _, c := range closes {
		if c <= 0 {
			return 0, fmt.Errorf("non-positive close %v in series", c)
		}
	}

	momentum := a.momentumScore(closes)
	rsi := a.rsiScore(closes)
	return clamp(momentumWeight*momentum + rsiWeight*rsi), nil
}

// momentumScore compares the last close to the SMA over the trailing window.
// A 10% move above the average saturates the component at +1.
func (a *TechnicalAnalyzer) momentumScore(closes []float64) float64 {
	window := a.SMAWindow
	if window <= 0 {
		window = 20
	}
	if window > len(closes) {
		window = len(closes)
	}
	sum := 0.0
	for _, c := range closes[len(closes)-window:] {
		sum += c
	}
	sma := sum / float64(window)
	last := closes[len(closes)-1]
	return clamp((last - sma) / sma * 10)
}

// rsiScore maps Wilder's RSI onto [-1, 1] as a trend signal: RSI 50 is
// neutral, 100 fully bullish, 0 fully bearish.
func (a *TechnicalAnalyzer) rsiScore(closes []float64) float64 {
	period := a.RSIPeriod
	if period <= 0 {
		period = 14
	}
	if period > len(closes)-1 {
		period = len(closes) - 1
	}

	series := closes[len(closes)-period-1:]
	var gains, losses float64
	for i := 1; i < len(series); i++ {
		delta := series[i] - series[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if gains+losses == 0 {
		return 0
	}
	rsi := 100 * gains / (gains + losses)
	return clamp((rsi - 50) / 50)
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
