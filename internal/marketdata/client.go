package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sentinelbist/sentinel/internal/models"
	"github.com/sentinelbist/sentinel/internal/observability"
)

// Client provides market data for BIST symbols.
type Client interface {
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
	GetHeadlines(ctx context.Context, symbol string) ([]models.Headline, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrSymbolNotFound  = errors.New("symbol not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrNoData          = errors.New("no price data for symbol")
)

// FeedClient talks to the market data feed over HTTP with retry, backoff and
// an optional circuit breaker.
type FeedClient struct {
	apiKey         string
	quoteURL       string
	newsURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *Breaker
}

// NewFeedClient creates a FeedClient with default retry settings.
func NewFeedClient(apiKey, quoteURL, newsURL string, timeout time.Duration) (*FeedClient, error) {
	return NewFeedClientWithRetry(apiKey, quoteURL, newsURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

// NewFeedClientWithRetry creates a FeedClient with explicit retry settings.
func NewFeedClientWithRetry(apiKey, quoteURL, newsURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*FeedClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	return &FeedClient{
		apiKey:         apiKey,
		quoteURL:       quoteURL,
		newsURL:        newsURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetBreaker attaches a circuit breaker guarding feed calls.
func (c *FeedClient) SetBreaker(b *Breaker) {
	c.breaker = b
}

// ExchangeSymbol appends the Borsa Istanbul suffix when missing: GARAN -> GARAN.IS.
func ExchangeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, ".IS") {
		return s
	}
	return s + ".IS"
}

type quoteResponse struct {
	Symbol     string    `json:"symbol"`
	Currency   string    `json:"currency"`
	Closes     []float64 `json:"closes"`
	Timestamps []int64   `json:"timestamps"`
}

type newsResponse struct {
	Headlines []struct {
		Title       string `json:"title"`
		Source      string `json:"source"`
		PublishedAt string `json:"publishedAt"`
	} `json:"headlines"`
}

// GetQuote fetches recent daily closes for the symbol. The last close is the
// current price. Retries transient failures with exponential backoff.
func (c *FeedClient) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	var quote models.Quote
	err := c.withRetry(ctx, func() error {
		q, err := c.callQuoteAPI(ctx, symbol)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return models.Quote{}, err
	}
	return quote, nil
}

// GetHeadlines fetches recent news headlines for the symbol for sentiment scoring.
func (c *FeedClient) GetHeadlines(ctx context.Context, symbol string) ([]models.Headline, error) {
	var headlines []models.Headline
	err := c.withRetry(ctx, func() error {
		h, err := c.callNewsAPI(ctx, symbol)
		if err != nil {
			return err
		}
		headlines = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return headlines, nil
}

// withRetry runs fn through the circuit breaker with the configured retry policy.
func (c *FeedClient) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.MarketAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var err error
		if c.breaker != nil {
			err = c.breaker.Do(fn)
		} else {
			err = fn()
		}
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *FeedClient) callQuoteAPI(ctx context.Context, symbol string) (models.Quote, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, c.quoteURL, symbol, url.Values{"range": {"5d"}})
	if err != nil {
		observability.MarketAPICallsTotal.WithLabelValues("error").Inc()
		return models.Quote{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.MarketAPICallsTotal.WithLabelValues("error").Inc()
		observability.MarketAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Quote{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.Quote{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.MarketAPICallsTotal.WithLabelValues(status).Inc()
	observability.MarketAPIDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return models.Quote{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Quote{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp quoteResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Quote{}, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Closes) == 0 {
		return models.Quote{}, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	return mapQuote(apiResp, symbol), nil
}

func (c *FeedClient) callNewsAPI(ctx context.Context, symbol string) ([]models.Headline, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, c.newsURL, symbol, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var apiResp newsResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	headlines := make([]models.Headline, 0, len(apiResp.Headlines))
	for _, h := range apiResp.Headlines {
		item := models.Headline{Title: h.Title, Source: h.Source}
		if h.PublishedAt != "" {
			if ts, err := time.Parse(time.RFC3339, h.PublishedAt); err == nil {
				item.PublishedAt = ts
			}
		}
		headlines = append(headlines, item)
	}
	return headlines, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBreakerOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "context canceled") {
		return true
	}

	return false
}

func (c *FeedClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *FeedClient) buildRequest(ctx context.Context, baseURL, symbol string, extra url.Values) (*http.Request, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("symbol", ExchangeSymbol(symbol))
	params.Set("apikey", c.apiKey)
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrSymbolNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func mapQuote(apiResp quoteResponse, symbol string) models.Quote {
	displaySymbol := apiResp.Symbol
	if displaySymbol == "" {
		displaySymbol = ExchangeSymbol(symbol)
	}

	ts := time.Now()
	if n := len(apiResp.Timestamps); n > 0 {
		ts = time.Unix(apiResp.Timestamps[n-1], 0)
	}

	return models.Quote{
		Symbol:    strings.TrimSuffix(strings.ToUpper(displaySymbol), ".IS"),
		Last:      apiResp.Closes[len(apiResp.Closes)-1],
		Closes:    apiResp.Closes,
		Currency:  apiResp.Currency,
		Timestamp: ts,
	}
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey checks feed access with a single well-known symbol request.
func (c *FeedClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, c.quoteURL, "GARAN", url.Values{"range": {"1d"}})
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
