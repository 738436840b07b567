package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testAPIKey = "test-api-key-123"

// TestExchangeSymbol verifies the .IS suffix normalization.
func TestExchangeSymbol(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare symbol", in: "GARAN", want: "GARAN.IS"},
		{name: "lowercase", in: "thyao", want: "THYAO.IS"},
		{name: "already suffixed", in: "ASELS.IS", want: "ASELS.IS"},
		{name: "whitespace", in: "  SISE ", want: "SISE.IS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExchangeSymbol(tc.in); got != tc.want {
				t.Errorf("ExchangeSymbol(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNewFeedClient_RejectsBadKey(t *testing.T) {
	if _, err := NewFeedClient("", "http://q", "http://n", time.Second); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("empty key: error = %v, want ErrInvalidAPIKey", err)
	}
	if _, err := NewFeedClient("short", "http://q", "http://n", time.Second); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("short key: error = %v, want ErrInvalidAPIKey", err)
	}
}

// TestGetQuote_Success verifies quote parsing and symbol/last-close mapping.
func TestGetQuote_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "GARAN.IS" {
			t.Errorf("symbol param = %q, want GARAN.IS", got)
		}
		if got := r.URL.Query().Get("apikey"); got != testAPIKey {
			t.Errorf("apikey param = %q, want %q", got, testAPIKey)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"GARAN.IS","currency":"TRY","closes":[90.1,91.5,92.0],"timestamps":[1700000000,1700086400,1700172800]}`))
	}))
	defer srv.Close()

	c, err := NewFeedClient(testAPIKey, srv.URL, srv.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewFeedClient: %v", err)
	}

	quote, err := c.GetQuote(context.Background(), "garan")
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if quote.Symbol != "GARAN" {
		t.Errorf("Symbol = %q, want GARAN", quote.Symbol)
	}
	if quote.Last != 92.0 {
		t.Errorf("Last = %v, want 92.0", quote.Last)
	}
	if len(quote.Closes) != 3 {
		t.Errorf("len(Closes) = %d, want 3", len(quote.Closes))
	}
	if quote.Currency != "TRY" {
		t.Errorf("Currency = %q, want TRY", quote.Currency)
	}
}

// TestGetQuote_NoData verifies ErrNoData when the feed returns an empty series.
func TestGetQuote_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"XXXXX.IS","closes":[]}`))
	}))
	defer srv.Close()

	c, _ := NewFeedClient(testAPIKey, srv.URL, srv.URL, 2*time.Second)
	if _, err := c.GetQuote(context.Background(), "XXXXX"); !errors.Is(err, ErrNoData) {
		t.Errorf("GetQuote() error = %v, want ErrNoData", err)
	}
}

// TestGetQuote_ErrorMapping verifies HTTP status to sentinel error mapping.
func TestGetQuote_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: ErrInvalidAPIKey},
		{name: "not found", status: http.StatusNotFound, wantErr: ErrSymbolNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c, _ := NewFeedClient(testAPIKey, srv.URL, srv.URL, 2*time.Second)
			_, err := c.GetQuote(context.Background(), "GARAN")
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("GetQuote() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

// TestGetQuote_RetriesUpstreamFailure verifies transient 5xx responses are retried.
func TestGetQuote_RetriesUpstreamFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"GARAN.IS","closes":[95.0]}`))
	}))
	defer srv.Close()

	c, err := NewFeedClientWithRetry(testAPIKey, srv.URL, srv.URL, 2*time.Second, 3, time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("NewFeedClientWithRetry: %v", err)
	}

	quote, err := c.GetQuote(context.Background(), "GARAN")
	if err != nil {
		t.Fatalf("GetQuote() error = %v after retries", err)
	}
	if quote.Last != 95.0 {
		t.Errorf("Last = %v, want 95.0", quote.Last)
	}
	if calls.Load() != 3 {
		t.Errorf("upstream calls = %d, want 3", calls.Load())
	}
}

// TestGetQuote_NoRetryOnSymbolNotFound verifies permanent errors fail fast.
func TestGetQuote_NoRetryOnSymbolNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := NewFeedClientWithRetry(testAPIKey, srv.URL, srv.URL, 2*time.Second, 3, time.Millisecond, 5*time.Millisecond)
	if _, err := c.GetQuote(context.Background(), "GARAN"); !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("GetQuote() error = %v, want ErrSymbolNotFound", err)
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retries)", calls.Load())
	}
}

// TestGetHeadlines_Success verifies headline parsing.
func TestGetHeadlines_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"headlines":[
			{"title":"Garanti karını artırdı","source":"aa","publishedAt":"2026-08-28T10:00:00Z"},
			{"title":"Piyasada belirsizlik sürüyor","source":"reuters"}
		]}`))
	}))
	defer srv.Close()

	c, _ := NewFeedClient(testAPIKey, srv.URL, srv.URL, 2*time.Second)
	headlines, err := c.GetHeadlines(context.Background(), "GARAN")
	if err != nil {
		t.Fatalf("GetHeadlines() error = %v", err)
	}
	if len(headlines) != 2 {
		t.Fatalf("len(headlines) = %d, want 2", len(headlines))
	}
	if headlines[0].Title != "Garanti karını artırdı" {
		t.Errorf("headline[0].Title = %q", headlines[0].Title)
	}
	if headlines[0].PublishedAt.IsZero() {
		t.Error("headline[0].PublishedAt should be parsed")
	}
	if !headlines[1].PublishedAt.IsZero() {
		t.Error("headline[1].PublishedAt should be zero when missing")
	}
}

// TestValidateAPIKey verifies validation distinguishes 200 from 401.
func TestValidateAPIKey(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = w.Write([]byte(`{"symbol":"GARAN.IS","closes":[1.0]}`))
		}
	}))
	defer srv.Close()

	c, _ := NewFeedClient(testAPIKey, srv.URL, srv.URL, 2*time.Second)
	if err := c.ValidateAPIKey(context.Background()); err != nil {
		t.Errorf("ValidateAPIKey() error = %v, want nil", err)
	}

	status.Store(http.StatusUnauthorized)
	if err := c.ValidateAPIKey(context.Background()); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("ValidateAPIKey() error = %v, want ErrInvalidAPIKey", err)
	}
}
