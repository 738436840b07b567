package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
market_api:
  quote_url: "https://quotes.example.com/chart"
  news_url: "https://news.example.com/everything"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  ttl: "5m"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

func setAPIKey(t *testing.T, value string) {
	t.Helper()
	saved, had := os.LookupEnv("MARKET_API_KEY")
	if value == "" {
		os.Unsetenv("MARKET_API_KEY")
	} else {
		os.Setenv("MARKET_API_KEY", value)
	}
	t.Cleanup(func() {
		if had {
			os.Setenv("MARKET_API_KEY", saved)
		} else {
			os.Unsetenv("MARKET_API_KEY")
		}
	})
}

func chdirTemp(t *testing.T, envYAML, secretsYAML string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, envYAML)
	if secretsYAML != "" {
		writeSecretsFile(t, dir, secretsYAML)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	setAPIKey(t, "")
	chdirTemp(t, minimalEnvYAML, "")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no MARKET_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "MARKET_API_KEY") {
		t.Errorf("Load() error = %v, want message containing MARKET_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	setAPIKey(t, "")
	chdirTemp(t, minimalEnvYAML, "market_api_key: key-from-secrets-file\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MarketAPIKey != "key-from-secrets-file" {
		t.Errorf("MarketAPIKey = %q, want key from secrets file", cfg.MarketAPIKey)
	}
}

func TestLoad_EnvVarOverridesSecrets(t *testing.T) {
	setAPIKey(t, "key-from-env-1234")
	chdirTemp(t, minimalEnvYAML, "market_api_key: key-from-secrets-file\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MarketAPIKey != "key-from-env-1234" {
		t.Errorf("MarketAPIKey = %q, want env value", cfg.MarketAPIKey)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	setAPIKey(t, "test-key-1234567890")
	savedEnv := os.Getenv("ENV_NAME")
	os.Setenv("ENV_NAME", "nonexistent")
	defer os.Setenv("ENV_NAME", savedEnv)

	origWd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") && !strings.Contains(err.Error(), "config file") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setAPIKey(t, "test-key-1234567890")
	chdirTemp(t, minimalEnvYAML, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.StaleQuoteTTL != time.Hour {
		t.Errorf("StaleQuoteTTL = %v, want 1h", cfg.StaleQuoteTTL)
	}
	if !cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled should default true")
	}
	if !cfg.WarmOnStartup {
		t.Error("WarmOnStartup should default true")
	}
	if cfg.CycleInterval != 15*time.Minute {
		t.Errorf("CycleInterval = %v, want 15m", cfg.CycleInterval)
	}
	if len(cfg.Tickers) == 0 {
		t.Error("Tickers should default to the BIST30 universe")
	}
	if cfg.StatePath != "simulator_state.json" {
		t.Errorf("StatePath = %q", cfg.StatePath)
	}
	if cfg.SwitchPath != "engine_status.json" {
		t.Errorf("SwitchPath = %q", cfg.SwitchPath)
	}
	if cfg.InitialBalance != 100_000 {
		t.Errorf("InitialBalance = %v, want 100000", cfg.InitialBalance)
	}
	if cfg.BreakerFailureThreshold != 5 {
		t.Errorf("BreakerFailureThreshold = %d, want 5", cfg.BreakerFailureThreshold)
	}
	if len(cfg.TrackedSymbols) != len(cfg.Tickers) {
		t.Errorf("TrackedSymbols should default to the ticker universe")
	}
}

func TestLoad_EngineSection(t *testing.T) {
	setAPIKey(t, "test-key-1234567890")
	engineYAML := minimalEnvYAML + `
engine:
  tickers: ["GARAN", "ASELS"]
  state_path: "data/state.json"
  switch_path: "data/switch.json"
  initial_balance: 250000
  allocation_fraction: 0.1
session:
  timezone: "Europe/Istanbul"
  interval: "30m"
`
	chdirTemp(t, engineYAML, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Tickers) != 2 || cfg.Tickers[0] != "GARAN" {
		t.Errorf("Tickers = %v", cfg.Tickers)
	}
	if cfg.StatePath != "data/state.json" {
		t.Errorf("StatePath = %q", cfg.StatePath)
	}
	if cfg.InitialBalance != 250_000 {
		t.Errorf("InitialBalance = %v", cfg.InitialBalance)
	}
	if cfg.AllocationFraction != 0.1 {
		t.Errorf("AllocationFraction = %v", cfg.AllocationFraction)
	}
	if cfg.CycleInterval != 30*time.Minute {
		t.Errorf("CycleInterval = %v, want 30m", cfg.CycleInterval)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	setAPIKey(t, "test-key-1234567890")
	invalidYAML := strings.Replace(minimalEnvYAML, `ttl: "5m"`, `ttl: "invalid"`, 1)
	chdirTemp(t, invalidYAML, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want default 5m", cfg.CacheTTL)
	}
}

func TestLoad_ValidationFailsWhenMarketAPITimeoutZero(t *testing.T) {
	setAPIKey(t, "test-key-1234567890")
	zeroYAML := strings.Replace(minimalEnvYAML, `timeout: "2s"`, `timeout: "0s"`, 1)
	chdirTemp(t, zeroYAML, "")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when market_api.timeout is zero, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "market_api.timeout") {
		t.Errorf("Load() error = %v, want message about market_api.timeout", err)
	}
}

func TestLoad_ValidationFailsOnBadCacheBackend(t *testing.T) {
	setAPIKey(t, "test-key-1234567890")
	badYAML := strings.Replace(minimalEnvYAML, "cache:", "cache:\n  backend: \"redis\"", 1)
	chdirTemp(t, badYAML, "")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for unknown cache backend, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "cache.backend") {
		t.Errorf("Load() error = %v, want message about cache.backend", err)
	}
}

func TestLoad_ValidationFailsOnShortInterval(t *testing.T) {
	setAPIKey(t, "test-key-1234567890")
	chdirTemp(t, minimalEnvYAML+"\nsession:\n  interval: \"5s\"\n", "")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for sub-minute interval, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
}

func TestLoad_TestingModeTrue(t *testing.T) {
	setAPIKey(t, "test-key-1234567890")
	chdirTemp(t, minimalEnvYAML+"\ntesting_mode: true\n", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.TestingMode {
		t.Error("TestingMode = false, want true")
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	setAPIKey(t, "")
	chdirTemp(t, minimalEnvYAML, "not valid: yaml: [[[")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid secrets YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config", "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}
