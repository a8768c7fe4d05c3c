package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/currency"
	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

var keys = []string{
	"PORT", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "CACHE_TTL",
	"QUOTE_CACHE_TTL", "FX_CACHE_TTL", "DEFAULT_FX_RATE", "DISPLAY_CURRENCY", "CASH_TICKERS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// clearEnv blanks every key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Errorf("expected no backing services by default")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
	if cfg.CacheTTL != 30*time.Second || cfg.QuoteCacheTTL != time.Minute || cfg.FXCacheTTL != 10*time.Minute {
		t.Errorf("unexpected TTLs %v %v %v", cfg.CacheTTL, cfg.QuoteCacheTTL, cfg.FXCacheTTL)
	}
	if !cfg.DefaultFXRate.Equal(currency.DefaultUSDTHB) {
		t.Errorf("default fx = %s", cfg.DefaultFXRate)
	}
	if cfg.DisplayCurrency != model.USD {
		t.Errorf("display = %s", cfg.DisplayCurrency)
	}
	if len(cfg.ExtraCashTickers) != 0 {
		t.Errorf("extra cash tickers = %v", cfg.ExtraCashTickers)
	}
	if cfg.RateLimitRPS != 10 || cfg.RateLimitBurst != 30 {
		t.Errorf("rate limit = %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CACHE_TTL", "5s")
	t.Setenv("DEFAULT_FX_RATE", "36.5")
	t.Setenv("DISPLAY_CURRENCY", "thb")
	t.Setenv("CASH_TICKERS", "KBANK-SAVINGS, ,EUR")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.LogLevel != slog.LevelDebug || cfg.CacheTTL != 5*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.DefaultFXRate.Equal(decimal.NewFromFloat(36.5)) {
		t.Errorf("default fx = %s", cfg.DefaultFXRate)
	}
	if cfg.DisplayCurrency != model.THB {
		t.Errorf("display = %s", cfg.DisplayCurrency)
	}
	if len(cfg.ExtraCashTickers) != 2 || cfg.ExtraCashTickers[0] != "KBANK-SAVINGS" || cfg.ExtraCashTickers[1] != "EUR" {
		t.Errorf("extra cash tickers = %v", cfg.ExtraCashTickers)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("PORT")
	os.Unsetenv("FX_CACHE_TTL")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PORT=7000\nFX_CACHE_TTL=1m\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7000" || cfg.FXCacheTTL != time.Minute {
		t.Errorf("expected .env values, got port=%s fx ttl=%v", cfg.Port, cfg.FXCacheTTL)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("DEFAULT_FX_RATE", "-3")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("RATE_LIMIT_BURST", "many")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("cache ttl = %v", cfg.CacheTTL)
	}
	if !cfg.DefaultFXRate.Equal(currency.DefaultUSDTHB) {
		t.Errorf("default fx = %s", cfg.DefaultFXRate)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
	if cfg.RateLimitBurst != 30 {
		t.Errorf("rate limit burst = %d", cfg.RateLimitBurst)
	}
}

func TestLoad_UnsupportedDisplayCurrency(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISPLAY_CURRENCY", "EUR")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if !errors.Is(err, currency.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
