// Package config loads process configuration from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/currency"
	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

// Config holds all settings for the server.
type Config struct {
	Port        string
	DatabaseURL string // empty: in-memory store
	RedisURL    string // empty: no read-through cache
	LogLevel    slog.Level

	CacheTTL      time.Duration // Redis balances/ledger TTL
	QuoteCacheTTL time.Duration
	FXCacheTTL    time.Duration

	DefaultFXRate    decimal.Decimal // USD/THB used when none is recorded
	DisplayCurrency  model.Currency
	ExtraCashTickers []string // appended to the cash allow-list

	RateLimitRPS   float64 // API requests per second; 0 disables limiting
	RateLimitBurst int
}

// Load reads a .env file if one exists, then the environment. Malformed
// optional values fall back to their defaults with a warning; an unsupported
// DISPLAY_CURRENCY is an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("no .env file found, using process environment")
		} else {
			slog.Warn("failed to load .env file", "err", err)
		}
	}

	display, err := currency.Parse(getEnv("DISPLAY_CURRENCY", "USD"))
	if err != nil {
		return nil, fmt.Errorf("DISPLAY_CURRENCY: %w", err)
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		LogLevel:         getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
		CacheTTL:         getEnvAsDuration("CACHE_TTL", 30*time.Second),
		QuoteCacheTTL:    getEnvAsDuration("QUOTE_CACHE_TTL", time.Minute),
		FXCacheTTL:       getEnvAsDuration("FX_CACHE_TTL", 10*time.Minute),
		DefaultFXRate:    getEnvAsRate("DEFAULT_FX_RATE", currency.DefaultUSDTHB),
		DisplayCurrency:  display,
		ExtraCashTickers: getEnvAsList("CASH_TICKERS"),
		RateLimitRPS:     getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvAsInt("RATE_LIMIT_BURST", 30),
	}
	return cfg, nil
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", valueStr, "default", fallback.String())
		return fallback
	}
	return value
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value < 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", valueStr, "default", fallback)
		return fallback
	}
	return value
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil || value < 0 {
		slog.Warn("invalid number, using default", "key", key, "value", valueStr, "default", fallback)
		return fallback
	}
	return value
}

func getEnvAsRate(key string, fallback decimal.Decimal) decimal.Decimal {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil || !value.IsPositive() {
		slog.Warn("invalid rate, using default", "key", key, "value", valueStr, "default", fallback.String())
		return fallback
	}
	return value
}

func getEnvAsLevel(key string, fallback slog.Level) slog.Level {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(valueStr)); err != nil {
		slog.Warn("invalid log level, using default", "key", key, "value", valueStr)
		return fallback
	}
	return lvl
}

// getEnvAsList splits a comma-separated variable, dropping empty items.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
