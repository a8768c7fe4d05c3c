// Package store defines the persistence interface for the portfolio dashboard.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Opening balances ---

	// UpsertInitialBalance creates or replaces the opening lot for (user, ticker).
	UpsertInitialBalance(ctx context.Context, b *model.InitialBalance) error

	// GetInitialBalances returns all opening lots for a user.
	GetInitialBalances(ctx context.Context, userID string) ([]model.InitialBalance, error)

	// DeleteInitialBalance removes the opening lot for (user, ticker).
	DeleteInitialBalance(ctx context.Context, userID, ticker string) error

	// --- Immutable ledger ---

	// InsertLedgerEntry appends a transaction record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntries returns a user's transactions in no guaranteed order.
	GetLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error)

	// DeleteLedgerEntry removes a mistaken transaction.
	DeleteLedgerEntry(ctx context.Context, userID, id string) error

	// --- Market data ---

	// UpsertQuote records the latest price for a ticker.
	UpsertQuote(ctx context.Context, q *model.Quote) error

	// GetQuotes returns the latest quote for each known ticker.
	// Unknown tickers are absent from the result.
	GetQuotes(ctx context.Context, tickers []string) (map[string]model.Quote, error)

	// SetFXRate records a USD/THB observation.
	SetFXRate(ctx context.Context, rate decimal.Decimal, observedAt time.Time) error

	// LatestFXRate returns the most recent USD/THB rate, or ErrNotFound.
	LatestFXRate(ctx context.Context) (decimal.Decimal, error)
}
