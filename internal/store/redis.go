package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over each user's opening balances and ledger. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertInitialBalance(ctx context.Context, b *model.InitialBalance) error {
	if err := s.primary.UpsertInitialBalance(ctx, b); err != nil {
		return err
	}
	s.rdb.Del(ctx, balancesKey(b.UserID))
	return nil
}

func (s *CachedStore) DeleteInitialBalance(ctx context.Context, userID, ticker string) error {
	if err := s.primary.DeleteInitialBalance(ctx, userID, ticker); err != nil {
		return err
	}
	s.rdb.Del(ctx, balancesKey(userID))
	return nil
}

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if err := s.primary.InsertLedgerEntry(ctx, entry); err != nil {
		return err
	}
	s.rdb.Del(ctx, ledgerKey(entry.UserID))
	return nil
}

func (s *CachedStore) DeleteLedgerEntry(ctx context.Context, userID, id string) error {
	if err := s.primary.DeleteLedgerEntry(ctx, userID, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, ledgerKey(userID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetInitialBalances(ctx context.Context, userID string) ([]model.InitialBalance, error) {
	var balances []model.InitialBalance
	if s.cached(ctx, balancesKey(userID), &balances) {
		return balances, nil
	}

	balances, err := s.primary.GetInitialBalances(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, balancesKey(userID), balances)
	return balances, nil
}

func (s *CachedStore) GetLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	if s.cached(ctx, ledgerKey(userID), &entries) {
		return entries, nil
	}

	entries, err := s.primary.GetLedgerEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, ledgerKey(userID), entries)
	return entries, nil
}

// --- Passthrough (not cached) ---
// Quotes and FX are cached in-process by internal/pricing.

func (s *CachedStore) UpsertQuote(ctx context.Context, q *model.Quote) error {
	return s.primary.UpsertQuote(ctx, q)
}

func (s *CachedStore) GetQuotes(ctx context.Context, tickers []string) (map[string]model.Quote, error) {
	return s.primary.GetQuotes(ctx, tickers)
}

func (s *CachedStore) SetFXRate(ctx context.Context, rate decimal.Decimal, observedAt time.Time) error {
	return s.primary.SetFXRate(ctx, rate, observedAt)
}

func (s *CachedStore) LatestFXRate(ctx context.Context) (decimal.Decimal, error) {
	return s.primary.LatestFXRate(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cached(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) fill(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func balancesKey(uid string) string { return fmt.Sprintf("balances:%s", uid) }
func ledgerKey(uid string) string   { return fmt.Sprintf("ledger:%s", uid) }
