package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/asset"
	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]map[string]model.InitialBalance // user → ticker → lot
	ledger   []model.LedgerEntry
	quotes   map[string]model.Quote
	fxRate   decimal.Decimal
	fxAt     time.Time
	hasFX    bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]map[string]model.InitialBalance),
		quotes:   make(map[string]model.Quote),
	}
}

func (s *MemoryStore) UpsertInitialBalance(_ context.Context, b *model.InitialBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.balances[b.UserID]
	if !ok {
		user = make(map[string]model.InitialBalance)
		s.balances[b.UserID] = user
	}
	user[asset.Normalize(b.Ticker)] = *b
	return nil
}

func (s *MemoryStore) GetInitialBalances(_ context.Context, userID string) ([]model.InitialBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.InitialBalance, 0, len(s.balances[userID]))
	for _, b := range s.balances[userID] {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ticker < result[j].Ticker })
	return result, nil
}

func (s *MemoryStore) DeleteInitialBalance(_ context.Context, userID, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := asset.Normalize(ticker)
	if _, ok := s.balances[userID][key]; !ok {
		return fmt.Errorf("balance %s for user %s: %w", key, userID, ErrNotFound)
	}
	delete(s.balances[userID], key)
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.ledger {
		if e.ID == entry.ID {
			return fmt.Errorf("ledger entry %s already exists", entry.ID)
		}
	}
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) GetLedgerEntries(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.LedgerEntry{}
	for _, e := range s.ledger {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) DeleteLedgerEntry(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.ledger {
		if e.ID == id && e.UserID == userID {
			s.ledger = append(s.ledger[:i], s.ledger[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("ledger entry %s for user %s: %w", id, userID, ErrNotFound)
}

func (s *MemoryStore) UpsertQuote(_ context.Context, q *model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *q
	copy.Ticker = asset.Normalize(q.Ticker)
	s.quotes[copy.Ticker] = copy
	return nil
}

func (s *MemoryStore) GetQuotes(_ context.Context, tickers []string) (map[string]model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]model.Quote, len(tickers))
	for _, t := range tickers {
		key := asset.Normalize(t)
		if q, ok := s.quotes[key]; ok {
			result[key] = q
		}
	}
	return result, nil
}

func (s *MemoryStore) SetFXRate(_ context.Context, rate decimal.Decimal, observedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasFX && observedAt.Before(s.fxAt) {
		return nil // older observation; keep the latest
	}
	s.fxRate = rate
	s.fxAt = observedAt
	s.hasFX = true
	return nil
}

func (s *MemoryStore) LatestFXRate(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasFX {
		return decimal.Zero, fmt.Errorf("fx rate: %w", ErrNotFound)
	}
	return s.fxRate, nil
}
