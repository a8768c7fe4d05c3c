package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestMemoryStore_Balances(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, b := range []model.InitialBalance{
		{UserID: "u1", Ticker: "TSLA", Quantity: d(10), AvgCost: d(200)},
		{UserID: "u1", Ticker: "aapl", Quantity: d(5), AvgCost: d(150)},
		{UserID: "u2", Ticker: "USD", Quantity: d(1000), AvgCost: d(1)},
	} {
		b := b
		if err := s.UpsertInitialBalance(ctx, &b); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	// Replacing a lot keeps one row per ticker.
	if err := s.UpsertInitialBalance(ctx, &model.InitialBalance{UserID: "u1", Ticker: "tsla", Quantity: d(12), AvgCost: d(210)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetInitialBalances(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(got))
	}
	for _, b := range got {
		if b.Ticker == "tsla" && !b.Quantity.Equal(d(12)) {
			t.Errorf("expected replaced TSLA lot qty=12, got %s", b.Quantity)
		}
	}

	if err := s.DeleteInitialBalance(ctx, "u1", "AAPL"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteInitialBalance(ctx, "u1", "AAPL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	empty, err := s.GetInitialBalances(ctx, "nobody")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %v (%v)", empty, err)
	}
}

func TestMemoryStore_Ledger(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e1 := &model.LedgerEntry{ID: "e1", UserID: "u1", ToTicker: "TSLA", ToAmount: decimal.NewNullDecimal(d(1))}
	e2 := &model.LedgerEntry{ID: "e2", UserID: "u2", ToTicker: "AAPL", ToAmount: decimal.NewNullDecimal(d(1))}
	for _, e := range []*model.LedgerEntry{e1, e2} {
		if err := s.InsertLedgerEntry(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := s.InsertLedgerEntry(ctx, e1); err == nil {
		t.Error("expected duplicate ID to be rejected")
	}

	got, _ := s.GetLedgerEntries(ctx, "u1")
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("expected only u1's entry, got %+v", got)
	}

	// Another user's entry cannot be deleted.
	if err := s.DeleteLedgerEntry(ctx, "u1", "e2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteLedgerEntry(ctx, "u1", "e1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = s.GetLedgerEntries(ctx, "u1")
	if len(got) != 0 {
		t.Errorf("expected empty ledger after delete, got %d", len(got))
	}
}

func TestMemoryStore_Quotes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now().UTC()
	s.UpsertQuote(ctx, &model.Quote{Ticker: "tsla", Price: d(250), Currency: model.USD, UpdatedAt: now})
	s.UpsertQuote(ctx, &model.Quote{Ticker: "PTT", Price: d(34.5), Currency: model.THB, UpdatedAt: now})

	got, err := s.GetQuotes(ctx, []string{"TSLA", "ptt", "MISSING"})
	if err != nil {
		t.Fatalf("get quotes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(got))
	}
	if !got["TSLA"].Price.Equal(d(250)) {
		t.Errorf("TSLA price = %s", got["TSLA"].Price)
	}
	if got["PTT"].Currency != model.THB {
		t.Errorf("PTT currency = %s", got["PTT"].Currency)
	}
	if _, ok := got["MISSING"]; ok {
		t.Error("unknown tickers must be absent")
	}
}

func TestMemoryStore_FXRate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.LatestFXRate(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any rate, got %v", err)
	}

	now := time.Now().UTC()
	s.SetFXRate(ctx, d(36.1), now)
	s.SetFXRate(ctx, d(33.0), now.Add(-time.Hour)) // stale

	rate, err := s.LatestFXRate(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !rate.Equal(d(36.1)) {
		t.Errorf("expected latest rate 36.1, got %s", rate)
	}
}
