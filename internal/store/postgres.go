package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/asset"
	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// The schema is created by Migrate.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertInitialBalance(ctx context.Context, b *model.InitialBalance) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO initial_balances (user_id, ticker, asset_type, quantity, avg_cost, cost_currency, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)
		 ON CONFLICT (user_id, ticker) DO UPDATE
		 SET asset_type = EXCLUDED.asset_type, quantity = EXCLUDED.quantity,
		     avg_cost = EXCLUDED.avg_cost, cost_currency = EXCLUDED.cost_currency,
		     updated_at = EXCLUDED.updated_at`,
		b.UserID, asset.Normalize(b.Ticker), b.AssetType,
		b.Quantity.String(), b.AvgCost.String(), string(b.CostCurrency.OrUSD()),
		b.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetInitialBalances(ctx context.Context, userID string) ([]model.InitialBalance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, ticker, asset_type, quantity::TEXT, avg_cost::TEXT, cost_currency, updated_at
		 FROM initial_balances WHERE user_id = $1 ORDER BY ticker`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := []model.InitialBalance{}
	for rows.Next() {
		var b model.InitialBalance
		var qtyS, avgS, ccy string
		if err := rows.Scan(&b.UserID, &b.Ticker, &b.AssetType, &qtyS, &avgS, &ccy, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Quantity, _ = decimal.NewFromString(qtyS)
		b.AvgCost, _ = decimal.NewFromString(avgS)
		b.CostCurrency = model.Currency(ccy)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (s *PostgresStore) DeleteInitialBalance(ctx context.Context, userID, ticker string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM initial_balances WHERE user_id = $1 AND ticker = $2`,
		userID, asset.Normalize(ticker))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("balance %s for user %s: %w", ticker, userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, from_ticker, from_amount, from_asset_type,
		                             to_ticker, to_amount, to_asset_type, transaction_currency,
		                             fx_rate_at_time, fees, fee_currency, transaction_date, notes)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7::NUMERIC, $8, $9, $10::NUMERIC, $11::NUMERIC, $12, $13, $14)`,
		ledgerEntryArgs(e)...,
	)
	return err
}

// ledgerEntryArgs orders e for the insert. An unstated transaction currency
// is stored empty so the fold can still infer it from the counter leg.
func ledgerEntryArgs(e *model.LedgerEntry) []any {
	return []any{
		e.ID, e.UserID,
		e.FromTicker, nullText(e.FromAmount), e.FromAssetType,
		e.ToTicker, nullText(e.ToAmount), e.ToAssetType,
		string(e.TransactionCurrency), nullText(e.FxRateAtTime),
		e.Fees.String(), e.FeeCurrency, e.TransactionDate, e.Notes,
	}
}

func (s *PostgresStore) GetLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, user_id, from_ticker, from_amount::TEXT, from_asset_type,
		        to_ticker, to_amount::TEXT, to_asset_type, transaction_currency,
		        fx_rate_at_time::TEXT, fees::TEXT, fee_currency, transaction_date, notes
		 FROM ledger_entries WHERE user_id = $1
		 ORDER BY transaction_date, created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) DeleteLedgerEntry(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM ledger_entries WHERE user_id = $1 AND id::TEXT = $2`, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %s for user %s: %w", id, userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpsertQuote(ctx context.Context, q *model.Quote) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quotes (ticker, price, currency, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $4)
		 ON CONFLICT (ticker) DO UPDATE
		 SET price = EXCLUDED.price, currency = EXCLUDED.currency, updated_at = EXCLUDED.updated_at`,
		asset.Normalize(q.Ticker), q.Price.String(), string(q.Currency.OrUSD()), q.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetQuotes(ctx context.Context, tickers []string) (map[string]model.Quote, error) {
	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = asset.Normalize(t)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT ticker, price::TEXT, currency, updated_at
		 FROM quotes WHERE ticker = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quotes := make(map[string]model.Quote, len(keys))
	for rows.Next() {
		var q model.Quote
		var priceS, ccy string
		if err := rows.Scan(&q.Ticker, &priceS, &ccy, &q.UpdatedAt); err != nil {
			return nil, err
		}
		q.Price, _ = decimal.NewFromString(priceS)
		q.Currency = model.Currency(ccy)
		quotes[q.Ticker] = q
	}
	return quotes, rows.Err()
}

func (s *PostgresStore) SetFXRate(ctx context.Context, rate decimal.Decimal, observedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fx_rates (observed_at, usd_thb) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (observed_at) DO UPDATE SET usd_thb = EXCLUDED.usd_thb`,
		observedAt, rate.String())
	return err
}

func (s *PostgresStore) LatestFXRate(ctx context.Context) (decimal.Decimal, error) {
	var rateS string
	err := s.pool.QueryRow(ctx,
		`SELECT usd_thb::TEXT FROM fx_rates ORDER BY observed_at DESC LIMIT 1`).Scan(&rateS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("fx rate: %w", ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx rate: %w", err)
	}
	return decimal.NewFromString(rateS)
}

// pgxRows is the subset of pgx.Rows used by the scanners.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	entries := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		var fromAmt, toAmt, fxRate *string
		var ccy, feesS string

		if err := rows.Scan(&e.ID, &e.UserID,
			&e.FromTicker, &fromAmt, &e.FromAssetType,
			&e.ToTicker, &toAmt, &e.ToAssetType, &ccy,
			&fxRate, &feesS, &e.FeeCurrency, &e.TransactionDate, &e.Notes); err != nil {
			return nil, err
		}

		var err error
		if e.FromAmount, err = parseNull(fromAmt); err != nil {
			return nil, fmt.Errorf("entry %s from_amount: %w", e.ID, err)
		}
		if e.ToAmount, err = parseNull(toAmt); err != nil {
			return nil, fmt.Errorf("entry %s to_amount: %w", e.ID, err)
		}
		if e.FxRateAtTime, err = parseNull(fxRate); err != nil {
			return nil, fmt.Errorf("entry %s fx_rate_at_time: %w", e.ID, err)
		}
		if e.Fees, err = decimal.NewFromString(feesS); err != nil {
			return nil, fmt.Errorf("entry %s fees: %w", e.ID, err)
		}
		e.TransactionCurrency = model.Currency(ccy)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// nullText renders a nullable decimal as a NUMERIC-castable parameter.
func nullText(n decimal.NullDecimal) any {
	if !n.Valid {
		return nil
	}
	return n.Decimal.String()
}

func parseNull(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}
