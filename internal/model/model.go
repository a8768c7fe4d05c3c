// Package model defines the core domain types shared across the portfolio
// dashboard. All monetary values use shopspring/decimal. Never float64 for money.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is a cost or display currency. Only USD and THB are supported.
type Currency string

const (
	USD Currency = "USD"
	THB Currency = "THB"
)

// OrUSD returns c, or USD when c is empty.
func (c Currency) OrUSD() Currency {
	if c == "" {
		return USD
	}
	return c
}

// InitialBalance is an opening holding loaded for a user.
// One row per ticker per user.
type InitialBalance struct {
	UserID       string          `json:"user_id" db:"user_id"`
	Ticker       string          `json:"ticker" db:"ticker"`
	AssetType    string          `json:"asset_type" db:"asset_type"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"` // signed: negative = short
	AvgCost      decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	CostCurrency Currency        `json:"cost_currency" db:"cost_currency"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable double-entry transaction record:
// the user gives up FromAmount of FromTicker and receives ToAmount of ToTicker.
// Either side may be absent (transfers). Cash amounts are total currency
// value; non-cash amounts are unit counts.
type LedgerEntry struct {
	ID                  string              `json:"id" db:"id"`
	UserID              string              `json:"user_id" db:"user_id"`
	FromTicker          string              `json:"from_ticker,omitempty" db:"from_ticker"`
	FromAmount          decimal.NullDecimal `json:"from_amount" db:"from_amount"`
	FromAssetType       string              `json:"from_asset_type,omitempty" db:"from_asset_type"`
	ToTicker            string              `json:"to_ticker,omitempty" db:"to_ticker"`
	ToAmount            decimal.NullDecimal `json:"to_amount" db:"to_amount"`
	ToAssetType         string              `json:"to_asset_type,omitempty" db:"to_asset_type"`
	TransactionCurrency Currency            `json:"transaction_currency" db:"transaction_currency"`
	FxRateAtTime        decimal.NullDecimal `json:"fx_rate_at_time" db:"fx_rate_at_time"`
	Fees                decimal.Decimal     `json:"fees" db:"fees"`
	FeeCurrency         string              `json:"fee_currency,omitempty" db:"fee_currency"`
	TransactionDate     time.Time           `json:"transaction_date" db:"transaction_date"`
	Notes               string              `json:"notes,omitempty" db:"notes"`
}

// From returns the from-side amount, or zero when absent.
func (e LedgerEntry) From() decimal.Decimal { return valueOrZero(e.FromAmount) }

// To returns the to-side amount, or zero when absent.
func (e LedgerEntry) To() decimal.Decimal { return valueOrZero(e.ToAmount) }

// FxRate returns the recorded USD/THB rate, or zero when absent.
func (e LedgerEntry) FxRate() decimal.Decimal { return valueOrZero(e.FxRateAtTime) }

func valueOrZero(n decimal.NullDecimal) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	return n.Decimal
}

// Position is the folded state of one ticker. Quantity is signed:
// positive = long, negative = short.
type Position struct {
	Ticker       string          `json:"ticker"`
	AssetType    string          `json:"asset_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avg_cost"`   // per unit, in CostCurrency
	CostBasis    decimal.Decimal `json:"cost_basis"` // |Quantity| × AvgCost, never negative
	CostCurrency Currency        `json:"cost_currency"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"` // in CostCurrency
}

// IsShort reports whether the position is a short.
func (p Position) IsShort() bool { return p.Quantity.IsNegative() }

// Quote is a live price observation for one ticker.
type Quote struct {
	Ticker    string          `json:"ticker" db:"ticker"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Currency  Currency        `json:"currency" db:"currency"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// EnrichedPosition is a Position marked to market in a display currency.
type EnrichedPosition struct {
	Ticker           string          `json:"ticker"`
	AssetType        string          `json:"asset_type"`
	IsCash           bool            `json:"is_cash"`
	IsShort          bool            `json:"is_short"`
	Quantity         decimal.Decimal `json:"quantity"`
	AvgCost          decimal.Decimal `json:"avg_cost"`   // display currency
	CostBasis        decimal.Decimal `json:"cost_basis"` // display currency
	CurrentPrice     decimal.Decimal `json:"current_price"`
	CurrentValue     decimal.Decimal `json:"current_value"` // price × |quantity|
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	DisplayCurrency  Currency        `json:"display_currency"`
	PriceUpdatedAt   time.Time       `json:"price_updated_at"`
}

// Summary aggregates enriched positions. Cash counts toward value only.
type Summary struct {
	DisplayCurrency  Currency        `json:"display_currency"`
	TotalValue       decimal.Decimal `json:"total_value"`
	InvestedValue    decimal.Decimal `json:"invested_value"`
	CashValue        decimal.Decimal `json:"cash_value"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	PositionCount    int             `json:"position_count"`
	ShortCount       int             `json:"short_count"`
}

// DiagnosticKind classifies a non-fatal data-integrity finding.
type DiagnosticKind string

const (
	DiagNegativeCostBasis  DiagnosticKind = "negative_cost_basis"
	DiagNegativeAvgCost    DiagnosticKind = "negative_avg_cost"
	DiagCashFaceValueDrift DiagnosticKind = "cash_face_value_drift"
	DiagNegativeQuantity   DiagnosticKind = "negative_quantity"
	DiagOversell           DiagnosticKind = "oversell"
)

// Diagnostic is an advisory warning about one ticker. Never fatal.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Ticker  string         `json:"ticker"`
	Message string         `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s [%s]: %s", d.Ticker, d.Kind, d.Message)
}

// Portfolio is the full view returned to dashboard clients.
type Portfolio struct {
	UserID      string             `json:"user_id"`
	FXRate      decimal.Decimal    `json:"fx_rate"` // USD/THB used for this view
	Positions   []EnrichedPosition `json:"positions"`
	Summary     Summary            `json:"summary"`
	Diagnostics []Diagnostic       `json:"diagnostics"`
}
