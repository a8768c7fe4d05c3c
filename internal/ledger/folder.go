// Package ledger folds opening balances and a chronological transaction
// ledger into current positions.
//
// Folding is a pure, deterministic batch transform: no I/O, no goroutines,
// no shared state. It is expected to be re-run from scratch on every
// portfolio view. Anomalies never halt the fold; they are clamped to a safe
// value and reported as model.Diagnostic records.
//
// Conventions:
//   - Positions are keyed by the uppercased ticker.
//   - Cash and stablecoin positions are held in USD at face value
//     (1 for USD-class, 1/fxRate for THB-class) and are never averaged.
//   - Long positions carry a weighted-average cost; sells leave it unchanged.
//   - Shorts carry the weighted-average entry price; covers leave it unchanged.
//   - Entries sharing a TransactionDate are applied in input order.
package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/asset"
	"github.com/watersalamander/portfolio-dashboard/internal/currency"
	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

// DustEpsilon is the magnitude below which a quantity or cost basis is zero.
var DustEpsilon = decimal.New(1, -9)

// Result is the outcome of a fold.
type Result struct {
	Positions   map[string]model.Position `json:"positions"`
	Diagnostics []model.Diagnostic        `json:"diagnostics"`
}

// Builder accumulates positions. It is not safe for concurrent use.
type Builder struct {
	fxRate     decimal.Decimal
	classifier *asset.Classifier
	positions  map[string]*model.Position
	diags      []model.Diagnostic
}

// Option configures a Builder.
type Option func(*Builder)

// WithClassifier overrides the cash classifier (default asset.Default).
func WithClassifier(c *asset.Classifier) Option {
	return func(b *Builder) {
		if c != nil {
			b.classifier = c
		}
	}
}

// NewBuilder creates a Builder valuing cash at fxRate THB per USD.
// A non-positive fxRate falls back to currency.DefaultUSDTHB.
func NewBuilder(fxRate decimal.Decimal, opts ...Option) *Builder {
	b := &Builder{
		fxRate:     currency.Rate(fxRate, currency.DefaultUSDTHB),
		classifier: asset.Default,
		positions:  make(map[string]*model.Position),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CalculatePositions seeds from balances, replays entries in date order and
// returns the cleaned-up position map.
func CalculatePositions(balances []model.InitialBalance, entries []model.LedgerEntry, fxRate decimal.Decimal, opts ...Option) Result {
	b := NewBuilder(fxRate, opts...)
	b.Seed(balances)
	b.Replay(entries)
	return b.Finish()
}

// Seed opens positions from initial balances. Several rows for the same
// ticker are combined into one position.
func (b *Builder) Seed(balances []model.InitialBalance) {
	for _, ib := range balances {
		ticker := asset.Normalize(ib.Ticker)
		if ticker == "" {
			continue
		}
		p := b.position(ticker, ib.AssetType, ib.CostCurrency.OrUSD())

		if b.classifier.IsCash(ticker) {
			// Stated avg cost is ignored for cash.
			p.Quantity = p.Quantity.Add(ib.Quantity)
			b.resetCash(p)
			continue
		}

		if p.Quantity.IsZero() && p.CostBasis.IsZero() {
			p.Quantity = ib.Quantity
			p.AvgCost = ib.AvgCost
			p.CostBasis = ib.Quantity.Abs().Mul(ib.AvgCost)
			continue
		}
		lotCost := currency.Convert(ib.Quantity.Abs().Mul(ib.AvgCost), ib.CostCurrency, p.CostCurrency, b.fxRate)
		p.Quantity = p.Quantity.Add(ib.Quantity)
		p.CostBasis = p.CostBasis.Add(lotCost)
		p.AvgCost = safeDiv(p.CostBasis, p.Quantity.Abs())
	}
}

// Replay applies entries sorted ascending by TransactionDate. The input
// slice is not modified; ties keep their input order.
func (b *Builder) Replay(entries []model.LedgerEntry) {
	sorted := make([]model.LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TransactionDate.Before(sorted[j].TransactionDate)
	})
	for _, e := range sorted {
		b.Apply(e)
	}
}

// money is an amount tagged with its currency.
type money struct {
	value decimal.Decimal
	ccy   model.Currency
}

func (m money) in(ccy model.Currency, fxRate decimal.Decimal) decimal.Decimal {
	return currency.Convert(m.value, m.ccy, ccy, fxRate)
}

// Apply folds a single entry. The TO side is processed before the FROM side.
func (b *Builder) Apply(e model.LedgerEntry) {
	fx := currency.Rate(e.FxRate(), b.fxRate)
	from, to := asset.Normalize(e.FromTicker), asset.Normalize(e.ToTicker)
	fromAmt, toAmt := e.From(), e.To()
	hasFrom := from != "" && fromAmt.IsPositive()
	hasTo := to != "" && toAmt.IsPositive()
	fromCash, toCash := b.classifier.IsCash(from), b.classifier.IsCash(to)
	feeTicker := asset.Normalize(e.FeeCurrency)

	// What the TO side paid and what the FROM side received.
	var paid, proceeds *money

	switch {
	case hasFrom && fromCash:
		paid = &money{fromAmt, b.cashCurrency(from)}
	case hasFrom && hasTo && !toCash:
		// Asset-for-asset swap: both legs carry the cost of the units given up.
		if fp, ok := b.positions[from]; ok && fp.Quantity.IsPositive() {
			paid = &money{fromAmt.Mul(fp.AvgCost), fp.CostCurrency}
		} else {
			paid = &money{decimal.Zero, b.txCurrency(e, "")}
		}
		proceeds = paid
	}
	if hasTo && toCash {
		proceeds = &money{toAmt, b.cashCurrency(to)}
	}

	if hasTo {
		if paid == nil {
			// Transfer in: received at zero cost.
			paid = &money{decimal.Zero, b.txCurrency(e, from)}
		}
		fee := decimal.Zero
		if feeTicker != "" && feeTicker == to {
			fee = e.Fees
		}
		b.receive(e, to, toAmt, *paid, fee, fx)
	}

	if hasFrom {
		fee := decimal.Zero
		if feeTicker != "" && feeTicker == from {
			fee = e.Fees
		}
		b.give(e, from, fromAmt, proceeds, fee, fx)
	}
}

// receive applies the TO side: toAmount units of ticker arrive.
func (b *Builder) receive(e model.LedgerEntry, ticker string, units decimal.Decimal, paid money, fee, fx decimal.Decimal) {
	p := b.position(ticker, e.ToAssetType, paid.ccy)

	if b.classifier.IsCash(ticker) {
		p.Quantity = p.Quantity.Add(units)
		b.resetCash(p)
		return
	}

	cost := paid.in(p.CostCurrency, fx)

	if p.Quantity.IsNegative() {
		// Short cover.
		pricePerUnit := cost.Div(units)
		covered := decimal.Min(units, p.Quantity.Abs())
		p.RealizedPnL = p.RealizedPnL.Add(p.AvgCost.Sub(pricePerUnit).Mul(covered))
		p.Quantity = p.Quantity.Add(covered)
		p.CostBasis = p.Quantity.Abs().Mul(p.AvgCost)

		// Units beyond the short open a long at the cover price.
		if excess := units.Sub(covered); excess.GreaterThan(DustEpsilon) {
			p.Quantity = excess
			p.AvgCost = pricePerUnit
			p.CostBasis = excess.Mul(pricePerUnit)
		}
		return
	}

	// Weighted-average buy.
	p.Quantity = p.Quantity.Add(units)
	p.CostBasis = p.CostBasis.Add(cost.Add(fee))
	p.AvgCost = safeDiv(p.CostBasis, p.Quantity)
}

// give applies the FROM side: amount of ticker leaves the portfolio.
// proceeds is nil for a transfer out.
func (b *Builder) give(e model.LedgerEntry, ticker string, amount decimal.Decimal, proceeds *money, fee, fx decimal.Decimal) {
	ccy := b.txCurrency(e, "")
	if proceeds != nil {
		ccy = proceeds.ccy
	}
	p := b.position(ticker, e.FromAssetType, ccy)

	if b.classifier.IsCash(ticker) {
		p.Quantity = p.Quantity.Sub(amount.Add(fee))
		b.resetCash(p)
		return
	}

	if p.Quantity.IsPositive() {
		// Sell; avg cost is unchanged.
		sold := amount.Add(fee)
		costOfSold := sold.Mul(p.AvgCost)
		received := costOfSold
		if proceeds != nil {
			received = proceeds.in(p.CostCurrency, fx)
		}
		p.RealizedPnL = p.RealizedPnL.Add(received.Sub(costOfSold))
		p.CostBasis = p.CostBasis.Sub(costOfSold)
		p.Quantity = p.Quantity.Sub(sold)

		if p.Quantity.LessThan(DustEpsilon) {
			if p.Quantity.LessThan(DustEpsilon.Neg()) {
				b.warn(model.DiagOversell, p.Ticker,
					"sold %s units but only %s were held; position closed at zero",
					sold, sold.Add(p.Quantity))
			}
			p.Quantity = decimal.Zero
			p.CostBasis = decimal.Zero
		}
		return
	}

	// Short entry or add.
	received := decimal.Zero
	if proceeds != nil {
		received = proceeds.in(p.CostCurrency, fx)
	}
	pricePerUnit := received.Div(amount)
	prevShort := p.Quantity.Abs()
	p.AvgCost = safeDiv(prevShort.Mul(p.AvgCost).Add(amount.Mul(pricePerUnit)), prevShort.Add(amount))
	p.Quantity = p.Quantity.Sub(amount)
	p.CostBasis = p.Quantity.Abs().Mul(p.AvgCost)
}

// Finish runs the cleanup pass and returns a snapshot of every position,
// including closed ones (they carry realized P&L). The builder must not be
// used afterwards.
func (b *Builder) Finish() Result {
	tickers := make([]string, 0, len(b.positions))
	for t := range b.positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	out := make(map[string]model.Position, len(tickers))
	for _, t := range tickers {
		p := b.positions[t]

		if p.Quantity.Abs().LessThan(DustEpsilon) {
			p.Quantity = decimal.Zero
			p.CostBasis = decimal.Zero
		}
		if p.CostBasis.Abs().LessThan(DustEpsilon) {
			p.CostBasis = decimal.Zero
		}
		if p.CostBasis.IsNegative() {
			b.warn(model.DiagNegativeCostBasis, t,
				"cost basis %s is negative (units sold exceed cost held); clamped to 0", p.CostBasis)
			p.CostBasis = decimal.Zero
		}

		if b.classifier.IsCash(t) {
			b.resetCash(p)
		} else if !p.Quantity.IsZero() {
			p.AvgCost = p.CostBasis.Div(p.Quantity.Abs())
		}
		out[t] = *p
	}

	diags := make([]model.Diagnostic, len(b.diags))
	copy(diags, b.diags)
	return Result{Positions: out, Diagnostics: diags}
}

// position returns the position for ticker, creating it if needed.
func (b *Builder) position(ticker, assetType string, ccy model.Currency) *model.Position {
	p, ok := b.positions[ticker]
	if !ok {
		p = &model.Position{
			Ticker:       ticker,
			AssetType:    b.classifier.Kind(ticker, assetType),
			CostCurrency: ccy.OrUSD(),
		}
		if b.classifier.IsCash(ticker) {
			p.CostCurrency = model.USD
			p.AvgCost = b.classifier.CashFaceValueUSD(ticker, b.fxRate)
		}
		b.positions[ticker] = p
		return p
	}
	if p.AssetType == asset.TypeOther && assetType != "" {
		p.AssetType = b.classifier.Kind(ticker, assetType)
	}
	return p
}

// resetCash forces face-value accounting on a cash position.
func (b *Builder) resetCash(p *model.Position) {
	p.CostCurrency = model.USD
	p.AvgCost = b.classifier.CashFaceValueUSD(p.Ticker, b.fxRate)
	p.CostBasis = p.Quantity.Abs().Mul(p.AvgCost)
}

// cashCurrency is the currency a cash ticker's amounts are denominated in.
func (b *Builder) cashCurrency(ticker string) model.Currency {
	if b.classifier.IsTHBCash(ticker) {
		return model.THB
	}
	return model.USD
}

// txCurrency is the entry's stated currency. With none stated, a THB cash
// counter leg implies THB; otherwise USD.
func (b *Builder) txCurrency(e model.LedgerEntry, counter string) model.Currency {
	if e.TransactionCurrency != "" {
		return e.TransactionCurrency
	}
	if counter != "" && b.classifier.IsTHBCash(counter) {
		return model.THB
	}
	return model.USD
}

func (b *Builder) warn(kind model.DiagnosticKind, ticker, format string, args ...any) {
	b.diags = append(b.diags, model.Diagnostic{
		Kind:    kind,
		Ticker:  ticker,
		Message: fmt.Sprintf(format, args...),
	})
}

// safeDiv returns num/den, or zero when den is zero.
func safeDiv(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}
