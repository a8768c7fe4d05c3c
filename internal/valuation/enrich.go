// Package valuation marks folded positions to market in a display currency,
// aggregates them into a portfolio summary and runs advisory sanity checks.
package valuation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/asset"
	"github.com/watersalamander/portfolio-dashboard/internal/currency"
	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

var hundred = decimal.NewFromInt(100)

type options struct {
	classifier *asset.Classifier
}

// Option configures EnrichPositions and ValidatePositions.
type Option func(*options)

// WithClassifier sets the cash classifier (default asset.Default). Pass the
// same classifier the positions were folded with.
func WithClassifier(c *asset.Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

func newOptions(opts []Option) options {
	o := options{classifier: asset.Default}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EnrichPositions joins positions with a price snapshot and converts every
// figure to display at fxRate THB per USD.
//
// Closed positions are skipped. Non-cash positions without a quote are
// omitted. Cash is the exception: without a quote it is priced at face value
// so a balance never drops out of the view. The result lists
// non-cash before cash, each group by |CurrentValue| descending, ties in
// ticker order.
func EnrichPositions(positions map[string]model.Position, prices map[string]model.Quote, fxRate decimal.Decimal, display model.Currency, opts ...Option) []model.EnrichedPosition {
	cash := newOptions(opts).classifier
	fx := currency.Rate(fxRate, currency.DefaultUSDTHB)
	display = display.OrUSD()

	tickers := make([]string, 0, len(positions))
	for t := range positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	out := make([]model.EnrichedPosition, 0, len(tickers))
	for _, t := range tickers {
		p := positions[t]
		if p.Quantity.IsZero() {
			continue
		}
		isCash := cash.IsCash(p.Ticker)

		quote, ok := lookupQuote(prices, p.Ticker)
		if !ok {
			if !isCash {
				continue
			}
			quote = faceQuote(cash, p.Ticker)
		}

		price := currency.Convert(quote.Price, quote.Currency, display, fx)
		avgCost := currency.Convert(p.AvgCost, p.CostCurrency, display, fx)
		absQty := p.Quantity.Abs()
		value := price.Mul(absQty)
		cost := avgCost.Mul(absQty)

		pnl := value.Sub(cost)
		if p.IsShort() {
			pnl = cost.Sub(value)
		}
		pct := decimal.Zero
		if !cost.IsZero() {
			pct = pnl.Div(cost).Mul(hundred)
		}

		out = append(out, model.EnrichedPosition{
			Ticker:           p.Ticker,
			AssetType:        p.AssetType,
			IsCash:           isCash,
			IsShort:          p.IsShort(),
			Quantity:         p.Quantity,
			AvgCost:          avgCost,
			CostBasis:        cost,
			CurrentPrice:     price,
			CurrentValue:     value,
			UnrealizedPnL:    pnl,
			UnrealizedPnLPct: pct,
			RealizedPnL:      currency.Convert(p.RealizedPnL, p.CostCurrency, display, fx),
			DisplayCurrency:  display,
			PriceUpdatedAt:   quote.UpdatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsCash != out[j].IsCash {
			return !out[i].IsCash
		}
		return out[i].CurrentValue.Abs().GreaterThan(out[j].CurrentValue.Abs())
	})
	return out
}

func lookupQuote(prices map[string]model.Quote, ticker string) (model.Quote, bool) {
	if q, ok := prices[ticker]; ok {
		return q, true
	}
	q, ok := prices[asset.Normalize(ticker)]
	return q, ok
}

// faceQuote prices one unit of cash in its own currency.
func faceQuote(cash *asset.Classifier, ticker string) model.Quote {
	ccy := model.USD
	if cash.IsTHBCash(ticker) {
		ccy = model.THB
	}
	return model.Quote{Ticker: ticker, Price: decimal.NewFromInt(1), Currency: ccy}
}
