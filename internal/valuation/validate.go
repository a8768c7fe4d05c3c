package valuation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/currency"
	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

// FaceValueTolerance bounds how far a cash avg cost may sit from face value.
var FaceValueTolerance = decimal.New(1, -6)

// ValidatePositions runs advisory checks over folded positions. Findings
// are diagnostics for a human to look at; nothing here is an error.
func ValidatePositions(positions map[string]model.Position, fxRate decimal.Decimal, opts ...Option) []model.Diagnostic {
	cash := newOptions(opts).classifier
	fx := currency.Rate(fxRate, currency.DefaultUSDTHB)

	tickers := make([]string, 0, len(positions))
	for t := range positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	diags := []model.Diagnostic{}
	add := func(kind model.DiagnosticKind, ticker, format string, args ...any) {
		diags = append(diags, model.Diagnostic{Kind: kind, Ticker: ticker, Message: fmt.Sprintf(format, args...)})
	}

	for _, t := range tickers {
		p := positions[t]
		isCash := cash.IsCash(t)

		if p.Quantity.IsPositive() && p.CostBasis.IsNegative() {
			add(model.DiagNegativeCostBasis, t, "long of %s units has negative cost basis %s", p.Quantity, p.CostBasis)
		}
		if p.AvgCost.IsNegative() {
			add(model.DiagNegativeAvgCost, t, "average cost %s is negative", p.AvgCost)
		}
		if isCash {
			face := cash.CashFaceValueUSD(t, fx)
			if p.AvgCost.Sub(face).Abs().GreaterThan(FaceValueTolerance) {
				add(model.DiagCashFaceValueDrift, t, "cash avg cost %s deviates from face value %s", p.AvgCost, face)
			}
		}
		if p.Quantity.IsNegative() {
			if isCash {
				add(model.DiagNegativeQuantity, t, "negative cash balance %s; check for missing deposits", p.Quantity)
			} else {
				add(model.DiagNegativeQuantity, t, "short position of %s units; confirm it is intentional", p.Quantity.Abs())
			}
		}
	}
	return diags
}
