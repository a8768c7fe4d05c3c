package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

// Rounding applied to summary outputs.
const (
	MoneyPlaces   int32 = 2
	PercentPlaces int32 = 4
)

// ComputeSummary aggregates enriched positions. Cash contributes to value
// only. Shorts count as a liability: their value is subtracted.
// UnrealizedPnL sums per-position P&L over non-cash rows rather than taking
// value minus cost, which would have the wrong sign for shorts.
func ComputeSummary(positions []model.EnrichedPosition, display model.Currency) model.Summary {
	var invested, cash, cost, unrealized, realized decimal.Decimal
	var count, shorts int

	for _, p := range positions {
		value := p.CurrentValue
		if p.IsShort {
			value = value.Neg()
			shorts++
		}
		count++

		if p.IsCash {
			cash = cash.Add(value)
			continue
		}
		invested = invested.Add(value)
		cost = cost.Add(p.CostBasis)
		unrealized = unrealized.Add(p.UnrealizedPnL)
		realized = realized.Add(p.RealizedPnL)
	}

	pct := decimal.Zero
	if !cost.IsZero() {
		pct = unrealized.Div(cost).Mul(hundred)
	}

	return model.Summary{
		DisplayCurrency:  display.OrUSD(),
		TotalValue:       invested.Add(cash).Round(MoneyPlaces),
		InvestedValue:    invested.Round(MoneyPlaces),
		CashValue:        cash.Round(MoneyPlaces),
		TotalCost:        cost.Round(MoneyPlaces),
		UnrealizedPnL:    unrealized.Round(MoneyPlaces),
		UnrealizedPnLPct: pct.Round(PercentPlaces),
		RealizedPnL:      realized.Round(MoneyPlaces),
		PositionCount:    count,
		ShortCount:       shorts,
	}
}
