// Package currency implements the USD/THB linear conversion used for cost
// and display values. No other currency pairs are supported.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

// DefaultUSDTHB is the fallback rate used whenever no positive rate is known.
var DefaultUSDTHB = decimal.NewFromFloat(35.0)

var ErrUnsupported = errors.New("currency: unsupported currency")

// Parse validates a currency code at the service boundary.
// An empty string parses as USD.
func Parse(s string) (model.Currency, error) {
	switch model.Currency(strings.ToUpper(strings.TrimSpace(s))) {
	case "", model.USD:
		return model.USD, nil
	case model.THB:
		return model.THB, nil
	}
	return "", fmt.Errorf("%w: %q (expected USD or THB)", ErrUnsupported, s)
}

// Rate returns r when positive, otherwise fallback when positive,
// otherwise DefaultUSDTHB. The result is always > 0.
func Rate(r, fallback decimal.Decimal) decimal.Decimal {
	if r.IsPositive() {
		return r
	}
	if fallback.IsPositive() {
		return fallback
	}
	return DefaultUSDTHB
}

// Convert moves amount from one currency to another at usdthb THB per USD.
// Empty codes mean USD.
func Convert(amount decimal.Decimal, from, to model.Currency, usdthb decimal.Decimal) decimal.Decimal {
	from, to = from.OrUSD(), to.OrUSD()
	if from == to || amount.IsZero() {
		return amount
	}
	rate := Rate(usdthb, decimal.Zero)
	if from == model.USD && to == model.THB {
		return amount.Mul(rate)
	}
	return amount.Div(rate)
}
