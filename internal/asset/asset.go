// Package asset classifies tickers as cash-like or investable and yields the
// face value of cash instruments.
//
// Cash-likeness is explicit configuration (an allow-list plus naming
// conventions), never inferred from price data.
package asset

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/currency"
)

// Supported asset types.
const (
	TypeStock      = "stock"
	TypeCrypto     = "crypto"
	TypeETF        = "etf"
	TypeFund       = "fund"
	TypeBond       = "bond"
	TypeCommodity  = "commodity"
	TypeCash       = "cash"
	TypeStablecoin = "stablecoin"
	TypeOther      = "other"
)

var validTypes = map[string]bool{
	TypeStock:      true,
	TypeCrypto:     true,
	TypeETF:        true,
	TypeFund:       true,
	TypeBond:       true,
	TypeCommodity:  true,
	TypeCash:       true,
	TypeStablecoin: true,
	TypeOther:      true,
}

// ValidType reports whether s is a supported asset type.
func ValidType(s string) bool {
	return validTypes[strings.ToLower(strings.TrimSpace(s))]
}

// DefaultCashTickers is the allow-list of fiat and stablecoin tickers.
var DefaultCashTickers = []string{
	"USD", "THB",
	"USDT", "USDC", "BUSD", "DAI", "TUSD", "FRAX",
	"USDP", "GUSD", "PYUSD", "FDUSD", "LUSD", "USDD",
}

var fiatTickers = map[string]bool{"USD": true, "THB": true}

// stablePattern matches bridged or wrapped stablecoin variants such as
// USDC.E or USDT-ERC20.
var stablePattern = regexp.MustCompile(`^(USDT|USDC)[.\-_][A-Z0-9]+$`)

// Classifier decides whether a ticker is cash-like.
type Classifier struct {
	cash map[string]bool
}

// NewClassifier returns a Classifier over DefaultCashTickers plus extra.
func NewClassifier(extra ...string) *Classifier {
	c := &Classifier{cash: make(map[string]bool, len(DefaultCashTickers)+len(extra))}
	for _, t := range DefaultCashTickers {
		c.cash[Normalize(t)] = true
	}
	for _, t := range extra {
		c.cash[Normalize(t)] = true
	}
	return c
}

// Default is the classifier used by the package-level helpers.
var Default = NewClassifier()

// Normalize uppercases and trims a ticker. Positions are keyed by it.
func Normalize(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// IsCash reports whether ticker is cash or a stablecoin.
func (c *Classifier) IsCash(ticker string) bool {
	t := Normalize(ticker)
	if t == "" {
		return false
	}
	if c.cash[t] || stablePattern.MatchString(t) {
		return true
	}
	// CASH-*, *-CASH and *-CASH-* (e.g. SCB-CASH-THB).
	for _, seg := range strings.Split(t, "-") {
		if seg == "CASH" && t != "CASH" {
			return true
		}
	}
	return false
}

// IsTHBCash reports whether ticker is THB-denominated cash.
func (c *Classifier) IsTHBCash(ticker string) bool {
	t := Normalize(ticker)
	switch t {
	case "THB", "CASH-THB", "THB-CASH":
		return true
	}
	return strings.HasSuffix(t, "-THB") && c.IsCash(t) && !stablePattern.MatchString(t)
}

// CashFaceValueUSD returns the USD value of one unit of a cash ticker:
// 1/fxRate for THB cash, 1 for everything else. A non-positive fxRate
// falls back to currency.DefaultUSDTHB.
func (c *Classifier) CashFaceValueUSD(ticker string, fxRate decimal.Decimal) decimal.Decimal {
	if !c.IsTHBCash(ticker) {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(1).Div(currency.Rate(fxRate, currency.DefaultUSDTHB))
}

// Kind returns the stated asset type when it is a known type, otherwise
// cash or stablecoin for cash-like tickers and other for the rest.
func (c *Classifier) Kind(ticker, stated string) string {
	s := strings.ToLower(strings.TrimSpace(stated))
	if validTypes[s] {
		return s
	}
	if !c.IsCash(ticker) {
		return TypeOther
	}
	if fiatTickers[Normalize(ticker)] || c.IsTHBCash(ticker) {
		return TypeCash
	}
	return TypeStablecoin
}

// IsCash reports whether ticker is cash-like under the default classifier.
func IsCash(ticker string) bool { return Default.IsCash(ticker) }

// IsTHBCash reports whether ticker is THB cash under the default classifier.
func IsTHBCash(ticker string) bool { return Default.IsTHBCash(ticker) }

// CashFaceValueUSD uses the default classifier.
func CashFaceValueUSD(ticker string, fxRate decimal.Decimal) decimal.Decimal {
	return Default.CashFaceValueUSD(ticker, fxRate)
}
