package paypal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders minor units as the decimal string PayPal expects ("12.50").
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseAmount converts a PayPal decimal string back to minor units. Values
// with more than two fractional digits are rejected rather than rounded.
func ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	shifted := d.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has sub-cent precision", value)
	}
	return shifted.IntPart(), nil
}

// CurrencyCode upper-cases an ISO currency for the PayPal API.
func CurrencyCode(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func money(currency string, cents int64) Money {
	return Money{CurrencyCode: CurrencyCode(currency), Value: FormatAmount(cents)}
}
