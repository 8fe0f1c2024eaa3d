// Package money converts between boundary decimal strings and the int64
// minor-unit representation used everywhere inside the core. Amounts never
// pass through binary floats.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has more than two decimal places")
)

// ParseMinor parses a decimal string ("12.34", "-0.5", "100") into minor
// units. Anything that does not round-trip at two decimal places is refused.
func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	shifted := parsed.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrTooManyDecimals
	}
	if !shifted.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}
	return shifted.IntPart(), nil
}

// FormatMinor renders minor units as a two-decimal string.
func FormatMinor(value int64) string {
	return decimal.New(value, -2).StringFixed(2)
}

// DecimalFromMinor exposes a minor-unit value as a decimal for ratio math
// (dashboard variations); balances themselves stay in minor units.
func DecimalFromMinor(value int64) decimal.Decimal {
	return decimal.New(value, -2)
}
