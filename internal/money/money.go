// Package money provides fixed-point currency arithmetic for the platform.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Amounts carry two decimal places; ties round half-up (away from zero).
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places carried by every amount.
const Places = 2

var (
	ErrInvalidAmount = errors.New("invalid amount")

	// Zero is the canonical zero amount.
	Zero = decimal.Zero
)

// Quantize rounds an amount to currency precision, half-up.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse converts a user-supplied string into a quantized amount.
// Rejects empty strings, malformed numbers, and more than two
// decimal places of input precision.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Exponent() < -Places {
		return decimal.Zero, ErrInvalidAmount
	}
	return Quantize(d), nil
}

// ParsePositive is Parse with an additional amount > 0 check.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// Total computes unitPrice × quantity at currency precision.
func Total(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return Quantize(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// Fee computes the platform fee for a given total at feePercent
// (e.g. "5.00" for 5%). The result is clamped to [0, total].
func Fee(total, feePercent decimal.Decimal) decimal.Decimal {
	fee := Quantize(total.Mul(feePercent).Div(decimal.NewFromInt(100)))
	if fee.Sign() < 0 {
		return decimal.Zero
	}
	if fee.GreaterThan(total) {
		return total
	}
	return fee
}

// Format renders an amount with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
