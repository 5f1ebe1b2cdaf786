// Package types provides the Money type and rounding helpers.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
type Money = decimal.Decimal

// MoneyScale is the number of fractional digits persisted for amounts.
const MoneyScale int32 = 2

var hundred = decimal.NewFromInt(100)

// NewMoneyFromString parses a decimal amount. Empty input is zero.
func NewMoneyFromString(s string) (Money, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse money %q: %w", s, err)
	}
	return d, nil
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	return decimal.RequireFromString(s)
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// Round2 rounds half away from zero to two places, which is half-up for
// the non-negative amounts handled here.
func Round2(m Money) Money {
	return m.Round(MoneyScale)
}

// Percent returns m * rate / 100 without rounding.
func Percent(m, rate Money) Money {
	return m.Mul(rate).Div(hundred)
}

// Min returns the smaller amount.
func Min(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger amount.
func Max(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// NonNegative clamps negative amounts to zero.
func NonNegative(m Money) Money {
	if m.IsNegative() {
		return decimal.Zero
	}
	return m
}
