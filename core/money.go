/*
money.go - Fixed-point monetary helpers

PURPOSE:
  All monetary values in the core are decimal.Decimal, never binary
  floating point. Internal arithmetic is exact; half-up rounding to the
  two-decimal display scale happens only at display and conversion
  boundaries.

KEY FUNCTIONS:
  - MustDecimal:  Parse a literal (tests, policy tables)
  - Display:      Render at two decimals, half-up
  - Convert:      Apply a caller-supplied rate, round at the boundary

The core never decides conversion policy; it accepts a precomputed rate.
*/
package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DisplayScale is the number of decimal places shown to users.
const DisplayScale = 2

// MustDecimal parses a decimal literal, panicking on malformed input. It
// is for compile-time constants like fee tables and test fixtures, where
// a parse failure is a programming error that must not become a zero fee.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("core: invalid decimal literal %q: %v", s, err))
	}
	return d
}

// Display renders a monetary value at the two-decimal display scale.
// Rounding is half-up and applies only here, never to stored values.
func Display(d decimal.Decimal) string {
	return d.Round(DisplayScale).StringFixed(DisplayScale)
}

// Convert applies a precomputed exchange rate to a stored value and rounds
// at the conversion boundary. Stored values always remain in the order's
// native currency.
func Convert(d, rate decimal.Decimal) decimal.Decimal {
	return d.Mul(rate).Round(DisplayScale)
}

// NonNegative clamps a value at zero. Balance due is floored this way so
// overpayment never produces a negative balance.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
