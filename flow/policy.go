/*
policy.go - Expected amount per appointment type

The expected amount is an intake-desk hint, not a ledger value: the
charge order starts at zero regardless and grows from actual items.
Amounts here are overridable per appointment at creation.
*/
package flow

import (
	"github.com/shopspring/decimal"

	"github.com/ungardev/medops/core"
)

// AmountPolicy maps appointment types to their expected amounts.
type AmountPolicy map[AppointmentType]decimal.Decimal

// DefaultAmountPolicy returns the stock fee table. Deployments override
// via configuration.
func DefaultAmountPolicy() AmountPolicy {
	return AmountPolicy{
		TypeConsultation: core.MustDecimal("50.00"),
		TypeFollowUp:     core.MustDecimal("30.00"),
		TypeProcedure:    core.MustDecimal("120.00"),
		TypeEmergency:    core.MustDecimal("80.00"),
	}
}

// ExpectedAmount resolves the amount for a type; unknown types expect
// zero.
func (p AmountPolicy) ExpectedAmount(t AppointmentType) decimal.Decimal {
	if amt, ok := p[t]; ok {
		return amt
	}
	return decimal.Zero
}

// Known reports whether the type has a policy entry.
func (p AmountPolicy) Known(t AppointmentType) bool {
	_, ok := p[t]
	return ok
}
