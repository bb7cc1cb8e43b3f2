// Package duecalc computes the due split for a single period boundary:
// how much yield and principal become next-due, and how much principal
// stays unbilled.
package duecalc

import (
	"github.com/shopspring/decimal"

	"github.com/pooledfi/creditbill/pkg/feemath"
	"github.com/pooledfi/creditbill/pkg/models"
)

// NextDue is the outcome of billing one period.
type NextDue struct {
	YieldNextDue     decimal.Decimal
	PrincipalNextDue decimal.Decimal
	NewUnbilled      decimal.Decimal
	Accrued          decimal.Decimal // yield on principal actually drawn
	Committed        decimal.Decimal // extra yield from the committed-amount floor
}

// ComputeNextDue bills one period of daysInPeriod days against the given
// unbilled principal.
//
// Yield is charged on max(unbilledPrincipal, committedAmount): the accrued
// part is the yield on what was actually drawn, and any shortfall against
// the commitment is reported separately as Committed. Principal comes due
// at minPrincipalRateBps of the unbilled balance (zero means
// interest-only), except on the final period, which absorbs the whole
// remaining unbilled balance. finalPeriod is true when the period being
// billed is the credit's last (remainingPeriods after the decrement is 0).
func ComputeNextDue(cfg models.CreditConfig, unbilledPrincipal decimal.Decimal,
	daysInPeriod int, minPrincipalRateBps int64, finalPeriod bool) NextDue {

	accrued := feemath.ProratedYield(unbilledPrincipal, cfg.YieldBps, daysInPeriod)
	committed := decimal.Zero
	if cfg.CommittedAmount.GreaterThan(unbilledPrincipal) {
		onCommitted := feemath.ProratedYield(cfg.CommittedAmount, cfg.YieldBps, daysInPeriod)
		committed = onCommitted.Sub(accrued)
	}

	var principalDue decimal.Decimal
	switch {
	case finalPeriod:
		principalDue = unbilledPrincipal
	case minPrincipalRateBps > 0:
		principalDue = unbilledPrincipal.
			Mul(decimal.NewFromInt(minPrincipalRateBps)).
			Div(decimal.NewFromInt(10000)).
			Floor()
	default:
		principalDue = decimal.Zero
	}

	return NextDue{
		YieldNextDue:     accrued.Add(committed),
		PrincipalNextDue: principalDue,
		NewUnbilled:      unbilledPrincipal.Sub(principalDue),
		Accrued:          accrued,
		Committed:        committed,
	}
}
