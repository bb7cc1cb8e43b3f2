// Package allocator applies an incoming payment through the waterfall:
// late fee, past-due yield, past-due principal, next-due yield, next-due
// principal, then unbilled principal. Whatever is left is returned as a
// residual for the caller to refund or reject; it is never auto-applied.
package allocator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pooledfi/creditbill/pkg/calendar"
	"github.com/pooledfi/creditbill/pkg/models"
)

// Input bundles the state a payment is applied against. The caller is
// expected to have refreshed the record to now first.
type Input struct {
	Record   models.CreditRecord
	Due      models.DueDetail
	Settings models.PoolSettings
	Duration models.PeriodDuration
}

// Result is the post-payment record and due detail plus the per-bucket
// amounts consumed. Waterfall.Applied() + Waterfall.Residual always
// equals the payment amount.
type Result struct {
	Record    models.CreditRecord
	Due       models.DueDetail
	Waterfall models.Waterfall
}

// Allocate runs the waterfall. It is pure: inputs are copied, never
// mutated, and it is total for any non-negative payment amount.
func Allocate(in Input, payment decimal.Decimal, now time.Time) Result {
	rec := in.Record
	dd := in.Due
	remaining := payment

	var w models.Waterfall
	w.LateFee = take(&dd.LateFee, &remaining)
	w.YieldPastDue = take(&dd.YieldPastDue, &remaining)
	w.PrincipalPastDue = take(&dd.PrincipalPastDue, &remaining)

	pastDuePaid := w.LateFee.Add(w.YieldPastDue).Add(w.PrincipalPastDue)
	rec.TotalPastDue = rec.TotalPastDue.Sub(pastDuePaid)

	w.YieldNextDue = take(&rec.YieldDue, &remaining)
	dd.Paid = dd.Paid.Add(w.YieldNextDue)
	rec.NextDue = rec.NextDue.Sub(w.YieldNextDue)

	principalDue := rec.PrincipalDue()
	w.PrincipalNextDue = take(&principalDue, &remaining)
	rec.NextDue = rec.NextDue.Sub(w.PrincipalNextDue)

	w.UnbilledPrincipal = take(&rec.UnbilledPrincipal, &remaining)
	w.Residual = remaining

	// Full cure resets the delinquency counters.
	if rec.TotalPastDue.IsZero() {
		rec.MissedPeriods = 0
		dd.LateFeeUpdatedDate = time.Time{}
	}

	// A payment arriving after the grace window on a due date that was
	// never rolled forward pushes the cycle to the next boundary.
	if !rec.NextDueDate.IsZero() &&
		now.After(rec.NextDueDate.AddDate(0, 0, in.Settings.LatePaymentGracePeriodDays)) {
		rec.NextDueDate = calendar.StartOfNextPeriod(in.Duration, now)
	}

	rec.State = stateAfterPayment(rec)

	return Result{Record: rec, Due: dd, Waterfall: w}
}

// take consumes min(*bucket, *remaining) from both and returns it.
func take(bucket, remaining *decimal.Decimal) decimal.Decimal {
	paid := decimal.Min(*bucket, *remaining)
	if paid.Sign() <= 0 {
		return decimal.Zero
	}
	*bucket = bucket.Sub(paid)
	*remaining = remaining.Sub(paid)
	return paid
}

func stateAfterPayment(rec models.CreditRecord) models.CreditState {
	woundDown := rec.RemainingPeriods == 0 && rec.ZeroRecord()

	switch rec.State {
	case models.StateGoodStanding, models.StateDelayed:
		switch {
		case woundDown:
			return models.StateDeleted
		case rec.MissedPeriods != 0:
			return models.StateDelayed
		default:
			return models.StateGoodStanding
		}
	case models.StateDefaulted:
		// A defaulted credit stays defaulted until fully wound down.
		if woundDown {
			return models.StateDeleted
		}
		return models.StateDefaulted
	case models.StateApproved, models.StatePaused, models.StateDeleted:
		return rec.State
	default:
		return rec.State
	}
}
