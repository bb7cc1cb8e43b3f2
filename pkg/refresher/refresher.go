// Package refresher brings a credit's billing record up to a given point
// in time: rolling period boundaries forward, moving unpaid dues into the
// past-due buckets, accruing the late fee, and recomputing the credit
// state. Refresh is pure and idempotent; callers persist the result.
package refresher

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pooledfi/creditbill/pkg/calendar"
	"github.com/pooledfi/creditbill/pkg/duecalc"
	"github.com/pooledfi/creditbill/pkg/feemath"
	"github.com/pooledfi/creditbill/pkg/models"
)

// Input bundles everything Refresh reads. Settings and Fees are passed
// explicitly so the function stays pure and testable.
type Input struct {
	Config   models.CreditConfig
	Record   models.CreditRecord
	Due      models.DueDetail
	Settings models.PoolSettings
	Fees     models.FeeStructure
}

// Result is the refreshed record and due detail plus bookkeeping for the
// caller.
type Result struct {
	Record models.CreditRecord
	Due    models.DueDetail

	// Changed is false when the refresh was a no-op and nothing needs
	// persisting.
	Changed bool

	// PeriodsRolled is how many period boundaries were crossed.
	PeriodsRolled int

	// Truncated is set when more boundaries had passed than the credit
	// had remaining periods. At maturity this is expected; before
	// maturity it signals a corrupted record and the caller should log
	// it, not fail.
	Truncated bool
}

// Refresh advances the record to now. It never fails on well-formed
// state: records in states that do not bill (approved before first
// drawdown, paused, defaulted, deleted) are returned unchanged, as is any
// record whose next due date has not yet been reached.
func Refresh(in Input, now time.Time) Result {
	rec := in.Record
	dd := in.Due

	switch rec.State {
	case models.StateGoodStanding, models.StateDelayed:
		// billable, fall through
	case models.StateApproved, models.StatePaused, models.StateDefaulted, models.StateDeleted:
		return Result{Record: rec, Due: dd}
	default:
		return Result{Record: rec, Due: dd}
	}

	if rec.NextDueDate.IsZero() || !now.After(rec.NextDueDate) {
		return Result{Record: rec, Due: dd}
	}

	duration := in.Config.PeriodDuration
	graceDays := in.Settings.LatePaymentGracePeriodDays
	entryDueDate := rec.NextDueDate
	periodsPassed := calendar.NumPeriodsPassed(duration, rec.NextDueDate, now)

	changed := false
	rolled := 0
	truncated := false
	for i := 0; i < periodsPassed; i++ {
		if rec.RemainingPeriods == 0 {
			// Maturity reached. The final bill, if unpaid, still goes
			// past due; nothing further is billed.
			if sweepUnpaidDue(&rec, &dd, now, graceDays) {
				changed = true
			}
			truncated = true
			break
		}

		if sweepUnpaidDue(&rec, &dd, now, graceDays) {
			changed = true
		}

		rec.RemainingPeriods--
		final := rec.RemainingPeriods == 0
		days := calendar.DaysInPeriod(duration, rec.NextDueDate)
		nd := duecalc.ComputeNextDue(in.Config, rec.UnbilledPrincipal, days,
			in.Fees.MinPrincipalRateBps, final)

		rec.YieldDue = nd.YieldNextDue
		rec.NextDue = nd.YieldNextDue.Add(nd.PrincipalNextDue)
		rec.UnbilledPrincipal = nd.NewUnbilled
		rec.NextDueDate = calendar.StartOfNextPeriod(duration, rec.NextDueDate)
		dd.Accrued = nd.Accrued
		dd.Committed = nd.Committed
		dd.Paid = decimal.Zero
		rolled++
		changed = true
	}

	pastGrace := now.After(addDays(entryDueDate, graceDays))
	if pastGrace && rec.TotalPastDue.Sign() > 0 {
		if refreshLateFee(&rec, &dd, in.Fees, now) {
			changed = true
		}
	}

	if next := nextState(rec, dd, pastGrace); next != rec.State {
		rec.State = next
		changed = true
	}

	return Result{
		Record:        rec,
		Due:           dd,
		Changed:       changed,
		PeriodsRolled: rolled,
		Truncated:     truncated,
	}
}

// sweepUnpaidDue moves an unpaid next-due bill into the past-due buckets.
// The period counts as missed only once its grace window has elapsed.
func sweepUnpaidDue(rec *models.CreditRecord, dd *models.DueDetail, now time.Time, graceDays int) bool {
	if rec.NextDue.Sign() <= 0 {
		return false
	}
	dd.YieldPastDue = dd.YieldPastDue.Add(rec.YieldDue)
	dd.PrincipalPastDue = dd.PrincipalPastDue.Add(rec.PrincipalDue())
	rec.TotalPastDue = rec.TotalPastDue.Add(rec.NextDue)
	if now.After(addDays(rec.NextDueDate, graceDays)) {
		rec.MissedPeriods++
	}
	rec.NextDue = decimal.Zero
	rec.YieldDue = decimal.Zero
	return true
}

// refreshLateFee recomputes the late fee from scratch on the outstanding
// principal and stamps the update date. Recomputing, rather than adding,
// keeps repeated refreshes from double-accruing: two refreshes at the
// same instant produce the same fee. TotalPastDue carries the late fee,
// so the delta is applied there too.
func refreshLateFee(rec *models.CreditRecord, dd *models.DueDetail, fees models.FeeStructure, now time.Time) bool {
	today := calendar.StartOfDay(now)
	if !dd.LateFeeUpdatedDate.IsZero() && !today.After(dd.LateFeeUpdatedDate) {
		return false
	}
	outstanding := rec.UnbilledPrincipal.
		Add(rec.PrincipalDue()).
		Add(dd.PrincipalPastDue)
	newFee := feemath.LateFee(outstanding, fees.LateFeeFlat, fees.LateFeeBps)
	if newFee.Equal(dd.LateFee) && !dd.LateFeeUpdatedDate.IsZero() {
		dd.LateFeeUpdatedDate = today
		return true
	}
	rec.TotalPastDue = rec.TotalPastDue.Sub(dd.LateFee).Add(newFee)
	dd.LateFee = newFee
	dd.LateFeeUpdatedDate = today
	return true
}

// nextState applies the state rules after a roll: fully wound down goes
// Deleted, anything missed or past due beyond grace goes Delayed,
// otherwise the credit is in good standing.
func nextState(rec models.CreditRecord, dd models.DueDetail, pastGrace bool) models.CreditState {
	switch {
	case rec.RemainingPeriods == 0 && rec.ZeroRecord() && dd.LateFee.IsZero():
		return models.StateDeleted
	case rec.MissedPeriods > 0:
		return models.StateDelayed
	case rec.TotalPastDue.Sign() > 0 && pastGrace:
		return models.StateDelayed
	default:
		return models.StateGoodStanding
	}
}

func addDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}
