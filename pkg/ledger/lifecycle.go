package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pooledfi/creditbill/pkg/apperrors"
	"github.com/pooledfi/creditbill/pkg/calendar"
	"github.com/pooledfi/creditbill/pkg/duecalc"
	"github.com/pooledfi/creditbill/pkg/feemath"
	"github.com/pooledfi/creditbill/pkg/models"
)

// ApproveParams are the terms of a new credit line.
type ApproveParams struct {
	BorrowerKey         string                `json:"borrower_key"`
	CreditLimit         decimal.Decimal       `json:"credit_limit"`
	CommittedAmount     decimal.Decimal       `json:"committed_amount"`
	PeriodDuration      models.PeriodDuration `json:"period_duration"`
	NumOfPeriods        int                   `json:"num_of_periods"`
	YieldBps            int64                 `json:"yield_bps"`
	Revolving           bool                  `json:"revolving"`
	ReceivableBacked    bool                  `json:"receivable_backed"`
	BorrowerLevelCredit bool                  `json:"borrower_level_credit"`
	Exclusive           bool                  `json:"exclusive"`
}

func (l *Ledger) validateApproveParams(p ApproveParams) error {
	if p.BorrowerKey == "" {
		return fmt.Errorf("%w: borrower key is empty", apperrors.ErrInvalidParameter)
	}
	if p.CreditLimit.Sign() <= 0 {
		return fmt.Errorf("%w: credit limit must be positive", apperrors.ErrInvalidParameter)
	}
	if p.NumOfPeriods <= 0 {
		return fmt.Errorf("%w: number of periods must be positive", apperrors.ErrInvalidParameter)
	}
	if p.YieldBps < 0 {
		return fmt.Errorf("%w: yield bps must not be negative", apperrors.ErrInvalidParameter)
	}
	if p.CommittedAmount.GreaterThan(p.CreditLimit) {
		return fmt.Errorf("%w: committed amount %s exceeds credit limit %s",
			apperrors.ErrInvalidParameter, p.CommittedAmount, p.CreditLimit)
	}
	if l.settings.MaxCreditLine.Sign() > 0 && p.CreditLimit.GreaterThan(l.settings.MaxCreditLine) {
		return fmt.Errorf("%w: credit limit %s exceeds pool maximum %s",
			apperrors.ErrInvalidParameter, p.CreditLimit, l.settings.MaxCreditLine)
	}
	return nil
}

func configFromParams(p ApproveParams) models.CreditConfig {
	return models.CreditConfig{
		CreditLimit:         p.CreditLimit,
		CommittedAmount:     p.CommittedAmount,
		PeriodDuration:      p.PeriodDuration,
		NumOfPeriods:        p.NumOfPeriods,
		YieldBps:            p.YieldBps,
		Revolving:           p.Revolving,
		ReceivableBacked:    p.ReceivableBacked,
		BorrowerLevelCredit: p.BorrowerLevelCredit,
		Exclusive:           p.Exclusive,
	}
}

// Approve creates a credit line in the approved state. No billing starts
// until the first drawdown.
func (l *Ledger) Approve(p ApproveParams) (*models.Credit, error) {
	if err := l.validateApproveParams(p); err != nil {
		return nil, err
	}

	now := l.clock.Now()
	credit := &models.Credit{
		ID:          uuid.New(),
		BorrowerKey: p.BorrowerKey,
		Config:      configFromParams(p),
		Record: models.CreditRecord{
			UnbilledPrincipal: decimal.Zero,
			NextDue:           decimal.Zero,
			YieldDue:          decimal.Zero,
			TotalPastDue:      decimal.Zero,
			RemainingPeriods:  p.NumOfPeriods,
			State:             models.StateApproved,
		},
		Due:       zeroDueDetail(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := l.storage.CreateCredit(credit); err != nil {
		return nil, fmt.Errorf("failed to store credit: %w", err)
	}

	l.sink.Emit(models.Event{
		Type:      models.EventApproved,
		CreditID:  credit.ID,
		Timestamp: now,
		NewRecord: credit.Record,
	})
	return credit, nil
}

// Reapprove replaces the terms of a credit that has not yet been drawn
// down. Once a drawdown happened the credit must be closed first.
func (l *Ledger) Reapprove(id uuid.UUID, p ApproveParams) (*models.Credit, error) {
	if err := l.validateApproveParams(p); err != nil {
		return nil, err
	}

	unlock := l.lockCredit(id)
	defer unlock()

	credit, err := l.storage.GetCredit(id)
	if err != nil {
		return nil, err
	}
	if credit.Record.State != models.StateApproved {
		return nil, fmt.Errorf("%w: cannot re-approve credit in state %s",
			apperrors.ErrNotInState, credit.Record.State)
	}

	now := l.clock.Now()
	credit.BorrowerKey = p.BorrowerKey
	credit.Config = configFromParams(p)
	credit.Record.RemainingPeriods = p.NumOfPeriods
	credit.UpdatedAt = now
	if err := l.storage.UpdateCredit(credit); err != nil {
		return nil, err
	}

	l.sink.Emit(models.Event{
		Type:      models.EventApproved,
		CreditID:  credit.ID,
		Timestamp: now,
		NewRecord: credit.Record,
	})
	return credit, nil
}

// Drawdown disburses amount to the borrower, net of the front-loading
// fee. The first drawdown starts the billing clock and fixes the maturity
// date; later drawdowns require a revolving credit in good standing.
func (l *Ledger) Drawdown(id uuid.UUID, amount decimal.Decimal) (*models.Credit, *models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: drawdown amount must be positive", apperrors.ErrInvalidParameter)
	}

	unlock := l.lockCredit(id)
	defer unlock()

	credit, err := l.storage.GetCredit(id)
	if err != nil {
		return nil, nil, err
	}

	now := l.clock.Now()
	old := credit.Record
	first := false
	switch credit.Record.State {
	case models.StateApproved:
		first = true
	case models.StateGoodStanding:
		if !credit.Config.Revolving {
			return nil, nil, fmt.Errorf("%w: credit is not revolving", apperrors.ErrNotInState)
		}
		l.refresh(credit, now)
		if credit.Record.State != models.StateGoodStanding {
			return nil, nil, fmt.Errorf("%w: credit is %s after refresh",
				apperrors.ErrNotInState, credit.Record.State)
		}
	default:
		return nil, nil, fmt.Errorf("%w: drawdown not allowed in state %s",
			apperrors.ErrNotInState, credit.Record.State)
	}

	outstanding := credit.Record.UnbilledPrincipal.
		Add(credit.Record.PrincipalDue()).
		Add(credit.Due.PrincipalPastDue)
	available := credit.Config.CreditLimit.Sub(outstanding)
	if amount.GreaterThan(available) {
		return nil, nil, fmt.Errorf("%w: amount %s exceeds available limit %s",
			apperrors.ErrInvalidParameter, amount, available)
	}

	net, fee, err := feemath.DistBorrowingAmount(amount, l.fees.FrontLoadingFeeFlat, l.fees.FrontLoadingFeeBps)
	if err != nil {
		return nil, nil, err
	}

	if first {
		l.startBilling(credit, net, now)
	} else {
		l.addPrincipal(credit, net, now)
	}

	credit.UpdatedAt = now

	if err := l.treasury.Disburse(credit.BorrowerKey, net); err != nil {
		return nil, nil, fmt.Errorf("treasury disburse failed: %w", err)
	}

	// Record and journal persist together, last: a failure anywhere
	// above leaves the stored credit untouched.
	detail, _ := json.Marshal(map[string]string{"net": net.String(), "fee": fee.String()})
	transaction := &models.Transaction{
		ID:        uuid.New(),
		CreditID:  credit.ID,
		Amount:    amount,
		Type:      models.TransactionTypeDrawdown,
		Detail:    string(detail),
		Timestamp: now,
	}
	if err := l.storage.UpdateCreditWithJournal(credit, transaction); err != nil {
		return nil, nil, fmt.Errorf("failed to store drawdown: %w", err)
	}

	l.sink.Emit(models.Event{
		Type:      models.EventDrawdown,
		CreditID:  credit.ID,
		Timestamp: now,
		OldRecord: old,
		NewRecord: credit.Record,
		Amount:    amount,
	})
	return credit, transaction, nil
}

// startBilling runs on the first drawdown: it fixes the maturity date,
// bills the first (partial) period and moves the credit to good standing.
func (l *Ledger) startBilling(credit *models.Credit, principal decimal.Decimal, now time.Time) {
	duration := credit.Config.PeriodDuration
	start := calendar.StartOfDay(now)
	dueDate := calendar.StartOfNextPeriod(duration, now)

	maturity := start
	for i := 0; i < credit.Config.NumOfPeriods; i++ {
		maturity = calendar.StartOfNextPeriod(duration, maturity)
	}
	credit.MaturityDate = maturity

	credit.Record.RemainingPeriods = credit.Config.NumOfPeriods - 1
	final := credit.Record.RemainingPeriods == 0
	days := calendar.DaysDiff(start, dueDate)
	nd := duecalc.ComputeNextDue(credit.Config, principal, days, l.fees.MinPrincipalRateBps, final)

	credit.Record.UnbilledPrincipal = nd.NewUnbilled
	credit.Record.YieldDue = nd.YieldNextDue
	credit.Record.NextDue = nd.YieldNextDue.Add(nd.PrincipalNextDue)
	credit.Record.NextDueDate = dueDate
	credit.Record.State = models.StateGoodStanding
	credit.Due.Accrued = nd.Accrued
	credit.Due.Committed = nd.Committed
	credit.Due.Paid = decimal.Zero
}

// addPrincipal runs on later drawdowns within an open period. The new
// principal earns yield for the days left in the period; only the portion
// above the committed amount adds to the bill, since the committed floor
// is already charged.
func (l *Ledger) addPrincipal(credit *models.Credit, principal decimal.Decimal, now time.Time) {
	daysLeft := calendar.DaysDiff(calendar.StartOfDay(now), credit.Record.NextDueDate)
	accruedExtra := feemath.ProratedYield(principal, credit.Config.YieldBps, daysLeft)

	oldPrincipal := credit.Record.UnbilledPrincipal
	newPrincipal := oldPrincipal.Add(principal)

	var billedExtra decimal.Decimal
	switch {
	case oldPrincipal.GreaterThanOrEqual(credit.Config.CommittedAmount):
		billedExtra = accruedExtra
	case newPrincipal.LessThanOrEqual(credit.Config.CommittedAmount):
		billedExtra = decimal.Zero
	default:
		billedExtra = feemath.ProratedYield(newPrincipal.Sub(credit.Config.CommittedAmount),
			credit.Config.YieldBps, daysLeft)
	}

	credit.Record.UnbilledPrincipal = newPrincipal
	credit.Record.YieldDue = credit.Record.YieldDue.Add(billedExtra)
	credit.Record.NextDue = credit.Record.NextDue.Add(billedExtra)
	credit.Due.Accrued = credit.Due.Accrued.Add(accruedExtra)
	credit.Due.Committed = decimal.Max(decimal.Zero,
		credit.Due.Committed.Sub(accruedExtra.Sub(billedExtra)))
}

// CloseCredit winds a credit down. It fails while any balance or an
// unfulfilled commitment remains; on success all billing state is zeroed
// and the credit limit revoked. Closing a credit whose final payment
// already wound it down is an idempotent success.
func (l *Ledger) CloseCredit(id uuid.UUID) (*models.Credit, error) {
	unlock := l.lockCredit(id)
	defer unlock()

	credit, err := l.storage.GetCredit(id)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	old := credit.Record
	switch credit.Record.State {
	case models.StateDeleted:
		// Already wound down, typically by its final payment. Closing
		// again just revokes whatever limit is left.
		if credit.Config.CreditLimit.Sign() == 0 {
			return credit, nil
		}
	case models.StateApproved:
	default:
		l.refresh(credit, now)
		if !credit.Record.ZeroRecord() || credit.Due.LateFee.Sign() > 0 {
			return nil, fmt.Errorf("%w: outstanding balance remains", apperrors.ErrOutstandingObligation)
		}
		if credit.Record.RemainingPeriods > 0 && credit.Config.CommittedAmount.Sign() > 0 {
			return nil, fmt.Errorf("%w: unfulfilled commitment through remaining periods",
				apperrors.ErrOutstandingObligation)
		}
	}

	credit.Record = models.CreditRecord{State: models.StateDeleted}
	credit.Due = zeroDueDetail()
	credit.Config.CreditLimit = decimal.Zero
	credit.UpdatedAt = now
	if err := l.storage.UpdateCredit(credit); err != nil {
		return nil, err
	}

	l.sink.Emit(models.Event{
		Type:      models.EventClosed,
		CreditID:  credit.ID,
		Timestamp: now,
		OldRecord: old,
		NewRecord: credit.Record,
	})
	return credit, nil
}

// PauseCredit suspends billing. Pausing a credit that is not in a
// pausable state is a no-op, not an error.
func (l *Ledger) PauseCredit(id uuid.UUID) (*models.Credit, error) {
	unlock := l.lockCredit(id)
	defer unlock()

	credit, err := l.storage.GetCredit(id)
	if err != nil {
		return nil, err
	}

	switch credit.Record.State {
	case models.StateGoodStanding, models.StateDelayed:
	default:
		return credit, nil
	}

	now := l.clock.Now()
	old := credit.Record
	l.refresh(credit, now)
	credit.Record.State = models.StatePaused
	credit.UpdatedAt = now
	if err := l.storage.UpdateCredit(credit); err != nil {
		return nil, err
	}

	l.sink.Emit(models.Event{
		Type:      models.EventPaused,
		CreditID:  credit.ID,
		Timestamp: now,
		OldRecord: old,
		NewRecord: credit.Record,
	})
	return credit, nil
}

// UnpauseCredit resumes billing. The credit returns to delayed if any
// delinquency is on record, otherwise to good standing. Not-paused
// credits are a no-op.
func (l *Ledger) UnpauseCredit(id uuid.UUID) (*models.Credit, error) {
	unlock := l.lockCredit(id)
	defer unlock()

	credit, err := l.storage.GetCredit(id)
	if err != nil {
		return nil, err
	}
	if credit.Record.State != models.StatePaused {
		return credit, nil
	}

	now := l.clock.Now()
	old := credit.Record
	if credit.Record.MissedPeriods > 0 || credit.Record.TotalPastDue.Sign() > 0 {
		credit.Record.State = models.StateDelayed
	} else {
		credit.Record.State = models.StateGoodStanding
	}
	credit.UpdatedAt = now
	if err := l.storage.UpdateCredit(credit); err != nil {
		return nil, err
	}

	l.sink.Emit(models.Event{
		Type:      models.EventUnpaused,
		CreditID:  credit.ID,
		Timestamp: now,
		OldRecord: old,
		NewRecord: credit.Record,
	})
	return credit, nil
}

// TriggerDefault moves a delayed credit to defaulted once its past-due
// age exceeds the pool's default grace period. It is invoked by an
// external collector, never automatically during refresh.
func (l *Ledger) TriggerDefault(id uuid.UUID) (*models.Credit, error) {
	unlock := l.lockCredit(id)
	defer unlock()

	credit, err := l.storage.GetCredit(id)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	old := credit.Record
	l.refresh(credit, now)
	if credit.Record.State != models.StateDelayed {
		return nil, fmt.Errorf("%w: default requires a delayed credit, got %s",
			apperrors.ErrNotInState, credit.Record.State)
	}

	overdueMonths := credit.Record.MissedPeriods * credit.Config.PeriodDuration.Months()
	if overdueMonths <= l.settings.DefaultGracePeriodMonths {
		return nil, fmt.Errorf("%w: %d months overdue, default grace is %d months",
			apperrors.ErrNotInState, overdueMonths, l.settings.DefaultGracePeriodMonths)
	}

	credit.Record.State = models.StateDefaulted
	credit.UpdatedAt = now
	if err := l.storage.UpdateCredit(credit); err != nil {
		return nil, err
	}

	l.sink.Emit(models.Event{
		Type:      models.EventDefaulted,
		CreditID:  credit.ID,
		Timestamp: now,
		OldRecord: old,
		NewRecord: credit.Record,
	})
	return credit, nil
}

func zeroDueDetail() models.DueDetail {
	return models.DueDetail{
		LateFee:          decimal.Zero,
		PrincipalPastDue: decimal.Zero,
		YieldPastDue:     decimal.Zero,
		Committed:        decimal.Zero,
		Accrued:          decimal.Zero,
		Paid:             decimal.Zero,
	}
}
