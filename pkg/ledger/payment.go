package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pooledfi/creditbill/pkg/allocator"
	"github.com/pooledfi/creditbill/pkg/apperrors"
	"github.com/pooledfi/creditbill/pkg/models"
)

// MakePayment applies a payment through the waterfall after refreshing
// the record. Only the applied portion is collected from the borrower;
// the residual is reported back and never taken.
func (l *Ledger) MakePayment(id uuid.UUID, amount decimal.Decimal) (*models.Credit, models.Waterfall, error) {
	if amount.Sign() <= 0 {
		return nil, models.Waterfall{}, fmt.Errorf("%w: payment amount must be positive", apperrors.ErrInvalidParameter)
	}

	unlock := l.lockCredit(id)
	defer unlock()

	credit, err := l.storage.GetCredit(id)
	if err != nil {
		return nil, models.Waterfall{}, err
	}

	switch credit.Record.State {
	case models.StateGoodStanding, models.StateDelayed, models.StateDefaulted:
	default:
		return nil, models.Waterfall{}, fmt.Errorf("%w: payment not accepted in state %s",
			apperrors.ErrNotInState, credit.Record.State)
	}

	now := l.clock.Now()
	old := credit.Record
	l.refresh(credit, now)

	res := allocator.Allocate(allocator.Input{
		Record:   credit.Record,
		Due:      credit.Due,
		Settings: l.settings,
		Duration: credit.Config.PeriodDuration,
	}, amount, now)
	credit.Record = res.Record
	credit.Due = res.Due

	credit.UpdatedAt = now

	applied := res.Waterfall.Applied()
	if applied.Sign() > 0 {
		if err := l.treasury.Collect(credit.BorrowerKey, applied); err != nil {
			return nil, models.Waterfall{}, fmt.Errorf("treasury collect failed: %w", err)
		}
	}

	// Record and journal persist together, last: a failure anywhere
	// above leaves the stored credit untouched.
	detail, _ := json.Marshal(res.Waterfall)
	transaction := &models.Transaction{
		ID:        uuid.New(),
		CreditID:  credit.ID,
		Amount:    applied,
		Type:      models.TransactionTypePayment,
		Detail:    string(detail),
		Timestamp: now,
	}
	if err := l.storage.UpdateCreditWithJournal(credit, transaction); err != nil {
		return nil, models.Waterfall{}, fmt.Errorf("failed to store payment: %w", err)
	}

	waterfall := res.Waterfall
	l.sink.Emit(models.Event{
		Type:      models.EventPayment,
		CreditID:  credit.ID,
		Timestamp: now,
		OldRecord: old,
		NewRecord: credit.Record,
		Amount:    amount,
		Waterfall: &waterfall,
	})
	return credit, res.Waterfall, nil
}
