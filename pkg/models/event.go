package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Waterfall records the amount a payment consumed from each bucket, in
// allocation order, plus whatever was left over. The sum of all fields
// always equals the payment amount.
type Waterfall struct {
	LateFee           decimal.Decimal `json:"late_fee"`
	YieldPastDue      decimal.Decimal `json:"yield_past_due"`
	PrincipalPastDue  decimal.Decimal `json:"principal_past_due"`
	YieldNextDue      decimal.Decimal `json:"yield_next_due"`
	PrincipalNextDue  decimal.Decimal `json:"principal_next_due"`
	UnbilledPrincipal decimal.Decimal `json:"unbilled_principal"`
	Residual          decimal.Decimal `json:"residual"`
}

// Applied returns the total consumed by the six buckets, excluding the
// residual.
func (w Waterfall) Applied() decimal.Decimal {
	return w.LateFee.
		Add(w.YieldPastDue).
		Add(w.PrincipalPastDue).
		Add(w.YieldNextDue).
		Add(w.PrincipalNextDue).
		Add(w.UnbilledPrincipal)
}

type EventType string

const (
	EventApproved  EventType = "credit_approved"
	EventDrawdown  EventType = "credit_drawdown"
	EventPayment   EventType = "credit_payment"
	EventRefreshed EventType = "credit_refreshed"
	EventClosed    EventType = "credit_closed"
	EventPaused    EventType = "credit_paused"
	EventUnpaused  EventType = "credit_unpaused"
	EventDefaulted EventType = "credit_defaulted"
)

// Event is the structured change record the ledger hands to its sink after
// every mutating operation. The core never performs I/O itself; emitting
// or persisting the event is the sink's concern.
type Event struct {
	Type      EventType       `json:"type"`
	CreditID  uuid.UUID       `json:"credit_id"`
	Timestamp time.Time       `json:"timestamp"`
	OldRecord CreditRecord    `json:"old_record"`
	NewRecord CreditRecord    `json:"new_record"`
	Amount    decimal.Decimal `json:"amount,omitempty"`    // operation amount, if any
	Waterfall *Waterfall      `json:"waterfall,omitempty"` // payments only
}
