package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditState is the lifecycle state of a credit line.
type CreditState int

const (
	StateDeleted CreditState = iota
	StateApproved
	StateGoodStanding
	StateDelayed
	StateDefaulted
	StatePaused
)

// String returns the lowercase name used in storage and JSON.
func (s CreditState) String() string {
	switch s {
	case StateDeleted:
		return "deleted"
	case StateApproved:
		return "approved"
	case StateGoodStanding:
		return "good_standing"
	case StateDelayed:
		return "delayed"
	case StateDefaulted:
		return "defaulted"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

// ParseCreditState is the inverse of CreditState.String.
func ParseCreditState(s string) (CreditState, bool) {
	switch s {
	case "deleted":
		return StateDeleted, true
	case "approved":
		return StateApproved, true
	case "good_standing":
		return StateGoodStanding, true
	case "delayed":
		return StateDelayed, true
	case "defaulted":
		return StateDefaulted, true
	case "paused":
		return StatePaused, true
	}
	return StateDeleted, false
}

// MarshalJSON renders the state as its string name.
func (s CreditState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a quoted state name.
func (s *CreditState) UnmarshalJSON(b []byte) error {
	raw := string(b)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, ok := ParseCreditState(raw)
	if !ok {
		return fmt.Errorf("unknown credit state %q", raw)
	}
	*s = parsed
	return nil
}

// PeriodDuration is the length of one billing period.
type PeriodDuration int

const (
	PeriodMonthly PeriodDuration = iota
	PeriodQuarterly
	PeriodSemiAnnually
)

// Months returns the number of calendar months in one period.
func (d PeriodDuration) Months() int {
	switch d {
	case PeriodMonthly:
		return 1
	case PeriodQuarterly:
		return 3
	case PeriodSemiAnnually:
		return 6
	}
	return 1
}

// String returns the lowercase name used in storage and JSON.
func (d PeriodDuration) String() string {
	switch d {
	case PeriodMonthly:
		return "monthly"
	case PeriodQuarterly:
		return "quarterly"
	case PeriodSemiAnnually:
		return "semi_annually"
	}
	return "monthly"
}

// ParsePeriodDuration is the inverse of PeriodDuration.String.
func ParsePeriodDuration(s string) (PeriodDuration, bool) {
	switch s {
	case "monthly":
		return PeriodMonthly, true
	case "quarterly":
		return PeriodQuarterly, true
	case "semi_annually":
		return PeriodSemiAnnually, true
	}
	return PeriodMonthly, false
}

// MarshalJSON renders the duration as its string name.
func (d PeriodDuration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses a quoted duration name.
func (d *PeriodDuration) UnmarshalJSON(b []byte) error {
	raw := string(b)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, ok := ParsePeriodDuration(raw)
	if !ok {
		return fmt.Errorf("unknown period duration %q", raw)
	}
	*d = parsed
	return nil
}

// CreditConfig is the approved terms of a credit line. It is immutable per
// approval; re-approval before first drawdown replaces it wholesale.
type CreditConfig struct {
	CreditLimit         decimal.Decimal `json:"credit_limit"`
	CommittedAmount     decimal.Decimal `json:"committed_amount"` // minimum principal charged yield regardless of draw
	PeriodDuration      PeriodDuration  `json:"period_duration"`
	NumOfPeriods        int             `json:"num_of_periods"`
	YieldBps            int64           `json:"yield_bps"` // annualized
	Revolving           bool            `json:"revolving"`
	ReceivableBacked    bool            `json:"receivable_backed"`
	BorrowerLevelCredit bool            `json:"borrower_level_credit"`
	Exclusive           bool            `json:"exclusive"`
}

// CreditRecord is the mutable billing state of a credit line.
// Invariant: NextDue = YieldDue + principal component.
type CreditRecord struct {
	UnbilledPrincipal decimal.Decimal `json:"unbilled_principal"`
	NextDueDate       time.Time       `json:"next_due_date"` // start-of-day UTC
	NextDue           decimal.Decimal `json:"next_due"`
	YieldDue          decimal.Decimal `json:"yield_due"` // yield component of NextDue
	TotalPastDue      decimal.Decimal `json:"total_past_due"`
	MissedPeriods     int             `json:"missed_periods"`
	RemainingPeriods  int             `json:"remaining_periods"`
	State             CreditState     `json:"state"`
}

// PrincipalDue returns the principal component of NextDue.
func (r CreditRecord) PrincipalDue() decimal.Decimal {
	return r.NextDue.Sub(r.YieldDue)
}

// DueDetail breaks TotalPastDue into buckets and tracks the current
// period's yield composition. Invariant, maintained in lockstep with
// CreditRecord: PrincipalPastDue + YieldPastDue + LateFee = TotalPastDue.
type DueDetail struct {
	LateFeeUpdatedDate time.Time       `json:"late_fee_updated_date"`
	LateFee            decimal.Decimal `json:"late_fee"`
	PrincipalPastDue   decimal.Decimal `json:"principal_past_due"`
	YieldPastDue       decimal.Decimal `json:"yield_past_due"`
	Committed          decimal.Decimal `json:"committed"` // yield attributable to committed-amount shortfall
	Accrued            decimal.Decimal `json:"accrued"`   // yield on principal actually drawn
	Paid               decimal.Decimal `json:"paid"`      // yield paid so far this period
}

// Credit is the storage aggregate: one config, record and due detail per
// credit line, plus identity and bookkeeping columns.
type Credit struct {
	ID           uuid.UUID    `json:"id"`
	BorrowerKey  string       `json:"borrower_key"` // link to the external identity system
	Config       CreditConfig `json:"config"`
	Record       CreditRecord `json:"record"`
	Due          DueDetail    `json:"due_detail"`
	MaturityDate time.Time    `json:"maturity_date"` // set at first drawdown, immutable after
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ZeroRecord reports whether all balances on the record are zero.
func (r CreditRecord) ZeroRecord() bool {
	return r.UnbilledPrincipal.IsZero() && r.NextDue.IsZero() && r.TotalPastDue.IsZero()
}
