package models

import "github.com/shopspring/decimal"

// PoolSettings are the pool-wide billing parameters. They are read-only to
// the core and passed explicitly into every calculation that needs them.
type PoolSettings struct {
	LatePaymentGracePeriodDays int             `yaml:"late_payment_grace_period_days" json:"late_payment_grace_period_days"`
	DefaultGracePeriodMonths   int             `yaml:"default_grace_period_months" json:"default_grace_period_months"`
	MaxCreditLine              decimal.Decimal `yaml:"max_credit_line" json:"max_credit_line"`
	PeriodDuration             PeriodDuration  `yaml:"-" json:"period_duration"` // default for new approvals
}

// FeeStructure are the pool-wide fee defaults applied to every credit
// unless overridden per approval. Flat fees are token amounts, rates are
// annualized basis points.
type FeeStructure struct {
	LateFeeFlat         decimal.Decimal `yaml:"late_fee_flat" json:"late_fee_flat"`
	LateFeeBps          int64           `yaml:"late_fee_bps" json:"late_fee_bps"`
	MembershipFee       decimal.Decimal `yaml:"membership_fee" json:"membership_fee"`
	MinPrincipalRateBps int64           `yaml:"min_principal_rate_bps" json:"min_principal_rate_bps"`
	FrontLoadingFeeFlat decimal.Decimal `yaml:"front_loading_fee_flat" json:"front_loading_fee_flat"`
	FrontLoadingFeeBps  int64           `yaml:"front_loading_fee_bps" json:"front_loading_fee_bps"`
}
