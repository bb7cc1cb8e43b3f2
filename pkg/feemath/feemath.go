// Package feemath holds the pure fee and yield formulas. Amounts are
// decimals carrying exact integers of token base units; rates are
// annualized basis points. Every division floors, so the protocol never
// rounds an amount owed upward.
package feemath

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pooledfi/creditbill/pkg/apperrors"
)

const (
	bpsDenominator = 10000
	daysInYear     = 365
	monthsInYear   = 12
)

var (
	bpsDecimal        = decimal.NewFromInt(bpsDenominator)
	yearDays          = decimal.NewFromInt(daysInYear)
	bpsTimesYearDays  = bpsDecimal.Mul(yearDays)
	bpsTimesYearMonth = bpsDecimal.Mul(decimal.NewFromInt(monthsInYear))
)

// ProratedYield returns principal * bps * days / (10000 * 365), floored.
func ProratedYield(principal decimal.Decimal, annualBps int64, days int) decimal.Decimal {
	if annualBps <= 0 || days <= 0 || principal.Sign() <= 0 {
		return decimal.Zero
	}
	return principal.
		Mul(decimal.NewFromInt(annualBps)).
		Mul(decimal.NewFromInt(int64(days))).
		Div(bpsTimesYearDays).
		Floor()
}

// FrontLoadingFee returns flatFee + amount * bpsFee / 10000. The flat
// portion is exact; the bps portion floors.
func FrontLoadingFee(amount, flatFee decimal.Decimal, bpsFee int64) decimal.Decimal {
	fee := flatFee
	if bpsFee > 0 {
		fee = fee.Add(amount.Mul(decimal.NewFromInt(bpsFee)).Div(bpsDecimal).Floor())
	}
	return fee
}

// DistBorrowingAmount splits a requested drawdown into the amount the
// borrower receives and the front-loading fee withheld by the platform.
func DistBorrowingAmount(amount, flatFee decimal.Decimal, bpsFee int64) (net, fee decimal.Decimal, err error) {
	fee = FrontLoadingFee(amount, flatFee, bpsFee)
	if amount.LessThan(fee) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: borrow amount %s less than platform fees %s",
			apperrors.ErrInvalidParameter, amount, fee)
	}
	return amount.Sub(fee), fee, nil
}

// LateFee returns flatLateFee + principalOutstanding * lateBps / 10000,
// floored on the bps portion. It is a per-late-event amount; the refresher
// stamps lateFeeUpdatedDate so a repeated refresh never re-accrues it.
func LateFee(principalOutstanding, flatLateFee decimal.Decimal, lateBps int64) decimal.Decimal {
	fee := flatLateFee
	if lateBps > 0 && principalOutstanding.Sign() > 0 {
		fee = fee.Add(principalOutstanding.Mul(decimal.NewFromInt(lateBps)).Div(bpsDecimal).Floor())
	}
	return fee
}

// YieldDuePerPeriod returns the billed yield for one period on a monthly
// rate basis: principal * rateBps * periodDays / (10000 * 12). When the
// credit is late the late-fee bps is added to the rate and the flat late
// fee plus membership fee are added on top.
func YieldDuePerPeriod(principal decimal.Decimal, aprBps, lateBps int64, periodDays int,
	lateFeeFlat, membershipFee decimal.Decimal, late bool) decimal.Decimal {

	rate := aprBps
	if late {
		rate += lateBps
	}
	if rate <= 0 || periodDays <= 0 || principal.Sign() <= 0 {
		rate = 0
	}
	due := decimal.Zero
	if rate > 0 {
		due = principal.
			Mul(decimal.NewFromInt(rate)).
			Mul(decimal.NewFromInt(int64(periodDays))).
			Div(bpsTimesYearMonth).
			Floor()
	}
	if late {
		due = due.Add(lateFeeFlat).Add(membershipFee)
	}
	return due
}
