package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"planpay_backend/internal/model"
)

var (
	// minorUnit is one cent: computed amounts below it collapse to zero.
	minorUnit = decimal.NewFromFloat(0.01)
	// minCharge is the smallest amount worth charging; positive nets below
	// it are floored up to avoid micro-charges.
	minCharge = decimal.NewFromFloat(0.50)
)

type ProrationResult struct {
	Credit            decimal.Decimal `json:"credit"`
	Charge            decimal.Decimal `json:"charge"`
	NetAmount         decimal.Decimal `json:"net_amount"`
	RefundAmount      decimal.Decimal `json:"refund_amount"`
	DaysRemaining     int             `json:"days_remaining"`
	TotalDays         int             `json:"total_days"`
	DaysUsed          int             `json:"days_used"`
	IsNewBillingCycle bool            `json:"is_new_billing_cycle"`
}

// Prorate computes the credit/charge split for a mid-period plan change.
//
// Downgrade requests never reach this function: the subscription service
// refuses them outright instead of prorating, which is a deliberate policy
// restriction rather than a missing feature.
func Prorate(now time.Time, sub *model.Subscription, currentPrice, newPrice decimal.Decimal) ProrationResult {
	totalDays := DaysBetween(sub.StartDate, sub.EndDate)
	if totalDays < 1 {
		totalDays = 1
	}
	daysRemaining := DaysBetween(now, sub.EndDate)

	// On or after the period boundary there is nothing left to prorate:
	// the change opens a fresh billing cycle at the full new price. This
	// branch is explicit so the degenerate case never depends on a
	// near-zero division.
	if daysRemaining < 1 {
		return ProrationResult{
			Credit:            decimal.Zero,
			Charge:            newPrice.Round(2),
			NetAmount:         newPrice.Round(2),
			RefundAmount:      decimal.Zero,
			DaysRemaining:     0,
			TotalDays:         totalDays,
			DaysUsed:          totalDays,
			IsNewBillingCycle: true,
		}
	}

	if daysRemaining > totalDays {
		daysRemaining = totalDays
	}

	ratio := decimal.NewFromInt(int64(daysRemaining)).Div(decimal.NewFromInt(int64(totalDays)))
	credit := collapseSubCent(ratio.Mul(currentPrice).Round(2))
	charge := collapseSubCent(ratio.Mul(newPrice).Round(2))

	net := charge.Sub(credit).Round(2)
	refund := decimal.Zero

	net = collapseSubCent(net)
	if net.IsNegative() {
		refund = credit.Sub(charge).Round(2)
		net = decimal.Zero
	} else if net.IsPositive() && net.LessThan(minCharge) {
		net = minCharge
	}

	return ProrationResult{
		Credit:            credit,
		Charge:            charge,
		NetAmount:         net,
		RefundAmount:      refund,
		DaysRemaining:     daysRemaining,
		TotalDays:         totalDays,
		DaysUsed:          totalDays - daysRemaining,
		IsNewBillingCycle: false,
	}
}

// collapseSubCent zeroes amounts whose absolute value is below one minor
// currency unit.
func collapseSubCent(d decimal.Decimal) decimal.Decimal {
	if d.Abs().LessThan(minorUnit) {
		return decimal.Zero
	}
	return d
}
