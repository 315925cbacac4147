package proration

import (
	"time"

	"github.com/kevin07696/subscription-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Quote is the breakdown of a mid-cycle plan change charge
type Quote struct {
	CurrentDailyRate decimal.Decimal
	TargetDailyRate  decimal.Decimal
	Amount           decimal.Decimal
	TotalDays        int
	RemainingDays    int
}

// Calculator computes prorated charges for plan changes. It holds no state.
type Calculator struct{}

// NewCalculator creates a proration calculator
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Quote prices a change from currentPrice to targetPrice for the rest of the
// period [periodStart, periodEnd) as seen at now.
//
// Both daily rates divide by the current period's length so plans with
// different nominal cycles compare on the same basis. Remaining days are
// rounded up; the amount is rounded to cents and never negative.
func (c *Calculator) Quote(currentPrice, targetPrice decimal.Decimal, periodStart, periodEnd, now time.Time) Quote {
	total := timeutil.CeilDays(periodStart, periodEnd)
	if total <= 0 {
		return Quote{Amount: decimal.Zero}
	}

	remaining := timeutil.CeilDays(now, periodEnd)
	if remaining > total {
		remaining = total
	}

	days := decimal.NewFromInt(int64(total))
	q := Quote{
		CurrentDailyRate: currentPrice.Div(days),
		TargetDailyRate:  targetPrice.Div(days),
		TotalDays:        total,
		RemainingDays:    remaining,
	}

	// multiply before dividing so whole-cent results stay exact
	amount := targetPrice.Sub(currentPrice).
		Mul(decimal.NewFromInt(int64(remaining))).
		Div(days).
		Round(2)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	q.Amount = amount
	return q
}

// Calculate returns only the prorated amount
func (c *Calculator) Calculate(currentPrice, targetPrice decimal.Decimal, periodStart, periodEnd, now time.Time) decimal.Decimal {
	return c.Quote(currentPrice, targetPrice, periodStart, periodEnd, now).Amount
}
