package ranking

import (
	"fmt"

	"github.com/shopspring/decimal"

	"offer-ranking-api/internal/models"
)

var hundred = decimal.NewFromInt(100)

type discountResult struct {
	finalPrice decimal.Decimal
	applied    decimal.Decimal
	lines      []string
}

// applyCoupon takes the coupon off the base price, capped at the price so the
// result never goes below zero.
func applyCoupon(offer models.Offer) discountResult {
	res := discountResult{finalPrice: offer.BasePrice}

	coupon := valueOf(offer.CouponValue)
	if !coupon.IsPositive() {
		return res
	}

	applied := decimal.Min(res.finalPrice, coupon)
	res.finalPrice = res.finalPrice.Sub(applied)
	res.applied = applied
	res.lines = append(res.lines, fmt.Sprintf("%s off with coupon.", rupees(applied)))

	return res
}

type cashbackResult struct {
	total decimal.Decimal
	lines []string
}

// accumulateCashback adds flat and percentage cashback. Both terms may fire
// for the same offer.
func accumulateCashback(offer models.Offer, finalPrice decimal.Decimal) cashbackResult {
	var res cashbackResult

	if flat := valueOf(offer.CashbackFlat); flat.IsPositive() {
		res.total = res.total.Add(flat)
		res.lines = append(res.lines, fmt.Sprintf("%s flat cashback.", rupees(flat)))
	}

	if pct := valueOf(offer.CashbackPercentage); pct.IsPositive() {
		amount := percentOf(finalPrice, pct)
		res.total = res.total.Add(amount)
		res.lines = append(res.lines, fmt.Sprintf("%s (%s%%) cashback.", rupees(amount), pct.String()))
	}

	return res
}

func valueOf(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func percentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// rupees formats an amount the way every explanation line shows money.
func rupees(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}
