package ledger

import "math"

const (
	// BaseRateCents is the undiscounted price of one credit.
	BaseRateCents int64 = 10

	// MaxPurchaseCredits caps a single purchase.
	MaxPurchaseCredits int64 = 1_000_000
)

// maxCostableCredits is the largest amount whose price is computable in
// int64 hundredths of a cent.
const maxCostableCredits = math.MaxInt64 / (BaseRateCents * 100)

type discountTier struct {
	minCredits int64
	percent    int64
}

// Ordered from the largest threshold down.
var discountTiers = []discountTier{
	{minCredits: 1000, percent: 20},
	{minCredits: 500, percent: 15},
	{minCredits: 100, percent: 10},
}

// DiscountPercent returns the volume discount for a purchase of credits.
func DiscountPercent(credits int64) int64 {
	for _, t := range discountTiers {
		if credits >= t.minCredits {
			return t.percent
		}
	}
	return 0
}

// CalculateCreditCost returns the price in cents of buying credits, rounded
// half up to the nearest cent. Amounts too large to price saturate at
// math.MaxInt64; use PurchaseCost to reject them instead.
func CalculateCreditCost(credits int64) int64 {
	if credits <= 0 {
		return 0
	}
	if credits > maxCostableCredits {
		return math.MaxInt64
	}
	hundredths := credits * BaseRateCents * (100 - DiscountPercent(credits))
	return (hundredths + 50) / 100
}

// PurchaseCost prices a purchase of credits, rejecting amounts outside
// 1..MaxPurchaseCredits.
func PurchaseCost(credits int64) (int64, error) {
	if credits <= 0 {
		return 0, ErrInvalidAmount
	}
	if credits > MaxPurchaseCredits {
		return 0, ErrAmountTooLarge
	}
	return CalculateCreditCost(credits), nil
}
