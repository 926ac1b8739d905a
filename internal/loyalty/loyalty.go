// Package loyalty holds the tier table and bonus arithmetic. It is the
// single source of truth for how cumulative spend maps to a cashback
// percent and how requested bonuses clamp against a balance. All math
// truncates toward zero so the ledger never over-credits.
package loyalty

import "math"

// Loyalty levels, driven purely by total spend.
const (
	LevelBronze = "bronze"
	LevelSilver = "silver"
	LevelGold   = "gold"
)

// Tier thresholds and cashback percents. Fixed constants consumed by the
// settlement engine and by client-side display logic.
const (
	SilverThreshold = 80000
	GoldThreshold   = 100000

	BronzeCashbackPercent = 2
	SilverCashbackPercent = 3
	GoldCashbackPercent   = 5

	// RegistrationBonus is credited once, when the user row is created.
	RegistrationBonus = 200

	// DeliveryFee is the flat courier fee added to delivery orders.
	DeliveryFee = 200
)

// TierOf classifies cumulative spend into a loyalty level.
func TierOf(totalSpent float64) string {
	switch {
	case totalSpent >= GoldThreshold:
		return LevelGold
	case totalSpent >= SilverThreshold:
		return LevelSilver
	default:
		return LevelBronze
	}
}

// CashbackPercent returns the cashback percent for a level, falling back
// to bronze for anything unrecognized.
func CashbackPercent(level string) int {
	switch level {
	case LevelGold:
		return GoldCashbackPercent
	case LevelSilver:
		return SilverCashbackPercent
	default:
		return BronzeCashbackPercent
	}
}

// ComputeRedeemable clamps a requested bonus spend to what the balance
// and the cart actually allow: never negative, never above the balance,
// never above the whole-unit items subtotal.
func ComputeRedeemable(balance int, itemsSubtotal float64, requested int) int {
	cap := int(math.Floor(itemsSubtotal))
	if balance < cap {
		cap = balance
	}
	if requested < 0 {
		return 0
	}
	if requested > cap {
		return cap
	}
	return requested
}

// Settlement is the outcome of applying one order to a user's loyalty
// state.
type Settlement struct {
	BonusesEarned int
	NewBalance    int
	NewSpent      float64
	NewLevel      string
}

// Settle computes the loyalty delta for an order: cashback is earned on
// the net amount (subtotal minus bonuses used) at the percent of the
// user's current level, and the new spend total may move the user up a
// tier. bonusesUsed must already be clamped via ComputeRedeemable.
func Settle(balance int, totalSpent float64, level string, itemsSubtotal float64, bonusesUsed int) Settlement {
	net := itemsSubtotal - float64(bonusesUsed)
	earned := int(math.Floor(net * float64(CashbackPercent(level)) / 100))
	newSpent := totalSpent + net
	return Settlement{
		BonusesEarned: earned,
		NewBalance:    balance - bonusesUsed + earned,
		NewSpent:      newSpent,
		NewLevel:      TierOf(newSpent),
	}
}
