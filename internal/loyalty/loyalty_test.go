package loyalty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierOf(t *testing.T) {
	assert.Equal(t, LevelBronze, TierOf(0))
	assert.Equal(t, LevelBronze, TierOf(79999.99))
	assert.Equal(t, LevelSilver, TierOf(80000))
	assert.Equal(t, LevelSilver, TierOf(99999))
	assert.Equal(t, LevelGold, TierOf(100000))
	assert.Equal(t, LevelGold, TierOf(1000000))
}

func TestCashbackPercent(t *testing.T) {
	assert.Equal(t, 2, CashbackPercent(LevelBronze))
	assert.Equal(t, 3, CashbackPercent(LevelSilver))
	assert.Equal(t, 5, CashbackPercent(LevelGold))

	// Unknown levels fall back to bronze.
	assert.Equal(t, 2, CashbackPercent(""))
	assert.Equal(t, 2, CashbackPercent("platinum"))
}

func TestComputeRedeemable(t *testing.T) {
	// Clamped by balance.
	assert.Equal(t, 500, ComputeRedeemable(500, 1130, 900))
	// Clamped by whole-unit subtotal.
	assert.Equal(t, 1130, ComputeRedeemable(5000, 1130.75, 2000))
	// Requested within bounds passes through.
	assert.Equal(t, 300, ComputeRedeemable(500, 1130, 300))
	// Negative requests redeem nothing.
	assert.Equal(t, 0, ComputeRedeemable(500, 1130, -10))
	// Empty balance redeems nothing.
	assert.Equal(t, 0, ComputeRedeemable(0, 1130, 100))
}

func TestSettleSilverOrder(t *testing.T) {
	// Silver user, balance 500, cart subtotal 1130, 300 bonuses used:
	// earns floor((1130-300)*3/100) = 24, balance 500-300+24 = 224.
	s := Settle(500, 80000, LevelSilver, 1130, 300)

	assert.Equal(t, 24, s.BonusesEarned)
	assert.Equal(t, 224, s.NewBalance)
	assert.Equal(t, 80830.0, s.NewSpent)
	assert.Equal(t, LevelSilver, s.NewLevel)
}

func TestSettleTruncatesEarned(t *testing.T) {
	// 2% of 990 = 19.8: truncates to 19, never rounds up.
	s := Settle(0, 0, LevelBronze, 990, 0)
	assert.Equal(t, 19, s.BonusesEarned)
}

func TestSettleTierPromotion(t *testing.T) {
	// Net contribution 3000 pushes 78000 over the silver threshold.
	s := Settle(100, 78000, LevelBronze, 3000, 0)

	assert.Equal(t, 81000.0, s.NewSpent)
	assert.Equal(t, LevelSilver, s.NewLevel)
	// Cashback is still earned at the pre-order bronze rate.
	assert.Equal(t, 60, s.BonusesEarned)
	assert.Equal(t, 160, s.NewBalance)
}
