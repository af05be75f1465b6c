package market

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE ADJUSTER - Spread-adaptive submit price
// ═══════════════════════════════════════════════════════════════════════════════

// AdjusterConfig controls the spread-adaptive offset
type AdjusterConfig struct {
	BaseOffsetBps        float64 // offset applied in calm markets
	AdaptiveThresholdBps float64 // spreads above this widen the offset (default 150)
	SpreadMultiplier     float64 // fraction of spread used as offset (default 0.5)
	MaxAdaptiveOffsetBps float64 // hard cap on the widened offset (default 300)
}

// DefaultAdjusterConfig returns the standard adaptive settings
func DefaultAdjusterConfig(baseOffsetBps float64) AdjusterConfig {
	return AdjusterConfig{
		BaseOffsetBps:        baseOffsetBps,
		AdaptiveThresholdBps: 150,
		SpreadMultiplier:     0.5,
		MaxAdaptiveOffsetBps: 300,
	}
}

// Adjuster computes follower submit prices from market prices
type Adjuster struct {
	cfg AdjusterConfig
}

// NewAdjuster creates a price adjuster
func NewAdjuster(cfg AdjusterConfig) *Adjuster {
	return &Adjuster{cfg: cfg}
}

// EffectiveOffsetBps returns the offset for the observed spread: the base
// offset while the spread is tight, scaled with the spread (bounded below by
// base, above by the max) once it widens.
func (a *Adjuster) EffectiveOffsetBps(snap types.MarketSnapshot) float64 {
	if snap.SpreadBps <= a.cfg.AdaptiveThresholdBps {
		return a.cfg.BaseOffsetBps
	}
	eff := snap.SpreadBps * a.cfg.SpreadMultiplier
	if eff < a.cfg.BaseOffsetBps {
		eff = a.cfg.BaseOffsetBps
	}
	if eff > a.cfg.MaxAdaptiveOffsetBps {
		eff = a.cfg.MaxAdaptiveOffsetBps
	}
	return eff
}

// AdjustAdaptive computes the submit price: market price pushed through the
// book by the effective offset (up for BUY, down for SELL), clamped to the
// venue's [0.01, 0.99] band and rounded to 4 decimals.
func (a *Adjuster) AdjustAdaptive(marketPrice decimal.Decimal, side types.Side, snap types.MarketSnapshot) (decimal.Decimal, float64) {
	eff := a.EffectiveOffsetBps(snap)
	return a.apply(marketPrice, side, eff), eff
}

// Adjust applies the base offset without adaptation
func (a *Adjuster) Adjust(marketPrice decimal.Decimal, side types.Side) decimal.Decimal {
	return a.apply(marketPrice, side, a.cfg.BaseOffsetBps)
}

func (a *Adjuster) apply(marketPrice decimal.Decimal, side types.Side, offsetBps float64) decimal.Decimal {
	factor := decimal.NewFromFloat(offsetBps / 10000)
	if side == types.SideSell {
		factor = factor.Neg()
	}
	adjusted := marketPrice.Mul(decimal.NewFromInt(1).Add(factor)).Round(4)
	return clampPrice(adjusted)
}

// SlippageCost reports the cost of the applied offset for a fill size
func SlippageCost(shares, adjusted, market decimal.Decimal) decimal.Decimal {
	return shares.Mul(adjusted.Sub(market))
}

var (
	priceFloor = decimal.NewFromFloat(0.01)
	priceCeil  = decimal.NewFromFloat(0.99)
)

func clampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(priceFloor) {
		return priceFloor
	}
	if p.GreaterThan(priceCeil) {
		return priceCeil
	}
	return p
}
