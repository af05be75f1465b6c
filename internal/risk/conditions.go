package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

// ConditionConfig holds the market-quality thresholds
type ConditionConfig struct {
	MaxSpreadBps           float64
	WideSpreadThresholdBps float64
	MaxDivergenceBps       float64
	MinDepthShares         decimal.Decimal
}

// ConditionGate rejects orders into markets that are not worth trading
type ConditionGate struct {
	cfg ConditionConfig
}

// NewConditionGate creates a condition gate
func NewConditionGate(cfg ConditionConfig) *ConditionGate {
	return &ConditionGate{cfg: cfg}
}

// CheckConditions validates a snapshot. size may be zero when the gate runs
// before sizing; the depth check only applies once a size is known.
func (g *ConditionGate) CheckConditions(snap types.MarketSnapshot, side types.Side, size decimal.Decimal) Decision {
	if snap.Condition == types.ConditionStale {
		return reject("Market data stale, no live order book")
	}
	if g.cfg.MaxSpreadBps > 0 && snap.SpreadBps > g.cfg.MaxSpreadBps {
		return reject(fmt.Sprintf("Spread %.0f bps above maximum %.0f bps", snap.SpreadBps, g.cfg.MaxSpreadBps))
	}
	if g.cfg.MaxDivergenceBps > 0 && snap.DivergenceBps > g.cfg.MaxDivergenceBps {
		return reject(fmt.Sprintf("Price diverged %.0f bps from the leader fill, maximum %.0f bps", snap.DivergenceBps, g.cfg.MaxDivergenceBps))
	}

	nearDepth := snap.AskDepthNear
	if side == types.SideSell {
		nearDepth = snap.BidDepthNear
	}
	if size.IsPositive() && g.cfg.MinDepthShares.IsPositive() && nearDepth.LessThan(g.cfg.MinDepthShares) {
		return reject(fmt.Sprintf("Only %s shares near top of book, minimum %s", nearDepth, g.cfg.MinDepthShares))
	}

	d := Decision{Approved: true, Level: LevelLow}
	if size.IsPositive() && nearDepth.IsPositive() && size.GreaterThan(nearDepth.Mul(decimal.NewFromFloat(0.5))) {
		d.Warnings = append(d.Warnings, "Order size above half the near-book depth")
	}
	if g.cfg.WideSpreadThresholdBps > 0 && snap.SpreadBps > g.cfg.WideSpreadThresholdBps {
		d.Warnings = append(d.Warnings, fmt.Sprintf("Spread %.0f bps is wide", snap.SpreadBps))
	}
	if g.cfg.MaxDivergenceBps > 0 && snap.DivergenceBps > g.cfg.MaxDivergenceBps*0.6 {
		d.Warnings = append(d.Warnings, fmt.Sprintf("Divergence %.0f bps approaching the limit", snap.DivergenceBps))
	}

	switch {
	case snap.IsVolatile:
		d.Level = LevelHigh
	case len(d.Warnings) > 0:
		d.Level = LevelMedium
	}
	return d
}
