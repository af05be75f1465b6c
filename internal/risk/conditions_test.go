package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

func newTestGate() *ConditionGate {
	return NewConditionGate(ConditionConfig{
		MaxSpreadBps:           800,
		WideSpreadThresholdBps: 400,
		MaxDivergenceBps:       500,
		MinDepthShares:         decimal.NewFromInt(20),
	})
}

func okSnap() types.MarketSnapshot {
	return types.MarketSnapshot{
		Condition:    types.ConditionNormal,
		SpreadBps:    100,
		AskDepthNear: decimal.NewFromInt(200),
		BidDepthNear: decimal.NewFromInt(200),
	}
}

func TestSpreadBoundary(t *testing.T) {
	t.Parallel()
	g := newTestGate()

	snap := okSnap()
	snap.SpreadBps = 790
	if got := g.CheckConditions(snap, types.SideBuy, d(10)); !got.Approved {
		t.Errorf("790 bps rejected: %s", got.Reason)
	}

	snap.SpreadBps = 810
	if got := g.CheckConditions(snap, types.SideBuy, d(10)); got.Approved {
		t.Error("810 bps approved")
	}
}

func TestStaleMarketRejected(t *testing.T) {
	t.Parallel()
	g := newTestGate()
	snap := okSnap()
	snap.Condition = types.ConditionStale
	if got := g.CheckConditions(snap, types.SideBuy, d(10)); got.Approved {
		t.Error("stale market approved")
	}
}

func TestDivergenceRejectedAndWarned(t *testing.T) {
	t.Parallel()
	g := newTestGate()

	snap := okSnap()
	snap.DivergenceBps = 600
	if got := g.CheckConditions(snap, types.SideBuy, d(10)); got.Approved {
		t.Error("600 bps divergence approved, max is 500")
	}

	// 60% of the limit draws a warning but passes
	snap.DivergenceBps = 350
	got := g.CheckConditions(snap, types.SideBuy, d(10))
	if !got.Approved {
		t.Fatalf("rejected: %s", got.Reason)
	}
	if len(got.Warnings) == 0 {
		t.Error("expected a divergence warning")
	}
}

func TestDepthCheckNeedsSize(t *testing.T) {
	t.Parallel()
	g := newTestGate()
	snap := okSnap()
	snap.AskDepthNear = decimal.NewFromInt(10)

	// Pre-sizing pass: depth below minimum but no size yet
	if got := g.CheckConditions(snap, types.SideBuy, decimal.Zero); !got.Approved {
		t.Errorf("pre-sizing pass rejected: %s", got.Reason)
	}
	// With a size the thin book is a hard reject
	if got := g.CheckConditions(snap, types.SideBuy, d(10)); got.Approved {
		t.Error("thin book approved for a sized order")
	}
	// SELL checks the bid side
	if got := g.CheckConditions(snap, types.SideSell, d(10)); !got.Approved {
		t.Errorf("SELL uses ask depth: %s", got.Reason)
	}
}

func TestConditionWarningsAndLevel(t *testing.T) {
	t.Parallel()
	g := newTestGate()

	// Order eats more than half the near depth
	snap := okSnap()
	got := g.CheckConditions(snap, types.SideBuy, d(150))
	if !got.Approved || len(got.Warnings) != 1 || got.Level != LevelMedium {
		t.Errorf("got approved=%v warnings=%v level=%s, want one medium warning", got.Approved, got.Warnings, got.Level)
	}

	// Volatile snapshot grades high even when approved
	snap = okSnap()
	snap.IsVolatile = true
	got = g.CheckConditions(snap, types.SideBuy, d(10))
	if !got.Approved || got.Level != LevelHigh {
		t.Errorf("volatile: approved=%v level=%s, want approved high", got.Approved, got.Level)
	}
}
