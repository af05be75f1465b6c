package market

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET ANALYZER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Turns a raw order book plus the leader's fill price into a decision-ready
// MarketSnapshot: best bid/ask, spread, near-top depth, volume-weighted fill
// price for the intended size, divergence from the leader, and a condition
// tag the gates act on.
//
// ═══════════════════════════════════════════════════════════════════════════════

// AnalyzerConfig holds the thresholds for condition tagging
type AnalyzerConfig struct {
	DepthRangePercent      float64 // levels within ±this of best count as "near" (default 0.01)
	MaxSpreadBps           float64
	WideSpreadThresholdBps float64
	MaxDivergenceBps       float64
	MinDepthShares         decimal.Decimal
}

// Analyzer builds MarketSnapshots
type Analyzer struct {
	cfg AnalyzerConfig
}

// NewAnalyzer creates an analyzer with the given thresholds
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	if cfg.DepthRangePercent <= 0 {
		cfg.DepthRangePercent = 0.01
	}
	return &Analyzer{cfg: cfg}
}

// Analyze parses a raw book into a snapshot. leaderPrice is the leader's
// fill price; targetSize, when positive, selects levels for the
// volume-weighted fill price.
func (a *Analyzer) Analyze(tokenID string, book types.OrderBook, leaderPrice, targetSize decimal.Decimal) types.MarketSnapshot {
	asks := cleanLevels(book.Asks)
	bids := cleanLevels(book.Bids)
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })

	snap := types.MarketSnapshot{
		TokenID:   tokenID,
		Timestamp: time.Now(),
	}

	// An empty side defaults to the leader price so the snapshot stays usable
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
	} else {
		snap.BestAsk = leaderPrice
	}
	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
	} else {
		snap.BestBid = leaderPrice
	}

	snap.Midpoint = snap.BestAsk.Add(snap.BestBid).Div(decimal.NewFromInt(2))
	snap.Spread = snap.BestAsk.Sub(snap.BestBid)
	snap.SpreadBps = toBps(snap.Spread)

	rangePct := decimal.NewFromFloat(a.cfg.DepthRangePercent)
	snap.AskDepthNear = depthNear(asks, snap.BestAsk, rangePct)
	snap.BidDepthNear = depthNear(bids, snap.BestBid, rangePct)

	if targetSize.IsPositive() {
		snap.WeightedAsk = weightedFillPrice(asks, targetSize)
		snap.WeightedBid = weightedFillPrice(bids, targetSize)
	}

	if leaderPrice.IsPositive() {
		snap.Divergence = snap.Midpoint.Sub(leaderPrice).Abs()
		snap.DivergenceBps, _ = snap.Divergence.Div(leaderPrice).Mul(decimal.NewFromInt(10000)).Float64()
	}

	a.classify(&snap, len(asks) == 0 && len(bids) == 0)
	return snap
}

// AnalyzeFromPrices is the fallback when the book endpoint is unavailable:
// a snapshot built from the bid/ask price endpoints, with zero depth.
func (a *Analyzer) AnalyzeFromPrices(tokenID string, ask, bid, leaderPrice decimal.Decimal) types.MarketSnapshot {
	snap := types.MarketSnapshot{
		TokenID:   tokenID,
		Timestamp: time.Now(),
		BestAsk:   ask,
		BestBid:   bid,
	}
	if ask.IsZero() {
		snap.BestAsk = leaderPrice
	}
	if bid.IsZero() {
		snap.BestBid = leaderPrice
	}
	snap.Midpoint = snap.BestAsk.Add(snap.BestBid).Div(decimal.NewFromInt(2))
	snap.Spread = snap.BestAsk.Sub(snap.BestBid)
	snap.SpreadBps = toBps(snap.Spread)

	if leaderPrice.IsPositive() {
		snap.Divergence = snap.Midpoint.Sub(leaderPrice).Abs()
		snap.DivergenceBps, _ = snap.Divergence.Div(leaderPrice).Mul(decimal.NewFromInt(10000)).Float64()
	}

	snap.Reasons = append(snap.Reasons, "Order book unavailable, analyzed from price endpoints")
	a.classify(&snap, ask.IsZero() && bid.IsZero())
	return snap
}

// classify assigns the condition tag. Priority order matters: the first
// matching rule wins and only spread/divergence/depth mark the snapshot
// volatile.
func (a *Analyzer) classify(snap *types.MarketSnapshot, empty bool) {
	switch {
	case empty:
		snap.Condition = types.ConditionStale
		snap.Reasons = append(snap.Reasons, "Order book is empty")
	case a.cfg.MaxSpreadBps > 0 && snap.SpreadBps > a.cfg.MaxSpreadBps:
		snap.Condition = types.ConditionWideSpread
		snap.IsVolatile = true
		snap.Reasons = append(snap.Reasons, fmt.Sprintf("Spread %.0f bps exceeds maximum %.0f bps", snap.SpreadBps, a.cfg.MaxSpreadBps))
	case a.cfg.WideSpreadThresholdBps > 0 && snap.SpreadBps > a.cfg.WideSpreadThresholdBps:
		snap.Condition = types.ConditionWideSpread
		snap.IsVolatile = true
		snap.Reasons = append(snap.Reasons, fmt.Sprintf("Spread %.0f bps above wide threshold %.0f bps", snap.SpreadBps, a.cfg.WideSpreadThresholdBps))
	case a.cfg.MaxDivergenceBps > 0 && snap.DivergenceBps > a.cfg.MaxDivergenceBps:
		snap.Condition = types.ConditionHighDivergence
		snap.IsVolatile = true
		snap.Reasons = append(snap.Reasons, fmt.Sprintf("Price diverged %.0f bps from leader fill", snap.DivergenceBps))
	case snap.AskDepthNear.LessThan(a.cfg.MinDepthShares) || snap.BidDepthNear.LessThan(a.cfg.MinDepthShares):
		snap.Condition = types.ConditionThinBook
		snap.IsVolatile = true
		snap.Reasons = append(snap.Reasons, fmt.Sprintf("Near-top depth below %s shares", a.cfg.MinDepthShares))
	default:
		snap.Condition = types.ConditionNormal
	}
}

// RecommendedPrice picks the execution price for a side: the volume-weighted
// fill price when the book could cover the target size, otherwise the best
// quote.
func (a *Analyzer) RecommendedPrice(snap types.MarketSnapshot, side types.Side) decimal.Decimal {
	if side == types.SideBuy {
		if snap.WeightedAsk.IsPositive() {
			return snap.WeightedAsk
		}
		return snap.BestAsk
	}
	if snap.WeightedBid.IsPositive() {
		return snap.WeightedBid
	}
	return snap.BestBid
}

// cleanLevels drops levels with non-positive price or size
func cleanLevels(levels []types.PriceLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Price.IsPositive() && l.Size.IsPositive() {
			out = append(out, l)
		}
	}
	return out
}

// depthNear sums size for levels within ±rangePct of the best price
func depthNear(levels []types.PriceLevel, best, rangePct decimal.Decimal) decimal.Decimal {
	if best.IsZero() {
		return decimal.Zero
	}
	band := best.Mul(rangePct)
	total := decimal.Zero
	for _, l := range levels {
		if l.Price.Sub(best).Abs().LessThanOrEqual(band) {
			total = total.Add(l.Size)
		}
	}
	return total
}

// weightedFillPrice walks sorted levels accumulating cost until target is
// filled. Returns zero when the book cannot fill the target.
func weightedFillPrice(levels []types.PriceLevel, target decimal.Decimal) decimal.Decimal {
	remaining := target
	cost := decimal.Zero
	for _, l := range levels {
		take := decimal.Min(remaining, l.Size)
		cost = cost.Add(take.Mul(l.Price))
		remaining = remaining.Sub(take)
		if remaining.IsZero() {
			return cost.Div(target)
		}
	}
	return decimal.Zero
}

// toBps converts an absolute price difference to basis points of $1
func toBps(d decimal.Decimal) float64 {
	f, _ := d.Mul(decimal.NewFromInt(10000)).Float64()
	return f
}
