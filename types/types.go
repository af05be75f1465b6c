package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side of a trade or order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side. The venue client uses it to flip quote
// intent: buying takes the ask, selling hits the bid.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType of a follower order
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TradingMode selects the execution backend
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// OrderStatus is the lifecycle state of a follower order
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusLive      OrderStatus = "live"
	StatusFilled    OrderStatus = "filled"
	StatusPartial   OrderStatus = "partial"
	StatusExpired   OrderStatus = "expired"
	StatusCancelled OrderStatus = "cancelled"
	StatusFailed    OrderStatus = "failed"
)

// Position is a holding reported by the venue (leader or follower).
// Quantity is always >= 0; the venue deletes zero-quantity positions.
type Position struct {
	TokenID      string
	MarketID     string
	Quantity     decimal.Decimal
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
	Title        string
	Outcome      string
}

// TradeEvent is one leader fill observed on the activity feed.
// ID is derived from tx hash + second timestamp + size so that multiple
// fills inside one transaction deduplicate independently.
type TradeEvent struct {
	ID       string
	TokenID  string
	MarketID string
	Side     Side
	Size     decimal.Decimal
	Price    decimal.Decimal
	// Venue time, unix seconds
	Timestamp int64
	Title     string
	Outcome   string

	// Detection metadata, stamped by the activity detector
	DetectedAt         time.Time
	DetectionLatencyMs int64
}

// PriceLevel is one level of an order book side
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a raw venue book. Bids descending, asks ascending once parsed.
type OrderBook struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// IsEmpty reports whether both sides are empty
func (b OrderBook) IsEmpty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// MarketCondition tags a snapshot for the condition gate
type MarketCondition string

const (
	ConditionNormal         MarketCondition = "normal"
	ConditionWideSpread     MarketCondition = "wide_spread"
	ConditionThinBook       MarketCondition = "thin_book"
	ConditionHighDivergence MarketCondition = "high_divergence"
	ConditionStale          MarketCondition = "stale"
)

// MarketSnapshot is a decision-ready view of one token's market.
// One per decision; never cached, never shared between events.
// WeightedAsk/WeightedBid are zero when the book cannot fill the target size.
type MarketSnapshot struct {
	TokenID   string
	Timestamp time.Time

	BestAsk   decimal.Decimal
	BestBid   decimal.Decimal
	Midpoint  decimal.Decimal
	Spread    decimal.Decimal
	SpreadBps float64

	// Depth within depthRangePercent of the best price, per side
	AskDepthNear decimal.Decimal
	BidDepthNear decimal.Decimal

	WeightedAsk decimal.Decimal
	WeightedBid decimal.Decimal

	Divergence    decimal.Decimal
	DivergenceBps float64

	IsVolatile bool
	Condition  MarketCondition
	Reasons    []string
}

// OrderSpec is the follower's order intent after sizing and price adjustment.
// Price is clamped to [0.01, 0.99]; Size > 0, rounded to 0.01.
type OrderSpec struct {
	TokenID        string
	Side           Side
	Size           decimal.Decimal
	Price          decimal.Decimal
	OrderType      OrderType
	ExpirationSec  int
	ExpiresAt      time.Time
	PriceOffsetBps float64
	Trigger        *TradeEvent
}

// OrderResult is the executor's report for one submitted order
type OrderResult struct {
	OrderID       string
	Status        OrderStatus
	FilledSize    decimal.Decimal
	RemainingSize decimal.Decimal
	AvgFillPrice  decimal.Decimal
	ErrorMsg      string
	PlacedAt      time.Time
	ExecutedAt    time.Time
	Mode          TradingMode
	OrderType     OrderType
	Expired       bool
}

// PaperPosition is the paper executor's per-token state.
// EntryPrice is the price of the first BUY that opened the current position;
// averaging-in never changes it, and it resets when quantity reaches zero.
type PaperPosition struct {
	TokenID    string
	MarketID   string
	Quantity   decimal.Decimal
	AvgPrice   decimal.Decimal
	TotalCost  decimal.Decimal
	EntryPrice decimal.Decimal
	OpenedAt   time.Time
}

// SpendTracker holds running BUY spend per token and market plus the
// current holdings value. Updated on every fill.
type SpendTracker struct {
	TokenSpend    map[string]decimal.Decimal
	MarketSpend   map[string]decimal.Decimal
	TotalHoldings decimal.Decimal
}

// NewSpendTracker returns an empty tracker
func NewSpendTracker() SpendTracker {
	return SpendTracker{
		TokenSpend:  make(map[string]decimal.Decimal),
		MarketSpend: make(map[string]decimal.Decimal),
	}
}

// Clone returns a deep copy safe to hand across goroutines
func (s SpendTracker) Clone() SpendTracker {
	out := SpendTracker{
		TokenSpend:    make(map[string]decimal.Decimal, len(s.TokenSpend)),
		MarketSpend:   make(map[string]decimal.Decimal, len(s.MarketSpend)),
		TotalHoldings: s.TotalHoldings,
	}
	for k, v := range s.TokenSpend {
		out.TokenSpend[k] = v
	}
	for k, v := range s.MarketSpend {
		out.MarketSpend[k] = v
	}
	return out
}

// TradingState is the snapshot handed to the risk gate. Derived, never persisted.
type TradingState struct {
	DailyPnL    decimal.Decimal
	TotalPnL    decimal.Decimal
	Balance     decimal.Decimal
	Positions   map[string]decimal.Decimal // token -> quantity
	TotalShares decimal.Decimal
	Spend       SpendTracker
}

// ExitType distinguishes TP/SL triggers
type ExitType string

const (
	ExitTakeProfit ExitType = "take_profit"
	ExitStopLoss   ExitType = "stop_loss"
)

// ExitTrigger is emitted by the TP/SL monitor with a prebuilt market sell
type ExitTrigger struct {
	Type         ExitType
	TokenID      string
	EntryPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	ChangePct    decimal.Decimal
	Order        OrderSpec
}
