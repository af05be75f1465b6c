package sizing

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/internal/config"
	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COPY-SIZE CALCULATOR
// ═══════════════════════════════════════════════════════════════════════════════
//
// Turns a leader fill into a follower order size. BUY sizing follows the
// configured strategy (portfolio %, trader-ratio or fixed); SELL sizing
// mirrors the leader's exit against the follower's actual position. Both go
// through caps, minimum-size policy and an affordability/position clamp.
//
// ═══════════════════════════════════════════════════════════════════════════════

// VenueMinShares is the venue's hard floor on order size
var VenueMinShares = decimal.NewFromInt(5)

// Config holds the sizing knobs
type Config struct {
	Method              string
	PortfolioPercent    decimal.Decimal
	MinOrderSize        decimal.Decimal
	MaxPositionPerToken decimal.Decimal
	BelowMinAction      string
	SellStrategy        string
}

// Calculator sizes follower orders
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// BuyInput carries everything BUY sizing can use
type BuyInput struct {
	Price                decimal.Decimal
	LeaderDelta          decimal.Decimal
	Balance              decimal.Decimal
	LeaderPortfolioValue decimal.Decimal // zero when unknown
}

// CalculateBuy returns the follower BUY size in shares. A zero result means
// skip the copy.
func (c *Calculator) CalculateBuy(in BuyInput) decimal.Decimal {
	if in.Price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	var shares decimal.Decimal
	switch c.cfg.Method {
	case config.SizingProportionalToTrader:
		if in.LeaderPortfolioValue.IsPositive() {
			shares = in.LeaderDelta.Mul(in.Balance).Div(in.LeaderPortfolioValue)
		} else {
			// Leader portfolio value unknown: copy a tenth of the leader's size
			shares = in.LeaderDelta.Mul(decimal.NewFromFloat(0.1))
		}
	case config.SizingFixed, config.SizingProportionalToPortfolio:
		shares = in.Balance.Mul(c.cfg.PortfolioPercent).Div(in.Price)
	default:
		shares = in.Balance.Mul(c.cfg.PortfolioPercent).Div(in.Price)
	}

	// 1. Position cap
	if c.cfg.MaxPositionPerToken.IsPositive() && shares.GreaterThan(c.cfg.MaxPositionPerToken) {
		shares = c.cfg.MaxPositionPerToken
	}

	// 2. Minimum-size policy
	if shares.LessThan(c.cfg.MinOrderSize) {
		if c.cfg.BelowMinAction == config.BelowMinBuyAtMin {
			shares = decimal.Max(c.cfg.MinOrderSize, VenueMinShares)
		} else {
			return decimal.Zero
		}
	}

	// 3. Round down to 0.01 shares
	shares = shares.RoundFloor(2)

	// 4. Affordability clamp
	if shares.Mul(in.Price).GreaterThan(in.Balance) {
		shares = in.Balance.Div(in.Price).RoundFloor(2)
	}

	return shares
}

// SellInput carries everything SELL sizing can use
type SellInput struct {
	FollowerPosition decimal.Decimal
	LeaderDelta      decimal.Decimal
	LeaderPrevQty    decimal.Decimal // leader holding before this sell
}

// CalculateSell returns the follower SELL size in shares; zero means skip.
func (c *Calculator) CalculateSell(in SellInput) decimal.Decimal {
	if in.FollowerPosition.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	var shares decimal.Decimal
	switch c.cfg.SellStrategy {
	case config.SellFullExit:
		shares = in.FollowerPosition
	case config.SellMatchDelta:
		shares = decimal.Min(in.LeaderDelta, in.FollowerPosition)
	case config.SellProportional:
		fallthrough
	default:
		if in.LeaderPrevQty.IsPositive() {
			shares = in.FollowerPosition.Mul(in.LeaderDelta.Div(in.LeaderPrevQty))
		} else {
			// Leader history unknown; mirror the exit in full
			shares = in.FollowerPosition
		}
	}

	if shares.GreaterThan(in.FollowerPosition) {
		shares = in.FollowerPosition
	}
	shares = shares.RoundFloor(2)

	// Below-minimum sells only pass when they close the position entirely
	if shares.LessThan(c.cfg.MinOrderSize) && !shares.Equal(in.FollowerPosition.RoundFloor(2)) {
		return decimal.Zero
	}

	return shares
}

// ShouldCopy is the cheap pre-filter before any market data is fetched
func (c *Calculator) ShouldCopy(side types.Side, leaderDelta, followerPos decimal.Decimal) (bool, string) {
	if leaderDelta.LessThan(decimal.NewFromInt(1)) {
		return false, "Leader trade below one share, not worth copying"
	}
	if side == types.SideSell && followerPos.LessThanOrEqual(decimal.Zero) {
		return false, "Leader sold a token the follower does not hold"
	}
	return true, ""
}

// AdjustForDepth shrinks an order that would eat through the near-top book.
// The result never exceeds the requested size; with no depth data the size
// passes through untouched.
func (c *Calculator) AdjustForDepth(shares decimal.Decimal, snap types.MarketSnapshot, side types.Side) (decimal.Decimal, string) {
	nearDepth := snap.AskDepthNear
	if side == types.SideSell {
		nearDepth = snap.BidDepthNear
	}

	if nearDepth.IsZero() || shares.LessThanOrEqual(nearDepth) {
		return shares, ""
	}

	reduced := decimal.Max(c.cfg.MinOrderSize, nearDepth.Mul(decimal.NewFromFloat(0.8)).RoundFloor(2))
	if reduced.GreaterThan(shares) {
		reduced = shares
	}

	note := fmt.Sprintf("Size reduced from %s to %s shares: only %s near top of book", shares, reduced, nearDepth)
	log.Debug().Str("token", snap.TokenID).Msg(note)
	return reduced, note
}

// AdaptiveExpiration halves the order lifetime in volatile markets, with a
// 5 second floor.
func (c *Calculator) AdaptiveExpiration(snap types.MarketSnapshot, baseSeconds int) int {
	if !snap.IsVolatile {
		return baseSeconds
	}
	half := baseSeconds / 2
	if half < 5 {
		return 5
	}
	return half
}
