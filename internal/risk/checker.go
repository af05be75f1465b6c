package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK CHECKER - The gatekeeper: no order reaches the executor without approval
// ═══════════════════════════════════════════════════════════════════════════════

// Level grades an approved order's residual risk
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Decision is the outcome of a gate check
type Decision struct {
	Approved bool
	Reason   string
	Warnings []string
	Level    Level
}

func reject(reason string) Decision {
	return Decision{Approved: false, Reason: reason, Level: LevelHigh}
}

// Config holds the loss and spend limits. Zero-valued spend limits mean
// unlimited.
type Config struct {
	MaxDailyLoss       decimal.Decimal
	MaxTotalLoss       decimal.Decimal
	MaxTokenSpend      decimal.Decimal
	MaxMarketSpend     decimal.Decimal
	TotalHoldingsLimit decimal.Decimal
}

// Checker runs the ordered risk checks against a trading state
type Checker struct {
	cfg    Config
	killSw *KillSwitch
}

// NewChecker creates a risk checker sharing the process kill switch
func NewChecker(cfg Config, killSw *KillSwitch) *Checker {
	return &Checker{cfg: cfg, killSw: killSw}
}

// Check validates an order. Check order matters: the kill switch is read
// before any other predicate, and a total-loss breach trips it.
func (c *Checker) Check(order types.OrderSpec, marketID string, st types.TradingState) Decision {
	if active, reason := c.killSw.IsActive(); active {
		return reject("Kill switch active: " + reason)
	}

	if c.cfg.MaxTotalLoss.IsPositive() && st.TotalPnL.LessThanOrEqual(c.cfg.MaxTotalLoss.Neg()) {
		c.killSw.Trip(fmt.Sprintf("total loss %s breached limit %s", st.TotalPnL, c.cfg.MaxTotalLoss))
		return reject(fmt.Sprintf("Total loss %s breached limit %s, kill switch engaged", st.TotalPnL, c.cfg.MaxTotalLoss))
	}

	if c.cfg.MaxDailyLoss.IsPositive() && st.DailyPnL.LessThanOrEqual(c.cfg.MaxDailyLoss.Neg()) {
		return reject(fmt.Sprintf("Daily loss %s reached limit %s", st.DailyPnL, c.cfg.MaxDailyLoss))
	}

	cost := order.Size.Mul(order.Price)

	if order.Side == types.SideBuy {
		if cost.GreaterThan(st.Balance) {
			return reject(fmt.Sprintf("Order cost %s exceeds balance %s", cost.StringFixed(2), st.Balance.StringFixed(2)))
		}

		if c.cfg.MaxTokenSpend.IsPositive() {
			spent := st.Spend.TokenSpend[order.TokenID]
			if spent.Add(cost).GreaterThan(c.cfg.MaxTokenSpend) {
				return reject(fmt.Sprintf("Token spend %s + %s would exceed cap %s", spent, cost.StringFixed(2), c.cfg.MaxTokenSpend))
			}
		}
		if c.cfg.MaxMarketSpend.IsPositive() {
			spent := st.Spend.MarketSpend[marketID]
			if spent.Add(cost).GreaterThan(c.cfg.MaxMarketSpend) {
				return reject(fmt.Sprintf("Market spend %s + %s would exceed cap %s", spent, cost.StringFixed(2), c.cfg.MaxMarketSpend))
			}
		}
		if c.cfg.TotalHoldingsLimit.IsPositive() {
			if st.Spend.TotalHoldings.Add(cost).GreaterThan(c.cfg.TotalHoldingsLimit) {
				return reject(fmt.Sprintf("Holdings %s + %s would exceed limit %s", st.Spend.TotalHoldings, cost.StringFixed(2), c.cfg.TotalHoldingsLimit))
			}
		}
	}

	if order.Side == types.SideSell {
		pos := st.Positions[order.TokenID]
		if pos.Sub(order.Size).IsNegative() {
			return reject(fmt.Sprintf("Sell of %s exceeds position %s", order.Size, pos))
		}
	}

	return c.grade(order, cost, st)
}

// grade collects non-blocking warnings and derives the risk level
func (c *Checker) grade(order types.OrderSpec, cost decimal.Decimal, st types.TradingState) Decision {
	d := Decision{Approved: true, Level: LevelLow}
	nearDailyCap := false

	if c.cfg.MaxDailyLoss.IsPositive() && st.DailyPnL.IsNegative() {
		if st.DailyPnL.Neg().GreaterThan(c.cfg.MaxDailyLoss.Mul(decimal.NewFromFloat(0.7))) {
			d.Warnings = append(d.Warnings, "Daily loss above 70% of the limit")
			nearDailyCap = true
		}
	}
	if c.cfg.MaxTotalLoss.IsPositive() && st.TotalPnL.IsNegative() {
		if st.TotalPnL.Neg().GreaterThan(c.cfg.MaxTotalLoss.Mul(decimal.NewFromFloat(0.5))) {
			d.Warnings = append(d.Warnings, "Total loss above 50% of the limit")
		}
	}
	if st.Balance.LessThan(decimal.NewFromInt(50)) {
		d.Warnings = append(d.Warnings, "Balance below $50")
	}
	if st.Balance.IsPositive() && cost.GreaterThan(st.Balance.Mul(decimal.NewFromFloat(0.2))) {
		d.Warnings = append(d.Warnings, "Order cost above 20% of balance")
	}

	switch {
	case nearDailyCap || len(d.Warnings) >= 2:
		d.Level = LevelHigh
	case len(d.Warnings) > 0:
		d.Level = LevelMedium
	}
	return d
}
