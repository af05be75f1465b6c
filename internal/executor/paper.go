package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER EXECUTOR - Full fill simulation against a virtual balance
// ═══════════════════════════════════════════════════════════════════════════════
//
// Fills are immediate at the order price. A BUY the balance cannot cover in
// full fills partially: affordable = floor(balance / price) shares. Position
// state keeps a cost-weighted average price for P&L and a stable entry price
// for TP/SL; averaging in never moves the entry price.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Paper simulates order execution in memory
type Paper struct {
	mu        sync.RWMutex
	balance   decimal.Decimal
	positions map[string]*types.PaperPosition
	spend     types.SpendTracker

	dailyPnL decimal.Decimal
	totalPnL decimal.Decimal
	pnlDay   time.Time // UTC midnight of the day dailyPnL covers

	ordersPlaced int
	ordersFilled int
}

// NewPaper creates a paper executor with the given starting balance
func NewPaper(startingBalance decimal.Decimal) *Paper {
	log.Info().Str("balance", startingBalance.StringFixed(2)).Msg("📄 Paper executor ready")
	return &Paper{
		balance:   startingBalance,
		positions: make(map[string]*types.PaperPosition),
		spend:     types.NewSpendTracker(),
		pnlDay:    utcDay(time.Now()),
	}
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Execute fills the order against the virtual book state
func (p *Paper) Execute(_ context.Context, order types.OrderSpec) (types.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollDayLocked()
	p.ordersPlaced++

	now := time.Now()
	result := types.OrderResult{
		OrderID:   "paper-" + uuid.NewString(),
		Mode:      types.ModePaper,
		OrderType: order.OrderType,
		PlacedAt:  now,
	}

	switch order.Side {
	case types.SideBuy:
		p.fillBuyLocked(order, &result)
	case types.SideSell:
		p.fillSellLocked(order, &result)
	default:
		result.Status = types.StatusFailed
		result.ErrorMsg = "unknown order side"
		return result, nil
	}

	if result.Status == types.StatusFilled || result.Status == types.StatusPartial {
		p.ordersFilled++
		result.ExecutedAt = now
		log.Info().
			Str("side", string(order.Side)).
			Str("filled", result.FilledSize.String()).
			Str("price", result.AvgFillPrice.String()).
			Str("balance", p.balance.StringFixed(2)).
			Msg("📄 Paper fill")
	}
	return result, nil
}

func (p *Paper) fillBuyLocked(order types.OrderSpec, result *types.OrderResult) {
	price := order.Price
	affordable := p.balance.Div(price).RoundFloor(0)
	if affordable.LessThanOrEqual(decimal.Zero) {
		result.Status = types.StatusFailed
		result.ErrorMsg = "Insufficient balance"
		result.RemainingSize = order.Size
		return
	}

	filled := order.Size
	if filled.GreaterThan(affordable) {
		filled = affordable
		result.Status = types.StatusPartial
		log.Warn().
			Str("requested", order.Size.String()).
			Str("filled", filled.String()).
			Msg("Partial paper fill, balance exhausted")
	} else {
		result.Status = types.StatusFilled
	}

	cost := filled.Mul(price)
	p.balance = p.balance.Sub(cost)

	pos, ok := p.positions[order.TokenID]
	if !ok {
		pos = &types.PaperPosition{
			TokenID:    order.TokenID,
			EntryPrice: price,
			OpenedAt:   time.Now(),
		}
		p.positions[order.TokenID] = pos
	}
	if order.Trigger != nil {
		pos.MarketID = order.Trigger.MarketID
	}
	pos.TotalCost = pos.TotalCost.Add(cost)
	pos.Quantity = pos.Quantity.Add(filled)
	pos.AvgPrice = pos.TotalCost.Div(pos.Quantity)

	p.spend.TokenSpend[order.TokenID] = p.spend.TokenSpend[order.TokenID].Add(cost)
	if pos.MarketID != "" {
		p.spend.MarketSpend[pos.MarketID] = p.spend.MarketSpend[pos.MarketID].Add(cost)
	}
	p.spend.TotalHoldings = p.spend.TotalHoldings.Add(cost)

	result.FilledSize = filled
	result.RemainingSize = order.Size.Sub(filled)
	result.AvgFillPrice = price
}

func (p *Paper) fillSellLocked(order types.OrderSpec, result *types.OrderResult) {
	pos, ok := p.positions[order.TokenID]
	if !ok || pos.Quantity.LessThanOrEqual(decimal.Zero) {
		result.Status = types.StatusFailed
		result.ErrorMsg = "No position to sell"
		result.RemainingSize = order.Size
		return
	}

	filled := decimal.Min(order.Size, pos.Quantity)
	if filled.LessThan(order.Size) {
		result.Status = types.StatusPartial
	} else {
		result.Status = types.StatusFilled
	}

	price := order.Price
	proceeds := filled.Mul(price)
	costBasis := filled.Mul(pos.AvgPrice)
	pnl := proceeds.Sub(costBasis)

	p.balance = p.balance.Add(proceeds)
	p.dailyPnL = p.dailyPnL.Add(pnl)
	p.totalPnL = p.totalPnL.Add(pnl)

	pos.Quantity = pos.Quantity.Sub(filled)
	pos.TotalCost = pos.TotalCost.Sub(costBasis)
	p.spend.TotalHoldings = decimal.Max(decimal.Zero, p.spend.TotalHoldings.Sub(costBasis))
	if pos.Quantity.IsZero() {
		delete(p.positions, order.TokenID)
	}

	result.FilledSize = filled
	result.RemainingSize = order.Size.Sub(filled)
	result.AvgFillPrice = price

	log.Info().
		Str("pnl", pnl.StringFixed(2)).
		Str("daily_pnl", p.dailyPnL.StringFixed(2)).
		Msg("📄 Paper sell settled")
}

// rollDayLocked resets the daily P&L when the UTC day changes
func (p *Paper) rollDayLocked() {
	today := utcDay(time.Now())
	if today.After(p.pnlDay) {
		log.Info().Str("closed_day_pnl", p.dailyPnL.StringFixed(2)).Msg("Daily P&L reset")
		p.dailyPnL = decimal.Zero
		p.pnlDay = today
	}
}

// GetBalance returns the remaining virtual balance
func (p *Paper) GetBalance(_ context.Context) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance, nil
}

// GetPosition returns the held quantity for a token
func (p *Paper) GetPosition(tokenID string) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos, ok := p.positions[tokenID]; ok {
		return pos.Quantity
	}
	return decimal.Zero
}

// GetAllPositions returns token -> quantity
func (p *Paper) GetAllPositions() map[string]decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(p.positions))
	for id, pos := range p.positions {
		out[id] = pos.Quantity
	}
	return out
}

// GetAllPositionDetails returns copies of every open position
func (p *Paper) GetAllPositionDetails() map[string]types.PaperPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]types.PaperPosition, len(p.positions))
	for id, pos := range p.positions {
		out[id] = *pos
	}
	return out
}

// GetSpendTracker returns a copy of the spend totals
func (p *Paper) GetSpendTracker() types.SpendTracker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.spend.Clone()
}

// DailyPnL returns realized P&L for the current UTC day
func (p *Paper) DailyPnL() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDayLocked()
	return p.dailyPnL
}

// TotalPnL returns realized P&L since start
func (p *Paper) TotalPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalPnL
}

// SellAllPositions exits every position at the price from prices, falling
// back to the recorded average price when a token has no quote. One result
// per position held at call time; a second call returns an empty list.
func (p *Paper) SellAllPositions(ctx context.Context, prices map[string]decimal.Decimal) []types.OrderResult {
	p.mu.RLock()
	orders := make([]types.OrderSpec, 0, len(p.positions))
	for id, pos := range p.positions {
		price, ok := prices[id]
		if !ok || !price.IsPositive() {
			price = pos.AvgPrice
		}
		orders = append(orders, types.OrderSpec{
			TokenID:   id,
			Side:      types.SideSell,
			Size:      pos.Quantity,
			Price:     price,
			OrderType: types.OrderTypeMarket,
		})
	}
	p.mu.RUnlock()

	log.Warn().Int("positions", len(orders)).Msg("Selling all paper positions")

	results := make([]types.OrderResult, 0, len(orders))
	for _, o := range orders {
		r, _ := p.Execute(ctx, o)
		results = append(results, r)
	}
	return results
}

// CancelAllOrders is a no-op: paper fills are immediate
func (p *Paper) CancelAllOrders(context.Context) error { return nil }

// GetMode reports paper
func (p *Paper) GetMode() types.TradingMode { return types.ModePaper }

// IsReady is always true for paper
func (p *Paper) IsReady() bool { return true }

// Stats returns order counters for the status snapshot
func (p *Paper) Stats() (placed, filled int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ordersPlaced, p.ordersFilled
}
