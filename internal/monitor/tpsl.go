package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/internal/venue"
	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TP/SL MONITOR - Scans open positions for take-profit / stop-loss exits
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every scan interval the monitor prices all open positions in parallel
// (SELL intent, since an exit hits the bid) and compares each against its
// entry price. A crossing emits one ExitTrigger carrying a prebuilt
// full-quantity market sell; the engine executes it like any other event.
// A token fires at most once per open position.
//
// ═══════════════════════════════════════════════════════════════════════════════

const scanInterval = 5 * time.Second

// positionSource is the slice of the executor the monitor reads
type positionSource interface {
	GetAllPositionDetails() map[string]types.PaperPosition
}

// priceSource is the slice of the venue client the monitor reads
type priceSource interface {
	GetPricesParallel(ctx context.Context, reqs []venue.PriceRequest) []venue.PriceResult
}

// Config holds the exit thresholds as fractions (0.10 = 10%)
type Config struct {
	TakeProfitPercent float64
	StopLossPercent   float64
}

// TpSl watches positions and emits exit triggers
type TpSl struct {
	cfg       Config
	positions positionSource
	prices    priceSource

	// Called once per crossing with the prebuilt exit order
	OnTrigger func(types.ExitTrigger)

	mu    sync.Mutex
	fired map[string]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTpSl creates a monitor
func NewTpSl(cfg Config, positions positionSource, prices priceSource) *TpSl {
	return &TpSl{
		cfg:       cfg,
		positions: positions,
		prices:    prices,
		fired:     make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the scan loop
func (m *TpSl) Start(ctx context.Context) {
	log.Info().
		Float64("take_profit", m.cfg.TakeProfitPercent).
		Float64("stop_loss", m.cfg.StopLossPercent).
		Msg("🎯 TP/SL monitor started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Scan(ctx)
			}
		}
	}()
}

// Stop halts scanning
func (m *TpSl) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	log.Info().Msg("TP/SL monitor stopped")
}

// Scan prices every open position and emits triggers for crossings
func (m *TpSl) Scan(ctx context.Context) {
	positions := m.positions.GetAllPositionDetails()
	m.forgetClosed(positions)
	if len(positions) == 0 {
		return
	}

	reqs := make([]venue.PriceRequest, 0, len(positions))
	for id := range positions {
		reqs = append(reqs, venue.PriceRequest{TokenID: id, Intent: types.SideSell})
	}
	results := m.prices.GetPricesParallel(ctx, reqs)

	for _, r := range results {
		if r.Err != nil || !r.Price.IsPositive() {
			continue
		}
		pos := positions[r.TokenID]
		if trigger, ok := m.evaluate(pos, r.Price); ok {
			m.markFired(r.TokenID)
			log.Info().
				Str("type", string(trigger.Type)).
				Str("entry", trigger.EntryPrice.String()).
				Str("current", trigger.CurrentPrice.String()).
				Str("change_pct", trigger.ChangePct.StringFixed(2)).
				Msg("🎯 Exit trigger")
			if m.OnTrigger != nil {
				m.OnTrigger(trigger)
			}
		}
	}
}

// evaluate checks one position against the thresholds
func (m *TpSl) evaluate(pos types.PaperPosition, current decimal.Decimal) (types.ExitTrigger, bool) {
	if m.hasFired(pos.TokenID) || !pos.EntryPrice.IsPositive() || !pos.Quantity.IsPositive() {
		return types.ExitTrigger{}, false
	}

	change := current.Sub(pos.EntryPrice).Div(pos.EntryPrice)

	var exitType types.ExitType
	switch {
	case m.cfg.TakeProfitPercent > 0 && change.GreaterThanOrEqual(decimal.NewFromFloat(m.cfg.TakeProfitPercent)):
		exitType = types.ExitTakeProfit
	case m.cfg.StopLossPercent > 0 && change.LessThanOrEqual(decimal.NewFromFloat(m.cfg.StopLossPercent).Neg()):
		exitType = types.ExitStopLoss
	default:
		return types.ExitTrigger{}, false
	}

	return types.ExitTrigger{
		Type:         exitType,
		TokenID:      pos.TokenID,
		EntryPrice:   pos.EntryPrice,
		CurrentPrice: current,
		ChangePct:    change.Mul(decimal.NewFromInt(100)),
		Order: types.OrderSpec{
			TokenID:   pos.TokenID,
			Side:      types.SideSell,
			Size:      pos.Quantity,
			Price:     current,
			OrderType: types.OrderTypeMarket,
		},
	}, true
}

func (m *TpSl) hasFired(tokenID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.fired[tokenID]
	return ok
}

// Rearm clears a token's fired mark so its thresholds can trigger again.
// The engine calls this when an emitted exit did not reach execution.
func (m *TpSl) Rearm(tokenID string) {
	m.mu.Lock()
	delete(m.fired, tokenID)
	m.mu.Unlock()
}

func (m *TpSl) markFired(tokenID string) {
	m.mu.Lock()
	m.fired[tokenID] = struct{}{}
	m.mu.Unlock()
}

// forgetClosed clears the fired marks of positions that no longer exist so
// a reopened position can trigger again
func (m *TpSl) forgetClosed(open map[string]types.PaperPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.fired {
		if _, ok := open[id]; !ok {
			delete(m.fired, id)
		}
	}
}
