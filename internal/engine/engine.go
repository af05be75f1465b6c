package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/internal/alert"
	"github.com/web3guy0/polycopy/internal/config"
	"github.com/web3guy0/polycopy/internal/executor"
	"github.com/web3guy0/polycopy/internal/market"
	"github.com/web3guy0/polycopy/internal/risk"
	"github.com/web3guy0/polycopy/internal/sizing"
	"github.com/web3guy0/polycopy/internal/store"
	"github.com/web3guy0/polycopy/internal/venue"
	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COPY ENGINE - Serial consumer of leader trades and exit triggers
// ═══════════════════════════════════════════════════════════════════════════════
//
// Detectors and monitors are producers publishing onto one bounded queue;
// the engine is its only consumer, so every order decision is made against
// a consistent view of follower state. Within one event the market fan-out
// (book, balance, leader value, position) is the only parallel stage.
//
// ═══════════════════════════════════════════════════════════════════════════════

const eventQueueSize = 64

// EventKind tags an inbound event
type EventKind int

const (
	EventLeaderTrade EventKind = iota
	EventExitTrigger
	EventSellAll
)

// InboundEvent is one unit of work for the engine
type InboundEvent struct {
	Kind  EventKind
	Trade types.TradeEvent
	Exit  types.ExitTrigger
}

// MarketData is the slice of the venue client the engine reads
type MarketData interface {
	GetOrderBook(ctx context.Context, tokenID string) (types.OrderBook, error)
	GetPrice(ctx context.Context, tokenID string, intent types.Side) (decimal.Decimal, error)
	GetPricesParallel(ctx context.Context, reqs []venue.PriceRequest) []venue.PriceResult
	GetPortfolioValue(ctx context.Context, addr string, forceRefresh bool) (decimal.Decimal, error)
	DriftMs() int64
}

// WatchedSink receives replacements of the watched-tokens set
type WatchedSink interface {
	SetWatched(tokens []string)
}

// Deps are the engine's collaborators. Store and Alerts may be nil.
type Deps struct {
	Data     MarketData
	Analyzer *market.Analyzer
	Adjuster *market.Adjuster
	Sizer    *sizing.Calculator
	Checker  *risk.Checker
	Gate     *risk.ConditionGate
	Exec     executor.Executor
	Store    *store.Store
	Alerts   *alert.Sink

	// Watched-set replicas (price warmer, websocket trigger)
	WatchedSinks []WatchedSink

	// PollCount feeds the session row at close; may be nil
	PollCount func() int64
}

// Stats is the engine's status snapshot
type Stats struct {
	TradesDetected int64
	TradesExecuted int64
	TradesRejected int64
	TradesSkipped  int64
	Latency        Snapshot
}

// Engine consumes events and drives the copy pipeline
type Engine struct {
	cfg  *config.Config
	deps Deps

	// Called when an exit trigger does not reach execution, so the
	// monitor can re-arm the token and fire again on the next scan
	OnExitRejected func(tokenID string)

	events chan InboundEvent

	mu        sync.Mutex
	watched   map[string]struct{}
	leaderQty map[string]decimal.Decimal
	detected  int64
	executed  int64
	rejected  int64
	skipped   int64

	latency   LatencyStats
	sessionID uint

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates the engine
func New(cfg *config.Config, deps Deps) *Engine {
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		events:    make(chan InboundEvent, eventQueueSize),
		watched:   make(map[string]struct{}),
		leaderQty: make(map[string]decimal.Decimal),
		stopCh:    make(chan struct{}),
	}
}

// Start opens the session and launches the consumer loop
func (e *Engine) Start(ctx context.Context) {
	if e.deps.Store != nil {
		balance, _ := e.deps.Exec.GetBalance(ctx)
		e.sessionID = e.deps.Store.OpenSession(
			string(e.cfg.TradingMode),
			e.cfg.DetectionMethod,
			e.cfg.LeaderAddress,
			balance,
		)
	}

	log.Info().
		Str("leader", e.cfg.LeaderAddress).
		Str("mode", string(e.cfg.TradingMode)).
		Msg("🚀 Copy engine started")

	e.wg.Add(1)
	go e.run(ctx)
}

// Stop drains the consumer and closes the session
func (e *Engine) Stop(ctx context.Context) {
	close(e.stopCh)
	e.wg.Wait()

	if e.deps.Store != nil {
		var polls int64
		if e.deps.PollCount != nil {
			polls = e.deps.PollCount()
		}
		balance, _ := e.deps.Exec.GetBalance(ctx)
		e.mu.Lock()
		detected, executed := e.detected, e.executed
		e.mu.Unlock()
		e.deps.Store.CloseSession(e.sessionID, detected, executed, polls, e.deps.Exec.TotalPnL(), balance)
	}
	log.Info().Msg("Copy engine stopped")
}

// SubmitTrade queues a leader trade. A full queue drops the event with a
// warning rather than blocking the detector.
func (e *Engine) SubmitTrade(t types.TradeEvent) {
	e.submit(InboundEvent{Kind: EventLeaderTrade, Trade: t})
}

// SubmitExit queues a TP/SL trigger
func (e *Engine) SubmitExit(trigger types.ExitTrigger) {
	e.submit(InboundEvent{Kind: EventExitTrigger, Exit: trigger})
}

// SubmitSellAll queues a full exit of every position
func (e *Engine) SubmitSellAll() {
	e.submit(InboundEvent{Kind: EventSellAll})
}

func (e *Engine) submit(ev InboundEvent) {
	select {
	case e.events <- ev:
	default:
		log.Warn().Int("kind", int(ev.Kind)).Msg("Event queue full, dropping event")
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case ev := <-e.events:
			switch ev.Kind {
			case EventLeaderTrade:
				e.handleTradeEvent(ctx, ev.Trade)
			case EventExitTrigger:
				e.handleExit(ctx, ev.Exit)
			case EventSellAll:
				e.handleSellAll(ctx)
			}
		}
	}
}

// ───────────────────────────────────────────────────────────────────────────────
// Leader trade pipeline
// ───────────────────────────────────────────────────────────────────────────────

func (e *Engine) handleTradeEvent(ctx context.Context, ev types.TradeEvent) {
	t0 := time.Now()
	e.mu.Lock()
	e.detected++
	prevQty := e.leaderQty[ev.TokenID]
	e.mu.Unlock()

	if ev.Side == types.SideBuy {
		e.watch(ev.TokenID)
	}
	defer e.updateLeaderQty(ev)

	// Market fan-out: one logical join point, everything else sequential
	var (
		book        types.OrderBook
		bookErr     error
		balance     decimal.Decimal
		balanceErr  error
		leaderValue decimal.Decimal
		followerPos decimal.Decimal
		wg          sync.WaitGroup
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		book, bookErr = e.deps.Data.GetOrderBook(ctx, ev.TokenID)
	}()
	go func() {
		defer wg.Done()
		balance, balanceErr = e.deps.Exec.GetBalance(ctx)
	}()
	go func() {
		defer wg.Done()
		leaderValue, _ = e.deps.Data.GetPortfolioValue(ctx, e.cfg.LeaderAddress, false)
	}()
	if ev.Side == types.SideSell {
		wg.Add(1)
		go func() {
			defer wg.Done()
			followerPos = e.deps.Exec.GetPosition(ev.TokenID)
		}()
	}
	wg.Wait()

	if balanceErr != nil {
		log.Error().Err(balanceErr).Msg("Balance fetch failed, skipping event")
		e.skip()
		return
	}

	if ok, reason := e.deps.Sizer.ShouldCopy(ev.Side, ev.Size, followerPos); !ok {
		log.Info().Str("reason", reason).Msg("Skipping leader trade")
		e.skip()
		return
	}

	snap := e.buildSnapshot(ctx, ev, book, bookErr)

	if decision := e.deps.Gate.CheckConditions(snap, ev.Side, decimal.Zero); !decision.Approved {
		e.reject(ev, "Market conditions: "+decision.Reason)
		return
	}

	price := e.deps.Analyzer.RecommendedPrice(snap, ev.Side)
	if !price.IsPositive() {
		price = ev.Price
	}

	size := e.calculateSize(ctx, ev, price, balance, leaderValue, followerPos, prevQty)
	if !size.IsPositive() {
		log.Info().Msg("Sized to zero, not copying")
		e.skip()
		return
	}
	size, depthNote := e.deps.Sizer.AdjustForDepth(size, snap, ev.Side)
	if depthNote != "" && e.deps.Alerts != nil {
		e.deps.Alerts.Notify(alert.SeverityLow, "Size reduced", depthNote)
	}

	// Re-gate with the sized order when real depth data exists
	if snap.AskDepthNear.IsPositive() || snap.BidDepthNear.IsPositive() {
		if decision := e.deps.Gate.CheckConditions(snap, ev.Side, size); !decision.Approved {
			e.reject(ev, "Market conditions: "+decision.Reason)
			return
		}
	}

	adjustedPrice, effOffset := e.deps.Adjuster.AdjustAdaptive(price, ev.Side, snap)
	expiration := e.deps.Sizer.AdaptiveExpiration(snap, e.cfg.OrderExpirationSec)

	trigger := ev
	order := types.OrderSpec{
		TokenID:        ev.TokenID,
		Side:           ev.Side,
		Size:           size,
		Price:          adjustedPrice,
		OrderType:      e.cfg.OrderType,
		ExpirationSec:  expiration,
		ExpiresAt:      time.Now().Add(time.Duration(expiration) * time.Second),
		PriceOffsetBps: effOffset,
		Trigger:        &trigger,
	}

	st := e.tradingState(balance)
	if decision := e.deps.Checker.Check(order, ev.MarketID, st); !decision.Approved {
		e.reject(ev, decision.Reason)
		return
	}

	// Capture the cost basis before execution so SELL P&L is deterministic
	var entryPrice decimal.Decimal
	if ev.Side == types.SideSell {
		if pos, ok := e.deps.Exec.GetAllPositionDetails()[ev.TokenID]; ok {
			entryPrice = pos.AvgPrice
		}
	}

	result, err := e.deps.Exec.Execute(ctx, order)
	if err != nil {
		log.Error().Err(err).Msg("Execution failed")
		e.reject(ev, "Execution error: "+err.Error())
		return
	}

	drift := e.deps.Data.DriftMs()
	detectionMs := e.latency.Detection.Record(ev.DetectionLatencyMs, drift)
	executionMs := e.latency.Execution.Record(time.Since(t0).Milliseconds(), 0)
	totalMs := e.latency.Total.Record(time.Now().UnixMilli()-ev.Timestamp*1000, drift)

	var pnl decimal.NullDecimal
	if ev.Side == types.SideSell && result.FilledSize.IsPositive() && entryPrice.IsPositive() {
		pnl = decimal.NullDecimal{
			Decimal: result.FilledSize.Mul(result.AvgFillPrice.Sub(entryPrice)),
			Valid:   true,
		}
	}

	e.persist(ev, order, result, pnl, detectionMs, executionMs, totalMs)
	e.report(ev, order, result, pnl, totalMs)
}

// buildSnapshot prefers the real book, falling back to the price endpoints
// or the leader's own fill price
func (e *Engine) buildSnapshot(ctx context.Context, ev types.TradeEvent, book types.OrderBook, bookErr error) types.MarketSnapshot {
	if bookErr == nil && !book.IsEmpty() {
		return e.deps.Analyzer.Analyze(ev.TokenID, book, ev.Price, ev.Size)
	}

	if e.cfg.UseTraderPrice {
		return e.deps.Analyzer.AnalyzeFromPrices(ev.TokenID, ev.Price, ev.Price, ev.Price)
	}

	results := e.deps.Data.GetPricesParallel(ctx, []venue.PriceRequest{
		{TokenID: ev.TokenID, Intent: types.SideBuy},
		{TokenID: ev.TokenID, Intent: types.SideSell},
	})
	ask, bid := results[0].Price, results[1].Price
	if results[0].Err != nil || results[1].Err != nil {
		return e.deps.Analyzer.AnalyzeFromPrices(ev.TokenID, decimal.Zero, decimal.Zero, ev.Price)
	}
	return e.deps.Analyzer.AnalyzeFromPrices(ev.TokenID, ask, bid, ev.Price)
}

func (e *Engine) calculateSize(_ context.Context, ev types.TradeEvent, price, balance, leaderValue, followerPos, leaderPrevQty decimal.Decimal) decimal.Decimal {
	if ev.Side == types.SideBuy {
		return e.deps.Sizer.CalculateBuy(sizing.BuyInput{
			Price:                price,
			LeaderDelta:          ev.Size,
			Balance:              balance,
			LeaderPortfolioValue: leaderValue,
		})
	}
	return e.deps.Sizer.CalculateSell(sizing.SellInput{
		FollowerPosition: followerPos,
		LeaderDelta:      ev.Size,
		LeaderPrevQty:    leaderPrevQty,
	})
}

// updateLeaderQty tracks the leader's per-token holding so proportional
// sells know the pre-trade quantity
func (e *Engine) updateLeaderQty(ev types.TradeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	qty := e.leaderQty[ev.TokenID]
	if ev.Side == types.SideBuy {
		e.leaderQty[ev.TokenID] = qty.Add(ev.Size)
		return
	}
	qty = qty.Sub(ev.Size)
	if qty.LessThanOrEqual(decimal.Zero) {
		delete(e.leaderQty, ev.TokenID)
		return
	}
	e.leaderQty[ev.TokenID] = qty
}

func (e *Engine) tradingState(balance decimal.Decimal) types.TradingState {
	positions := e.deps.Exec.GetAllPositions()
	total := decimal.Zero
	for _, q := range positions {
		total = total.Add(q)
	}
	return types.TradingState{
		DailyPnL:    e.deps.Exec.DailyPnL(),
		TotalPnL:    e.deps.Exec.TotalPnL(),
		Balance:     balance,
		Positions:   positions,
		TotalShares: total,
		Spend:       e.deps.Exec.GetSpendTracker(),
	}
}

// ───────────────────────────────────────────────────────────────────────────────
// Exit triggers and sell-all
// ───────────────────────────────────────────────────────────────────────────────

func (e *Engine) handleExit(ctx context.Context, trig types.ExitTrigger) {
	balance, err := e.deps.Exec.GetBalance(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Balance fetch failed for exit trigger")
		e.exitNotExecuted(trig.TokenID)
		return
	}

	order := trig.Order
	st := e.tradingState(balance)
	if decision := e.deps.Checker.Check(order, "", st); !decision.Approved {
		log.Warn().Str("reason", decision.Reason).Msg("Exit trigger rejected by risk gate")
		e.exitNotExecuted(trig.TokenID)
		return
	}

	// P&L against the entry the trigger fired on; the live average is the
	// fallback when the trigger carries none
	entryPrice := trig.EntryPrice
	if !entryPrice.IsPositive() {
		if pos, ok := e.deps.Exec.GetAllPositionDetails()[order.TokenID]; ok {
			entryPrice = pos.AvgPrice
		}
	}

	result, err := e.deps.Exec.Execute(ctx, order)
	if err != nil {
		log.Error().Err(err).Msg("Exit execution failed")
		e.exitNotExecuted(trig.TokenID)
		return
	}

	var pnl decimal.NullDecimal
	if result.FilledSize.IsPositive() && entryPrice.IsPositive() {
		pnl = decimal.NullDecimal{
			Decimal: result.FilledSize.Mul(result.AvgFillPrice.Sub(entryPrice)),
			Valid:   true,
		}
	}

	if e.deps.Store != nil {
		e.deps.Store.RecordTrade(&store.TradeRecord{
			SessionID:  e.sessionID,
			TokenID:    order.TokenID,
			Side:       string(order.Side),
			Size:       order.Size,
			Price:      order.Price,
			FilledSize: result.FilledSize,
			FillPrice:  result.AvgFillPrice,
			Status:     string(result.Status),
			OrderID:    result.OrderID,
			Mode:       string(result.Mode),
			OrderType:  string(order.OrderType),
			ErrorMsg:   result.ErrorMsg,
			PnL:        pnl,
		})
	}

	if result.FilledSize.IsPositive() {
		e.mu.Lock()
		e.executed++
		e.mu.Unlock()
	}

	if e.deps.Alerts != nil {
		severity := alert.SeverityMedium
		if trig.Type == types.ExitStopLoss {
			severity = alert.SeverityHigh
		}
		body := fmt.Sprintf("%s exit at %s (entry %s, %s%%)",
			trig.Type, trig.CurrentPrice, trig.EntryPrice, trig.ChangePct.StringFixed(2))
		if pnl.Valid {
			body += fmt.Sprintf(", P&L %s", pnl.Decimal.StringFixed(2))
		}
		e.deps.Alerts.Notify(severity, "Position exit", body)
	}
}

func (e *Engine) handleSellAll(ctx context.Context) {
	positions := e.deps.Exec.GetAllPositions()
	if len(positions) == 0 {
		log.Info().Msg("Sell-all requested with no open positions")
		return
	}

	reqs := make([]venue.PriceRequest, 0, len(positions))
	for id := range positions {
		reqs = append(reqs, venue.PriceRequest{TokenID: id, Intent: types.SideSell})
	}
	prices := make(map[string]decimal.Decimal, len(reqs))
	for _, r := range e.deps.Data.GetPricesParallel(ctx, reqs) {
		if r.Err == nil && r.Price.IsPositive() {
			prices[r.TokenID] = r.Price
		}
	}

	results := e.deps.Exec.SellAllPositions(ctx, prices)
	filled := 0
	for _, r := range results {
		if r.FilledSize.IsPositive() {
			filled++
		}
	}
	log.Info().Int("positions", len(results)).Int("filled", filled).Msg("Sell-all completed")

	if e.deps.Alerts != nil {
		e.deps.Alerts.Notify(alert.SeverityHigh, "Sell-all executed",
			fmt.Sprintf("Closed %d of %d positions", filled, len(results)))
	}
}

// ───────────────────────────────────────────────────────────────────────────────
// Bookkeeping
// ───────────────────────────────────────────────────────────────────────────────

// SeedWatched marks tokens as watched and replicates the set to every sink.
// Called once at startup with the leader's current holdings so caches are
// warm and the websocket trigger covers pre-held positions.
func (e *Engine) SeedWatched(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	e.mu.Lock()
	for _, id := range tokens {
		e.watched[id] = struct{}{}
	}
	all := make([]string, 0, len(e.watched))
	for id := range e.watched {
		all = append(all, id)
	}
	e.mu.Unlock()

	for _, sink := range e.deps.WatchedSinks {
		sink.SetWatched(all)
	}
}

func (e *Engine) exitNotExecuted(tokenID string) {
	if e.OnExitRejected != nil {
		e.OnExitRejected(tokenID)
	}
}

// watch adds a token and replicates the whole set to every sink
func (e *Engine) watch(tokenID string) {
	e.mu.Lock()
	if _, ok := e.watched[tokenID]; ok {
		e.mu.Unlock()
		return
	}
	e.watched[tokenID] = struct{}{}
	tokens := make([]string, 0, len(e.watched))
	for id := range e.watched {
		tokens = append(tokens, id)
	}
	e.mu.Unlock()

	for _, sink := range e.deps.WatchedSinks {
		sink.SetWatched(tokens)
	}
}

func (e *Engine) skip() {
	e.mu.Lock()
	e.skipped++
	e.mu.Unlock()
}

func (e *Engine) reject(ev types.TradeEvent, reason string) {
	e.mu.Lock()
	e.rejected++
	e.mu.Unlock()

	log.Warn().
		Str("side", string(ev.Side)).
		Str("market", ev.Title).
		Str("reason", reason).
		Msg("❌ Copy rejected")

	if e.deps.Alerts != nil {
		e.deps.Alerts.Notify(alert.SeverityMedium, "Copy rejected", reason)
	}
}

func (e *Engine) persist(ev types.TradeEvent, order types.OrderSpec, result types.OrderResult, pnl decimal.NullDecimal, detectionMs, executionMs, totalMs int64) {
	if e.deps.Store == nil {
		return
	}
	e.deps.Store.RecordTrade(&store.TradeRecord{
		SessionID:          e.sessionID,
		TokenID:            ev.TokenID,
		MarketID:           ev.MarketID,
		Title:              ev.Title,
		Outcome:            ev.Outcome,
		LeaderTradeID:      ev.ID,
		Side:               string(order.Side),
		Size:               order.Size,
		Price:              order.Price,
		FilledSize:         result.FilledSize,
		FillPrice:          result.AvgFillPrice,
		Status:             string(result.Status),
		OrderID:            result.OrderID,
		Mode:               string(result.Mode),
		OrderType:          string(order.OrderType),
		ErrorMsg:           result.ErrorMsg,
		PnL:                pnl,
		DetectionLatencyMs: detectionMs,
		ExecutionLatencyMs: executionMs,
		TotalLatencyMs:     totalMs,
	})
}

func (e *Engine) report(ev types.TradeEvent, order types.OrderSpec, result types.OrderResult, pnl decimal.NullDecimal, totalMs int64) {
	if result.FilledSize.IsPositive() {
		e.mu.Lock()
		e.executed++
		e.mu.Unlock()
	}

	log.Info().
		Str("side", string(order.Side)).
		Str("size", result.FilledSize.String()).
		Str("price", result.AvgFillPrice.String()).
		Str("status", string(result.Status)).
		Int64("total_latency_ms", totalMs).
		Str("market", ev.Title).
		Msg("✅ Copy executed")

	if e.deps.Alerts == nil {
		return
	}
	if result.Status == types.StatusFailed {
		e.deps.Alerts.Notify(alert.SeverityHigh, "Copy failed", result.ErrorMsg)
		return
	}
	body := fmt.Sprintf("%s %s @ %s on %s (latency %dms calibrated)",
		order.Side, result.FilledSize, result.AvgFillPrice, ev.Title, totalMs)
	if pnl.Valid {
		body += fmt.Sprintf(", P&L %s", pnl.Decimal.StringFixed(2))
	}
	e.deps.Alerts.Notify(alert.SeverityLow, "Copy executed", body)
}

// Stats returns the engine's counters and latency averages
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		TradesDetected: e.detected,
		TradesExecuted: e.executed,
		TradesRejected: e.rejected,
		TradesSkipped:  e.skipped,
		Latency:        e.latency.Snapshot(),
	}
}
