package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/internal/config"
	"github.com/web3guy0/polycopy/internal/executor"
	"github.com/web3guy0/polycopy/internal/market"
	"github.com/web3guy0/polycopy/internal/risk"
	"github.com/web3guy0/polycopy/internal/sizing"
	"github.com/web3guy0/polycopy/internal/store"
	"github.com/web3guy0/polycopy/internal/venue"
	"github.com/web3guy0/polycopy/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakeData struct {
	book    types.OrderBook
	bookErr error
	prices  map[string]decimal.Decimal // keyed token|intent
	value   decimal.Decimal
	drift   int64
}

func (f *fakeData) GetOrderBook(context.Context, string) (types.OrderBook, error) {
	return f.book, f.bookErr
}

func (f *fakeData) GetPrice(_ context.Context, tokenID string, intent types.Side) (decimal.Decimal, error) {
	return f.prices[tokenID+"|"+string(intent)], nil
}

func (f *fakeData) GetPricesParallel(ctx context.Context, reqs []venue.PriceRequest) []venue.PriceResult {
	out := make([]venue.PriceResult, len(reqs))
	for i, r := range reqs {
		p, _ := f.GetPrice(ctx, r.TokenID, r.Intent)
		out[i] = venue.PriceResult{TokenID: r.TokenID, Intent: r.Intent, Price: p}
	}
	return out
}

func (f *fakeData) GetPortfolioValue(context.Context, string, bool) (decimal.Decimal, error) {
	return f.value, nil
}

func (f *fakeData) DriftMs() int64 { return f.drift }

type recordingSink struct {
	sets [][]string
}

func (r *recordingSink) SetWatched(tokens []string) {
	r.sets = append(r.sets, tokens)
}

func normalBook() types.OrderBook {
	return types.OrderBook{
		Bids: []types.PriceLevel{{Price: d(0.49), Size: d(1000)}},
		Asks: []types.PriceLevel{{Price: d(0.51), Size: d(1000)}},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		LeaderAddress:      "0xleader",
		TradingMode:        types.ModePaper,
		DetectionMethod:    config.DetectActivity,
		OrderType:          types.OrderTypeLimit,
		OrderExpirationSec: 60,
	}
}

func newTestEngine(data *fakeData, paper *executor.Paper, sinks ...WatchedSink) *Engine {
	cfg := testConfig()
	killSw := risk.NewKillSwitch()
	deps := Deps{
		Data: data,
		Analyzer: market.NewAnalyzer(market.AnalyzerConfig{
			DepthRangePercent:      0.01,
			MaxSpreadBps:           800,
			WideSpreadThresholdBps: 400,
			MaxDivergenceBps:       500,
			MinDepthShares:         decimal.NewFromInt(20),
		}),
		Adjuster: market.NewAdjuster(market.AdjusterConfig{
			BaseOffsetBps:        50,
			AdaptiveThresholdBps: 150,
			SpreadMultiplier:     0.5,
			MaxAdaptiveOffsetBps: 300,
		}),
		Sizer: sizing.NewCalculator(sizing.Config{
			Method:              config.SizingProportionalToPortfolio,
			PortfolioPercent:    d(0.05),
			MinOrderSize:        decimal.NewFromInt(5),
			MaxPositionPerToken: decimal.NewFromInt(500),
			BelowMinAction:      config.BelowMinSkip,
			SellStrategy:        config.SellProportional,
		}),
		Checker: risk.NewChecker(risk.Config{
			MaxDailyLoss: decimal.NewFromInt(100),
			MaxTotalLoss: decimal.NewFromInt(500),
		}, killSw),
		Gate: risk.NewConditionGate(risk.ConditionConfig{
			MaxSpreadBps:           800,
			WideSpreadThresholdBps: 400,
			MaxDivergenceBps:       500,
			MinDepthShares:         decimal.NewFromInt(20),
		}),
		Exec:         paper,
		WatchedSinks: sinks,
	}
	return New(cfg, deps)
}

func leaderBuy(token string, size float64) types.TradeEvent {
	return types.TradeEvent{
		ID:                 "trade-" + token,
		TokenID:            token,
		MarketID:           "mkt",
		Side:               types.SideBuy,
		Size:               d(size),
		Price:              d(0.50),
		Timestamp:          time.Now().Unix(),
		DetectedAt:         time.Now(),
		DetectionLatencyMs: 120,
		Title:              "Test market",
	}
}

func TestBuyCopiedEndToEnd(t *testing.T) {
	t.Parallel()
	data := &fakeData{book: normalBook()}
	paper := executor.NewPaper(decimal.NewFromInt(1000))
	e := newTestEngine(data, paper)

	e.handleTradeEvent(context.Background(), leaderBuy("tok", 200))

	// 5% of $1000 at the 0.51 ask = 98.03 shares
	pos := paper.GetPosition("tok")
	if !pos.Equal(d(98.03)) {
		t.Errorf("position = %s, want 98.03", pos)
	}

	stats := e.Stats()
	if stats.TradesDetected != 1 || stats.TradesExecuted != 1 {
		t.Errorf("detected/executed = %d/%d, want 1/1", stats.TradesDetected, stats.TradesExecuted)
	}
	if stats.Latency.Samples != 1 {
		t.Errorf("latency samples = %d, want 1", stats.Latency.Samples)
	}
}

func TestWideSpreadRejected(t *testing.T) {
	t.Parallel()
	data := &fakeData{book: types.OrderBook{
		Bids: []types.PriceLevel{{Price: d(0.40), Size: d(1000)}},
		Asks: []types.PriceLevel{{Price: d(0.60), Size: d(1000)}},
	}}
	paper := executor.NewPaper(decimal.NewFromInt(1000))
	e := newTestEngine(data, paper)

	// 2000 bps spread against the 800 cap
	e.handleTradeEvent(context.Background(), leaderBuy("tok", 200))

	if !paper.GetPosition("tok").IsZero() {
		t.Error("order executed into a rejected market")
	}
	if e.Stats().TradesRejected != 1 {
		t.Errorf("rejected = %d, want 1", e.Stats().TradesRejected)
	}
}

func TestProportionalSellFollowsLeader(t *testing.T) {
	t.Parallel()
	data := &fakeData{book: normalBook()}
	paper := executor.NewPaper(decimal.NewFromInt(1000))
	e := newTestEngine(data, paper)
	ctx := context.Background()

	// Leader buys 1000, follower copies
	e.handleTradeEvent(ctx, leaderBuy("tok", 1000))
	before := paper.GetPosition("tok")
	if !before.IsPositive() {
		t.Fatal("buy copy did not fill")
	}

	// Leader sells half; follower sells half of its own position
	sellEv := leaderBuy("tok", 500)
	sellEv.ID = "trade-sell"
	sellEv.Side = types.SideSell
	e.handleTradeEvent(ctx, sellEv)

	after := paper.GetPosition("tok")
	want := before.Div(d(2)).RoundFloor(2)
	if !before.Sub(after).Equal(want) {
		t.Errorf("sold %s, want half the position %s", before.Sub(after), want)
	}
}

func TestSellWithoutPositionSkipped(t *testing.T) {
	t.Parallel()
	data := &fakeData{book: normalBook()}
	paper := executor.NewPaper(decimal.NewFromInt(1000))
	e := newTestEngine(data, paper)

	ev := leaderBuy("tok", 100)
	ev.Side = types.SideSell
	e.handleTradeEvent(context.Background(), ev)

	stats := e.Stats()
	if stats.TradesSkipped != 1 {
		t.Errorf("skipped = %d, want 1", stats.TradesSkipped)
	}
	if stats.TradesExecuted != 0 {
		t.Errorf("executed = %d, want 0", stats.TradesExecuted)
	}
}

func TestWatchedSetReplicatedOnBuy(t *testing.T) {
	t.Parallel()
	data := &fakeData{book: normalBook()}
	paper := executor.NewPaper(decimal.NewFromInt(1000))
	sink := &recordingSink{}
	e := newTestEngine(data, paper, sink)
	ctx := context.Background()

	e.handleTradeEvent(ctx, leaderBuy("tok-a", 200))
	e.handleTradeEvent(ctx, leaderBuy("tok-a", 200)) // same token, no new replication

	if len(sink.sets) != 1 {
		t.Fatalf("replications = %d, want 1", len(sink.sets))
	}
	if len(sink.sets[0]) != 1 || sink.sets[0][0] != "tok-a" {
		t.Errorf("watched set = %v, want [tok-a]", sink.sets[0])
	}
}

func TestEmptyBookFallsBackToPriceEndpoints(t *testing.T) {
	t.Parallel()
	data := &fakeData{
		prices: map[string]decimal.Decimal{
			"tok|" + string(types.SideBuy):  d(0.51),
			"tok|" + string(types.SideSell): d(0.49),
		},
	}
	paper := executor.NewPaper(decimal.NewFromInt(1000))
	e := newTestEngine(data, paper)

	e.handleTradeEvent(context.Background(), leaderBuy("tok", 200))

	if !paper.GetPosition("tok").IsPositive() {
		t.Error("price-endpoint fallback did not trade")
	}
}

func TestSeedWatchedPrimesSinks(t *testing.T) {
	t.Parallel()
	data := &fakeData{book: normalBook()}
	paper := executor.NewPaper(decimal.NewFromInt(1000))
	sink := &recordingSink{}
	e := newTestEngine(data, paper, sink)
	ctx := context.Background()

	e.SeedWatched([]string{"held-a", "held-b"})
	if len(sink.sets) != 1 || len(sink.sets[0]) != 2 {
		t.Fatalf("sets = %v, want one replication with both held tokens", sink.sets)
	}

	// A buy on an already-seeded token does not replicate again
	e.handleTradeEvent(ctx, leaderBuy("held-a", 200))
	if len(sink.sets) != 1 {
		t.Errorf("replications = %d, want 1", len(sink.sets))
	}

	// A new token extends the seeded set
	e.handleTradeEvent(ctx, leaderBuy("tok-new", 200))
	if len(sink.sets) != 2 || len(sink.sets[1]) != 3 {
		t.Errorf("sets = %v, want a second replication carrying 3 tokens", sink.sets)
	}
}

func TestRejectedExitRearmsMonitor(t *testing.T) {
	t.Parallel()
	data := &fakeData{book: normalBook()}
	paper := executor.NewPaper(decimal.NewFromInt(1000))
	e := newTestEngine(data, paper)

	var rearmed []string
	e.OnExitRejected = func(tokenID string) { rearmed = append(rearmed, tokenID) }

	// SELL with no position held is rejected by the risk gate
	e.handleExit(context.Background(), types.ExitTrigger{
		Type:         types.ExitStopLoss,
		TokenID:      "tok",
		EntryPrice:   d(0.50),
		CurrentPrice: d(0.40),
		Order: types.OrderSpec{
			TokenID:   "tok",
			Side:      types.SideSell,
			Size:      d(50),
			Price:     d(0.40),
			OrderType: types.OrderTypeMarket,
		},
	})

	if len(rearmed) != 1 || rearmed[0] != "tok" {
		t.Errorf("rearmed = %v, want [tok]", rearmed)
	}
	if e.Stats().TradesExecuted != 0 {
		t.Errorf("executed = %d, want 0", e.Stats().TradesExecuted)
	}
}

func TestExitPnLRecordedFromTriggerEntry(t *testing.T) {
	t.Parallel()
	data := &fakeData{book: normalBook()}
	paper := executor.NewPaper(decimal.NewFromInt(1000))
	e := newTestEngine(data, paper)

	st, err := store.New(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	e.deps.Store = st

	ctx := context.Background()
	e.handleTradeEvent(ctx, leaderBuy("tok", 1000))
	qty := paper.GetPosition("tok")

	// Trigger entry 0.40 differs from the position's average; the recorded
	// P&L follows the trigger
	e.handleExit(ctx, types.ExitTrigger{
		Type:         types.ExitTakeProfit,
		TokenID:      "tok",
		EntryPrice:   d(0.40),
		CurrentPrice: d(0.60),
		Order: types.OrderSpec{
			TokenID:   "tok",
			Side:      types.SideSell,
			Size:      qty,
			Price:     d(0.60),
			OrderType: types.OrderTypeMarket,
		},
	})

	trades, err := st.Trades(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Fatalf("records = %d, want buy + exit", len(trades))
	}
	exit := trades[1]
	want := qty.Mul(d(0.20))
	if !exit.PnL.Valid || !exit.PnL.Decimal.Equal(want) {
		t.Errorf("pnl = %v, want %s from the 0.40 trigger entry", exit.PnL, want)
	}
}

func TestExitTriggerExecutesAndRealizesPnL(t *testing.T) {
	t.Parallel()
	data := &fakeData{book: normalBook()}
	paper := executor.NewPaper(decimal.NewFromInt(1000))
	e := newTestEngine(data, paper)
	ctx := context.Background()

	e.handleTradeEvent(ctx, leaderBuy("tok", 1000))
	qty := paper.GetPosition("tok")

	e.handleExit(ctx, types.ExitTrigger{
		Type:         types.ExitTakeProfit,
		TokenID:      "tok",
		EntryPrice:   d(0.51),
		CurrentPrice: d(0.60),
		Order: types.OrderSpec{
			TokenID:   "tok",
			Side:      types.SideSell,
			Size:      qty,
			Price:     d(0.60),
			OrderType: types.OrderTypeMarket,
		},
	})

	if !paper.GetPosition("tok").IsZero() {
		t.Error("exit did not close the position")
	}
	if !paper.TotalPnL().IsPositive() {
		t.Errorf("pnl = %s, want positive", paper.TotalPnL())
	}
}
