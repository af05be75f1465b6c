package monitor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/internal/venue"
	"github.com/web3guy0/polycopy/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakePositions struct {
	details map[string]types.PaperPosition
}

func (f *fakePositions) GetAllPositionDetails() map[string]types.PaperPosition {
	out := make(map[string]types.PaperPosition, len(f.details))
	for k, v := range f.details {
		out[k] = v
	}
	return out
}

type fakePrices struct {
	prices map[string]decimal.Decimal
}

func (f *fakePrices) GetPricesParallel(_ context.Context, reqs []venue.PriceRequest) []venue.PriceResult {
	out := make([]venue.PriceResult, len(reqs))
	for i, r := range reqs {
		out[i] = venue.PriceResult{TokenID: r.TokenID, Intent: r.Intent, Price: f.prices[r.TokenID]}
	}
	return out
}

func position(token string, qty, entry float64) types.PaperPosition {
	return types.PaperPosition{TokenID: token, Quantity: d(qty), EntryPrice: d(entry), AvgPrice: d(entry)}
}

func newTestMonitor(cfg Config, pos *fakePositions, prices *fakePrices) (*TpSl, *[]types.ExitTrigger) {
	m := NewTpSl(cfg, pos, prices)
	var got []types.ExitTrigger
	m.OnTrigger = func(t types.ExitTrigger) { got = append(got, t) }
	return m, &got
}

func TestTakeProfitTriggersFullExit(t *testing.T) {
	t.Parallel()
	pos := &fakePositions{details: map[string]types.PaperPosition{"tok": position("tok", 100, 0.50)}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"tok": d(0.56)}}
	m, got := newTestMonitor(Config{TakeProfitPercent: 0.10}, pos, prices)

	m.Scan(context.Background())
	if len(*got) != 1 {
		t.Fatalf("triggers = %d, want 1", len(*got))
	}
	trig := (*got)[0]
	if trig.Type != types.ExitTakeProfit {
		t.Errorf("type = %s, want take_profit", trig.Type)
	}
	if !trig.Order.Size.Equal(d(100)) {
		t.Errorf("exit size = %s, want full quantity 100", trig.Order.Size)
	}
	if trig.Order.Side != types.SideSell || trig.Order.OrderType != types.OrderTypeMarket {
		t.Errorf("exit order = %s %s, want market SELL", trig.Order.Side, trig.Order.OrderType)
	}
}

func TestStopLossNotTriggeredAboveThreshold(t *testing.T) {
	t.Parallel()
	// Entry 0.50, current 0.49 is a 2% loss against a 5% stop
	pos := &fakePositions{details: map[string]types.PaperPosition{"tok": position("tok", 100, 0.50)}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"tok": d(0.49)}}
	m, got := newTestMonitor(Config{StopLossPercent: 0.05}, pos, prices)

	m.Scan(context.Background())
	if len(*got) != 0 {
		t.Fatalf("triggers = %d, want none", len(*got))
	}

	// 0.47 is a 6% loss and does trigger
	prices.prices["tok"] = d(0.47)
	m.Scan(context.Background())
	if len(*got) != 1 || (*got)[0].Type != types.ExitStopLoss {
		t.Fatalf("got %v, want one stop_loss", *got)
	}
}

func TestTriggerFiresOncePerPosition(t *testing.T) {
	t.Parallel()
	pos := &fakePositions{details: map[string]types.PaperPosition{"tok": position("tok", 100, 0.50)}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"tok": d(0.60)}}
	m, got := newTestMonitor(Config{TakeProfitPercent: 0.10}, pos, prices)

	m.Scan(context.Background())
	m.Scan(context.Background())
	if len(*got) != 1 {
		t.Fatalf("triggers = %d, want 1 despite repeated scans", len(*got))
	}

	// Position closes, then reopens: eligible again
	delete(pos.details, "tok")
	m.Scan(context.Background())
	pos.details["tok"] = position("tok", 50, 0.50)
	m.Scan(context.Background())
	if len(*got) != 2 {
		t.Errorf("triggers = %d, want 2 after reopen", len(*got))
	}
}

func TestRearmAllowsRefireWhilePositionOpen(t *testing.T) {
	t.Parallel()
	pos := &fakePositions{details: map[string]types.PaperPosition{"tok": position("tok", 100, 0.50)}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"tok": d(0.60)}}
	m, got := newTestMonitor(Config{TakeProfitPercent: 0.10}, pos, prices)

	m.Scan(context.Background())
	m.Scan(context.Background())
	if len(*got) != 1 {
		t.Fatalf("triggers = %d, want 1 before re-arm", len(*got))
	}

	// The exit never executed; the position is still open and re-armed
	m.Rearm("tok")
	m.Scan(context.Background())
	if len(*got) != 2 {
		t.Errorf("triggers = %d, want 2 after re-arm", len(*got))
	}
}

func TestFailedPriceSkipsToken(t *testing.T) {
	t.Parallel()
	pos := &fakePositions{details: map[string]types.PaperPosition{"tok": position("tok", 100, 0.50)}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{}} // no quote
	m, got := newTestMonitor(Config{TakeProfitPercent: 0.01}, pos, prices)

	m.Scan(context.Background())
	if len(*got) != 0 {
		t.Errorf("triggered without a price")
	}
}
