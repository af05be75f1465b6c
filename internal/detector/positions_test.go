package detector

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

type fakePositions struct {
	batches [][]types.Position
	errs    []error
	calls   int
}

func (f *fakePositions) GetPositions(context.Context, string) ([]types.Position, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.batches) {
		return f.batches[len(f.batches)-1], nil
	}
	return f.batches[i], nil
}

func pos(token string, qty, avg, cur float64) types.Position {
	return types.Position{
		TokenID:      token,
		MarketID:     "mkt-" + token,
		Quantity:     decimal.NewFromFloat(qty),
		AvgPrice:     decimal.NewFromFloat(avg),
		CurrentPrice: decimal.NewFromFloat(cur),
		Title:        "Market " + token,
	}
}

func newPositionsDetector(f *fakePositions) (*PositionsDetector, *[]types.TradeEvent) {
	d := NewPositionsDetector(Config{
		LeaderAddress:        "0xleader",
		PollInterval:         100 * time.Millisecond,
		MaxConsecutiveErrors: 3,
	}, f)
	var got []types.TradeEvent
	d.OnTrade = func(ev types.TradeEvent) { got = append(got, ev) }
	return d, &got
}

func TestInitialSnapshotNotCopied(t *testing.T) {
	t.Parallel()
	feed := &fakePositions{batches: [][]types.Position{
		{pos("tok", 500, 0.40, 0.45)},
		{pos("tok", 500, 0.40, 0.45)},
	}}
	d, got := newPositionsDetector(feed)
	ctx := context.Background()

	d.Poll(ctx)
	d.Poll(ctx)

	if len(*got) != 0 {
		t.Errorf("events = %d, want 0 for an unchanged baseline", len(*got))
	}
}

func TestQuantityIncreaseEmitsBuy(t *testing.T) {
	t.Parallel()
	feed := &fakePositions{batches: [][]types.Position{
		{pos("tok", 100, 0.40, 0.45)},
		// 100 more shares, average cost moved 0.40 -> 0.45
		{pos("tok", 200, 0.45, 0.48)},
	}}
	d, got := newPositionsDetector(feed)
	ctx := context.Background()

	d.Poll(ctx)
	d.Poll(ctx)

	if len(*got) != 1 {
		t.Fatalf("events = %d, want 1", len(*got))
	}
	ev := (*got)[0]
	if ev.Side != types.SideBuy {
		t.Errorf("side = %s, want BUY", ev.Side)
	}
	if !ev.Size.Equal(decimal.NewFromInt(100)) {
		t.Errorf("size = %s, want 100", ev.Size)
	}
	// 0.45*200 - 0.40*100 = 50 paid over 100 shares
	if !ev.Price.Equal(decimal.NewFromFloat(0.50)) {
		t.Errorf("price = %s, want 0.50 inferred from the average move", ev.Price)
	}
}

func TestQuantityDecreaseEmitsSell(t *testing.T) {
	t.Parallel()
	feed := &fakePositions{batches: [][]types.Position{
		{pos("tok", 200, 0.40, 0.45)},
		{pos("tok", 50, 0.40, 0.52)},
	}}
	d, got := newPositionsDetector(feed)
	ctx := context.Background()

	d.Poll(ctx)
	d.Poll(ctx)

	if len(*got) != 1 {
		t.Fatalf("events = %d, want 1", len(*got))
	}
	ev := (*got)[0]
	if ev.Side != types.SideSell {
		t.Errorf("side = %s, want SELL", ev.Side)
	}
	if !ev.Size.Equal(decimal.NewFromInt(150)) {
		t.Errorf("size = %s, want 150", ev.Size)
	}
	if !ev.Price.Equal(decimal.NewFromFloat(0.52)) {
		t.Errorf("price = %s, want the 0.52 quote", ev.Price)
	}
}

func TestVanishedPositionSoldInFull(t *testing.T) {
	t.Parallel()
	feed := &fakePositions{batches: [][]types.Position{
		{pos("tok", 300, 0.40, 0.45)},
		{},
	}}
	d, got := newPositionsDetector(feed)
	ctx := context.Background()

	d.Poll(ctx)
	d.Poll(ctx)

	if len(*got) != 1 {
		t.Fatalf("events = %d, want 1", len(*got))
	}
	ev := (*got)[0]
	if ev.Side != types.SideSell || !ev.Size.Equal(decimal.NewFromInt(300)) {
		t.Errorf("event = %s %s, want SELL 300", ev.Side, ev.Size)
	}
}

func TestNewPositionUsesAvgPrice(t *testing.T) {
	t.Parallel()
	feed := &fakePositions{batches: [][]types.Position{
		{},
		{pos("tok", 120, 0.33, 0.35)},
	}}
	d, got := newPositionsDetector(feed)
	ctx := context.Background()

	d.Poll(ctx)
	d.Poll(ctx)

	if len(*got) != 1 {
		t.Fatalf("events = %d, want 1", len(*got))
	}
	ev := (*got)[0]
	if ev.Side != types.SideBuy || !ev.Price.Equal(decimal.NewFromFloat(0.33)) {
		t.Errorf("event = %s at %s, want BUY at the 0.33 average", ev.Side, ev.Price)
	}
}

func TestDustDeltaIgnored(t *testing.T) {
	t.Parallel()
	feed := &fakePositions{batches: [][]types.Position{
		{pos("tok", 100, 0.40, 0.45)},
		{pos("tok", 100.005, 0.40, 0.45)},
	}}
	d, got := newPositionsDetector(feed)
	ctx := context.Background()

	d.Poll(ctx)
	d.Poll(ctx)

	if len(*got) != 0 {
		t.Errorf("events = %d, want 0 for sub-dust movement", len(*got))
	}
}
