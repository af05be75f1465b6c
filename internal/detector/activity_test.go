package detector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/internal/venue"
	"github.com/web3guy0/polycopy/types"
)

// fakeFeed serves canned batches, one per poll
type fakeFeed struct {
	batches [][]types.TradeEvent
	errs    []error
	calls   int
	lastQ   venue.TradeQuery
}

func (f *fakeFeed) GetTrades(_ context.Context, _ string, q venue.TradeQuery) ([]types.TradeEvent, error) {
	f.lastQ = q
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return nil, nil
}

func trade(id string, ts int64) types.TradeEvent {
	return types.TradeEvent{
		ID:        id,
		TokenID:   "tok",
		Side:      types.SideBuy,
		Size:      decimal.NewFromInt(10),
		Price:     decimal.NewFromFloat(0.5),
		Timestamp: ts,
	}
}

func newTestDetector(feed *fakeFeed) *ActivityDetector {
	return NewActivityDetector(Config{
		LeaderAddress:        "0xleader",
		PollInterval:         time.Second,
		MaxConsecutiveErrors: 3,
	}, feed)
}

func TestInitialPollPrimesWithoutEmitting(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{batches: [][]types.TradeEvent{
		{trade("a", 100), trade("b", 99)}, // pre-existing history
		{trade("c", 101), trade("a", 100)},
	}}
	d := newTestDetector(feed)

	var got []types.TradeEvent
	d.OnTrade = func(t types.TradeEvent) { got = append(got, t) }

	d.Poll(context.Background())
	if len(got) != 0 {
		t.Fatalf("initial poll emitted %d trades, want 0", len(got))
	}

	d.Poll(context.Background())
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("got %v, want just trade c", got)
	}
}

func TestDedupAcrossPolls(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{batches: [][]types.TradeEvent{
		nil,
		{trade("a", 100)},
		{trade("a", 100)}, // same fill seen again
	}}
	d := newTestDetector(feed)

	emitted := 0
	d.OnTrade = func(types.TradeEvent) { emitted++ }

	d.Poll(context.Background())
	d.Poll(context.Background())
	d.Poll(context.Background())
	if emitted != 1 {
		t.Errorf("emitted %d, want 1", emitted)
	}
}

func TestSameTxDistinctFillsBothEmitted(t *testing.T) {
	t.Parallel()
	// Two fills in one transaction share the hash but not the size
	a := trade("0xabc_1700000100_10", 1700000100)
	b := trade("0xabc_1700000100_25", 1700000100)
	b.Size = decimal.NewFromInt(25)

	feed := &fakeFeed{batches: [][]types.TradeEvent{nil, {b, a}}}
	d := newTestDetector(feed)

	var got []string
	d.OnTrade = func(t types.TradeEvent) { got = append(got, t.ID) }

	d.Poll(context.Background())
	d.Poll(context.Background())
	if len(got) != 2 {
		t.Fatalf("emitted %d, want 2", len(got))
	}
	// Oldest-first replay preserves feed order reversed
	if got[0] != a.ID || got[1] != b.ID {
		t.Errorf("order = %v", got)
	}
}

func TestCursorAdvances(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{batches: [][]types.TradeEvent{
		{trade("a", 100)},
		{trade("b", 105)},
		nil,
	}}
	d := newTestDetector(feed)

	d.Poll(context.Background())
	d.Poll(context.Background())
	d.Poll(context.Background())
	if feed.lastQ.AfterUnixSec != 105 {
		t.Errorf("cursor = %d, want 105", feed.lastQ.AfterUnixSec)
	}
}

func TestEmptyInitialPollStartsCursorAtNow(t *testing.T) {
	t.Parallel()
	// A leader with no trade history yet: the cursor must still advance so
	// later polls do not request the feed from timestamp zero
	feed := &fakeFeed{batches: [][]types.TradeEvent{nil, nil}}
	d := newTestDetector(feed)

	emitted := 0
	d.OnTrade = func(types.TradeEvent) { emitted++ }

	before := time.Now().Unix()
	d.Poll(context.Background())
	d.Poll(context.Background())

	if feed.lastQ.AfterUnixSec < before {
		t.Errorf("cursor = %d, want >= %d after an empty initial poll", feed.lastQ.AfterUnixSec, before)
	}
	if emitted != 0 {
		t.Errorf("emitted %d, want 0", emitted)
	}
}

func TestDegradedAndRecovered(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	feed := &fakeFeed{
		errs:    []error{boom, boom, boom, nil},
		batches: [][]types.TradeEvent{nil, nil, nil, nil},
	}
	d := newTestDetector(feed)

	degraded, recovered := 0, 0
	d.OnDegraded = func(int) { degraded++ }
	d.OnRecovered = func() { recovered++ }

	for i := 0; i < 4; i++ {
		d.Poll(context.Background())
	}
	if degraded != 1 {
		t.Errorf("degraded fired %d times, want 1", degraded)
	}
	if recovered != 1 {
		t.Errorf("recovered fired %d times, want 1", recovered)
	}
}

func TestRateLimitPause(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{errs: []error{fmt.Errorf("wrapped: %w", venue.ErrRateLimited)}}
	d := newTestDetector(feed)

	if pause := d.Poll(context.Background()); pause != rateLimitPause {
		t.Errorf("pause = %v, want %v", pause, rateLimitPause)
	}
}

func TestSeenSetBounded(t *testing.T) {
	t.Parallel()
	d := newTestDetector(&fakeFeed{})

	for i := 0; i < seenCap+1; i++ {
		d.markSeen(fmt.Sprintf("id-%d", i))
	}
	if len(d.seen) > seenCap {
		t.Errorf("seen set holds %d ids, cap is %d", len(d.seen), seenCap)
	}
	// Oldest ids were dropped, newest kept
	if d.markSeen("id-0") {
		t.Error("oldest id still present after trim")
	}
	if !d.markSeen(fmt.Sprintf("id-%d", seenCap)) {
		t.Error("newest id lost in trim")
	}
}

func TestDetectionLatencyStamped(t *testing.T) {
	t.Parallel()
	now := time.Now().Unix()
	feed := &fakeFeed{batches: [][]types.TradeEvent{nil, {trade("a", now - 2)}}}
	d := newTestDetector(feed)

	var got types.TradeEvent
	d.OnTrade = func(t types.TradeEvent) { got = t }

	d.Poll(context.Background())
	d.Poll(context.Background())
	if got.DetectedAt.IsZero() {
		t.Fatal("DetectedAt not stamped")
	}
	if got.DetectionLatencyMs < 1500 || got.DetectionLatencyMs > 10000 {
		t.Errorf("latency = %dms, want ~2000ms", got.DetectionLatencyMs)
	}
}

func TestTriggerPollNowCoalesces(t *testing.T) {
	t.Parallel()
	d := newTestDetector(&fakeFeed{})
	d.TriggerPollNow()
	d.TriggerPollNow()
	d.TriggerPollNow()

	select {
	case <-d.pollNow:
	default:
		t.Fatal("no trigger queued")
	}
	select {
	case <-d.pollNow:
		t.Fatal("triggers did not coalesce")
	default:
	}
}
