package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/internal/venue"
	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITIONS DETECTOR - Diffs the leader's position snapshots into trade events
// ═══════════════════════════════════════════════════════════════════════════════
//
// Alternative to the activity feed: poll the positions endpoint, compare each
// snapshot against the previous one, and synthesize a BUY or SELL per token
// whose quantity moved. Coarser than the fill feed (multiple fills between two
// polls collapse into one event) but immune to activity-feed gaps.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Quantity deltas below this are exchange rounding noise, not trades
var dustThreshold = decimal.NewFromFloat(0.01)

// Detector is the common surface of the detection strategies
type Detector interface {
	Start(ctx context.Context)
	Stop()
	TriggerPollNow()
	Polls() int64
}

// positionsFetcher is the slice of the venue client the detector needs
type positionsFetcher interface {
	GetPositions(ctx context.Context, addr string) ([]types.Position, error)
}

// PositionsDetector watches one leader address by diffing position snapshots
type PositionsDetector struct {
	cfg    Config
	client positionsFetcher

	// Called for each synthesized trade
	OnTrade func(types.TradeEvent)
	// Called on each failed poll
	OnError func(error)
	// Called once when consecutive errors reach the threshold
	OnDegraded func(consecutive int)
	// Called on the first success after a degraded stretch
	OnRecovered func()

	mu        sync.Mutex
	polls     int64
	baseline  map[string]types.Position
	isInitial bool
	errStreak int
	degraded  bool

	pollNow chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPositionsDetector creates a detector for the configured leader
func NewPositionsDetector(cfg Config, client positionsFetcher) *PositionsDetector {
	return &PositionsDetector{
		cfg:       cfg,
		client:    client,
		baseline:  make(map[string]types.Position),
		isInitial: true,
		pollNow:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the poll loop
func (d *PositionsDetector) Start(ctx context.Context) {
	log.Info().
		Str("leader", d.cfg.LeaderAddress).
		Dur("interval", d.cfg.PollInterval).
		Msg("👀 Positions detector started")

	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop halts polling and waits for the loop to exit
func (d *PositionsDetector) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	log.Info().Msg("Positions detector stopped")
}

// TriggerPollNow breaks the current sleep so the next poll happens
// immediately. Safe to call from any goroutine; extra triggers coalesce.
func (d *PositionsDetector) TriggerPollNow() {
	select {
	case d.pollNow <- struct{}{}:
	default:
	}
}

func (d *PositionsDetector) loop(ctx context.Context) {
	defer d.wg.Done()

	for {
		start := time.Now()
		pause := d.Poll(ctx)

		sleep := d.cfg.PollInterval - time.Since(start)
		if pause > sleep {
			sleep = pause
		}
		if sleep < 0 {
			sleep = 0
		}

		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-d.pollNow:
		case <-time.After(sleep):
		}
	}
}

// Poll runs one snapshot cycle and returns an extra pause to apply before
// the next poll (nonzero only after a rate-limit response).
func (d *PositionsDetector) Poll(ctx context.Context) time.Duration {
	fetchStart := time.Now()

	d.mu.Lock()
	d.polls++
	d.mu.Unlock()

	positions, err := d.client.GetPositions(ctx, d.cfg.LeaderAddress)
	if err != nil {
		return d.recordError(err)
	}
	d.recordSuccess()

	current := make(map[string]types.Position, len(positions))
	for _, p := range positions {
		current[p.TokenID] = p
	}

	d.mu.Lock()
	initial := d.isInitial
	d.isInitial = false
	prev := d.baseline
	d.baseline = current
	d.mu.Unlock()

	if initial {
		// First poll only records the baseline; the leader's existing
		// holdings are not copied.
		if len(current) > 0 {
			log.Info().Int("count", len(current)).Msg("Primed with existing leader positions")
		}
		return 0
	}

	for _, ev := range diffSnapshots(prev, current, fetchStart) {
		log.Info().
			Str("side", string(ev.Side)).
			Str("size", ev.Size.String()).
			Str("price", ev.Price.String()).
			Str("market", ev.Title).
			Msg("🎯 Leader position change detected")
		if d.OnTrade != nil {
			d.OnTrade(ev)
		}
	}
	return 0
}

// Polls returns how many fetch cycles have run
func (d *PositionsDetector) Polls() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polls
}

// diffSnapshots turns quantity moves between two snapshots into trade events
func diffSnapshots(prev, current map[string]types.Position, at time.Time) []types.TradeEvent {
	var out []types.TradeEvent

	for token, pos := range current {
		old, held := prev[token]
		delta := pos.Quantity
		if held {
			delta = pos.Quantity.Sub(old.Quantity)
		}
		if delta.Abs().LessThan(dustThreshold) {
			continue
		}

		side := types.SideBuy
		price := pos.CurrentPrice
		if delta.IsNegative() {
			side = types.SideSell
		} else if held {
			price = inferBuyPrice(old, pos, delta, price)
		} else {
			price = pos.AvgPrice
		}

		out = append(out, synthEvent(token, pos, side, delta.Abs(), price, at))
	}

	// Positions that vanished were sold down to zero
	for token, old := range prev {
		if _, still := current[token]; still {
			continue
		}
		if old.Quantity.LessThan(dustThreshold) {
			continue
		}
		out = append(out, synthEvent(token, old, types.SideSell, old.Quantity, old.CurrentPrice, at))
	}
	return out
}

// inferBuyPrice backs the fill price of an add out of the average-cost move:
// newAvg*newQty = oldAvg*oldQty + price*delta. Falls back to the quote when
// the result lands outside the valid price range.
func inferBuyPrice(old, pos types.Position, delta, fallback decimal.Decimal) decimal.Decimal {
	paid := pos.AvgPrice.Mul(pos.Quantity).Sub(old.AvgPrice.Mul(old.Quantity))
	price := paid.Div(delta)
	if price.IsPositive() && price.LessThan(decimal.NewFromInt(1)) {
		return price
	}
	return fallback
}

func synthEvent(token string, pos types.Position, side types.Side, size, price decimal.Decimal, at time.Time) types.TradeEvent {
	return types.TradeEvent{
		ID:         fmt.Sprintf("posdiff-%s-%d", token, at.UnixMilli()),
		TokenID:    token,
		MarketID:   pos.MarketID,
		Side:       side,
		Size:       size,
		Price:      price,
		Timestamp:  at.Unix(),
		DetectedAt: at,
		Title:      pos.Title,
		Outcome:    pos.Outcome,
	}
}

func (d *PositionsDetector) recordError(err error) time.Duration {
	d.mu.Lock()
	d.errStreak++
	streak := d.errStreak
	already := d.degraded
	if !already && streak >= d.cfg.MaxConsecutiveErrors {
		d.degraded = true
	}
	nowDegraded := d.degraded
	d.mu.Unlock()

	log.Warn().Err(err).Int("consecutive", streak).Msg("Positions poll failed")
	if d.OnError != nil {
		d.OnError(err)
	}
	if nowDegraded && !already && d.OnDegraded != nil {
		d.OnDegraded(streak)
	}

	if errors.Is(err, venue.ErrRateLimited) {
		return rateLimitPause
	}
	return 0
}

func (d *PositionsDetector) recordSuccess() {
	d.mu.Lock()
	wasDegraded := d.degraded
	d.errStreak = 0
	d.degraded = false
	d.mu.Unlock()

	if wasDegraded {
		log.Info().Msg("✅ Positions feed recovered")
		if d.OnRecovered != nil {
			d.OnRecovered()
		}
	}
}
