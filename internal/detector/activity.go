package detector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polycopy/internal/venue"
	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ACTIVITY DETECTOR - Polls the leader's fill feed and emits new trades
// ═══════════════════════════════════════════════════════════════════════════════
//
// The loop is latency-first: the time spent fetching is subtracted from the
// sleep so the effective poll period stays close to the configured interval.
// A websocket trigger can break the sleep early via TriggerPollNow.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	seenCap        = 1000
	seenTrim       = 500
	rateLimitPause = 5 * time.Second
	fetchLimit     = 50
)

// activityFetcher is the slice of the venue client the detector needs
type activityFetcher interface {
	GetTrades(ctx context.Context, addr string, q venue.TradeQuery) ([]types.TradeEvent, error)
}

// Config for the activity detector
type Config struct {
	LeaderAddress        string
	PollInterval         time.Duration
	MaxConsecutiveErrors int
}

// ActivityDetector watches one leader address for new fills
type ActivityDetector struct {
	cfg    Config
	client activityFetcher

	// Called for each new fill, oldest first within a batch
	OnTrade func(types.TradeEvent)
	// Called on each failed poll
	OnError func(error)
	// Called once when consecutive errors reach the threshold
	OnDegraded func(consecutive int)
	// Called on the first success after a degraded stretch
	OnRecovered func()

	mu        sync.Mutex
	polls     int64
	seen      map[string]struct{}
	seenOrder []string
	cursor    int64 // newest trade timestamp observed, unix seconds
	isInitial bool
	errStreak int
	degraded  bool

	pollNow chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewActivityDetector creates a detector for the configured leader
func NewActivityDetector(cfg Config, client activityFetcher) *ActivityDetector {
	return &ActivityDetector{
		cfg:       cfg,
		client:    client,
		seen:      make(map[string]struct{}),
		isInitial: true,
		pollNow:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the poll loop
func (d *ActivityDetector) Start(ctx context.Context) {
	log.Info().
		Str("leader", d.cfg.LeaderAddress).
		Dur("interval", d.cfg.PollInterval).
		Msg("👀 Activity detector started")

	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop halts polling and waits for the loop to exit
func (d *ActivityDetector) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	log.Info().Msg("Activity detector stopped")
}

// TriggerPollNow breaks the current sleep so the next poll happens
// immediately. Safe to call from any goroutine; extra triggers coalesce.
func (d *ActivityDetector) TriggerPollNow() {
	select {
	case d.pollNow <- struct{}{}:
	default:
	}
}

func (d *ActivityDetector) loop(ctx context.Context) {
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

// Poll runs one fetch cycle and returns an extra pause to apply before the
// next poll (nonzero only after a rate-limit response).
func (d *ActivityDetector) Poll(ctx context.Context) time.Duration {
	fetchStart := time.Now()

	d.mu.Lock()
	d.polls++
	d.mu.Unlock()

	trades, err := d.client.GetTrades(ctx, d.cfg.LeaderAddress, venue.TradeQuery{
		Limit:        fetchLimit,
		AfterUnixSec: d.cursorValue(),
	})
	if err != nil {
		return d.recordError(err)
	}
	d.recordSuccess()

	// Feed is newest-first; replay oldest-first so copies land in order
	fresh := make([]types.TradeEvent, 0, len(trades))
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if d.markSeen(t.ID) {
			continue
		}
		if t.Timestamp > d.cursorValue() {
			d.setCursor(t.Timestamp)
		}
		fresh = append(fresh, t)
	}

	d.mu.Lock()
	initial := d.isInitial
	d.isInitial = false
	d.mu.Unlock()

	if initial {
		// First poll only primes the dedup set and cursor; the leader's
		// history is not copied. With no history the cursor starts at the
		// poll time, otherwise later polls would page from the beginning.
		if len(fresh) > 0 {
			log.Info().Int("count", len(fresh)).Msg("Primed with existing leader trades")
		}
		if d.cursorValue() == 0 {
			d.setCursor(fetchStart.Unix())
		}
		return 0
	}

	for _, t := range fresh {
		t.DetectedAt = fetchStart
		t.DetectionLatencyMs = fetchStart.UnixMilli() - t.Timestamp*1000
		log.Info().
			Str("side", string(t.Side)).
			Str("size", t.Size.String()).
			Str("price", t.Price.String()).
			Int64("latency_ms", t.DetectionLatencyMs).
			Str("market", t.Title).
			Msg("🎯 Leader trade detected")
		if d.OnTrade != nil {
			d.OnTrade(t)
		}
	}
	return 0
}

// Polls returns how many fetch cycles have run
func (d *ActivityDetector) Polls() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polls
}

func (d *ActivityDetector) cursorValue() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

func (d *ActivityDetector) setCursor(ts int64) {
	d.mu.Lock()
	if ts > d.cursor {
		d.cursor = ts
	}
	d.mu.Unlock()
}

// markSeen returns true when the id was already known. The set is bounded:
// at the cap the oldest half is dropped.
func (d *ActivityDetector) markSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	d.seenOrder = append(d.seenOrder, id)

	if len(d.seenOrder) > seenCap {
		for _, old := range d.seenOrder[:seenTrim] {
			delete(d.seen, old)
		}
		d.seenOrder = append([]string(nil), d.seenOrder[seenTrim:]...)
	}
	return false
}

func (d *ActivityDetector) recordError(err error) time.Duration {
	d.mu.Lock()
	d.errStreak++
	streak := d.errStreak
	already := d.degraded
	if !already && streak >= d.cfg.MaxConsecutiveErrors {
		d.degraded = true
	}
	nowDegraded := d.degraded
	d.mu.Unlock()

	log.Warn().Err(err).Int("consecutive", streak).Msg("Activity poll failed")
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

func (d *ActivityDetector) recordSuccess() {
	d.mu.Lock()
	wasDegraded := d.degraded
	d.errStreak = 0
	d.degraded = false
	d.mu.Unlock()

	if wasDegraded {
		log.Info().Msg("✅ Activity feed recovered")
		if d.OnRecovered != nil {
			d.OnRecovered()
		}
	}
}
