package venue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CACHE WARMERS
// ═══════════════════════════════════════════════════════════════════════════════
//
// Three loops keep the hot path's reads cache-warm:
//   - book warmer:   refreshes order books for watched tokens every 2.5s
//   - price warmer:  refreshes BUY-intent prices for watched tokens every 4s
//   - value prefetch: refreshes the leader's portfolio value every 30s
//
// The watched set is replaced wholesale by the orchestrator whenever the
// leader opens a new position.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	bookWarmInterval  = 2500 * time.Millisecond
	priceWarmInterval = 4 * time.Second
	valueWarmInterval = 30 * time.Second
)

// Warmer runs the cache warm-up loops against a venue client
type Warmer struct {
	client     *Client
	leaderAddr string

	mu      sync.RWMutex
	watched []string

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewWarmer creates a warmer for the leader's watched tokens
func NewWarmer(client *Client, leaderAddr string, initial []string) *Warmer {
	return &Warmer{
		client:     client,
		leaderAddr: leaderAddr,
		watched:    append([]string(nil), initial...),
		stopCh:     make(chan struct{}),
	}
}

// SetWatched replaces the entire watched-token set
func (w *Warmer) SetWatched(tokens []string) {
	w.mu.Lock()
	w.watched = append([]string(nil), tokens...)
	w.mu.Unlock()
}

func (w *Warmer) snapshot() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.watched...)
}

// Start launches the warm loops
func (w *Warmer) Start(ctx context.Context) {
	w.wg.Add(3)
	go w.loop(ctx, bookWarmInterval, w.warmBooks)
	go w.loop(ctx, priceWarmInterval, w.warmPrices)
	go w.loop(ctx, valueWarmInterval, w.warmValue)
	log.Info().Int("watched", len(w.snapshot())).Msg("🔥 Cache warmers started")
}

// Stop terminates the loops and waits for them to exit
func (w *Warmer) Stop() {
	w.stopped.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Warmer) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (w *Warmer) warmBooks(ctx context.Context) {
	for _, token := range w.snapshot() {
		if _, err := w.client.RefreshBook(ctx, token); err != nil {
			log.Debug().Err(err).Str("token", short(token)).Msg("book warm failed")
		}
	}
}

func (w *Warmer) warmPrices(ctx context.Context) {
	for _, token := range w.snapshot() {
		if _, err := w.client.RefreshPrice(ctx, token, types.SideBuy); err != nil {
			log.Debug().Err(err).Str("token", short(token)).Msg("price warm failed")
		}
	}
}

func (w *Warmer) warmValue(ctx context.Context) {
	if _, err := w.client.GetPortfolioValue(ctx, w.leaderAddr, true); err != nil {
		log.Debug().Err(err).Msg("portfolio value warm failed")
	}
}
