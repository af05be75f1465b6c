package detector

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEBSOCKET TRIGGER - Market channel listener that nudges the poller early
// ═══════════════════════════════════════════════════════════════════════════════
//
// The venue's market websocket broadcasts last_trade_price events per asset.
// Any trade on a watched asset might be the leader's, so the trigger fires
// the activity poller immediately instead of waiting out the poll interval.
// The websocket is an accelerator only; polling alone is fully correct.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	wsInitialBackoff = 1 * time.Second
	wsMaxBackoff     = 30 * time.Second
	wsMaxReconnects  = 10
	wsPingInterval   = 30 * time.Second
)

// WSTrigger subscribes to market events for the watched assets
type WSTrigger struct {
	url string

	// Called when a trade prints on a watched asset
	OnSignal func(tokenID string)

	mu      sync.Mutex
	watched map[string]struct{}
	conn    *websocket.Conn
	epoch   int // bumped on SetWatched to retire the old reader

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type wsSubscribe struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

type wsEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
}

// NewWSTrigger creates a trigger for the given websocket endpoint
func NewWSTrigger(url string) *WSTrigger {
	return &WSTrigger{
		url:     url,
		watched: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// SetWatched replaces the watched asset set. A live connection is dropped
// and re-established with the new subscription list.
func (w *WSTrigger) SetWatched(tokenIDs []string) {
	w.mu.Lock()
	w.watched = make(map[string]struct{}, len(tokenIDs))
	for _, id := range tokenIDs {
		w.watched[id] = struct{}{}
	}
	w.epoch++
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
}

// Start launches the connect/read loop
func (w *WSTrigger) Start(ctx context.Context) {
	log.Info().Str("url", w.url).Msg("📡 Websocket trigger started")
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop closes the connection and waits for the loop to exit
func (w *WSTrigger) Stop() {
	close(w.stopCh)
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.mu.Unlock()
	w.wg.Wait()
	log.Info().Msg("Websocket trigger stopped")
}

func (w *WSTrigger) run(ctx context.Context) {
	defer w.wg.Done()

	backoff := wsInitialBackoff
	failures := 0

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		assets := w.watchedList()
		if len(assets) == 0 {
			// Nothing to watch yet; check again shortly
			if !w.sleep(ctx, time.Second) {
				return
			}
			continue
		}

		err := w.connectAndRead(ctx, assets)
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err != nil {
			failures++
			if failures > wsMaxReconnects {
				log.Warn().Int("attempts", failures).Msg("Websocket trigger disabled after repeated failures, polling continues")
				return
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("Websocket disconnected, reconnecting")
			if !w.sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > wsMaxBackoff {
				backoff = wsMaxBackoff
			}
		} else {
			// Clean subscription change; reconnect immediately
			failures = 0
			backoff = wsInitialBackoff
		}
	}
}

func (w *WSTrigger) connectAndRead(ctx context.Context, assets []string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	epoch := w.epoch
	w.conn = conn
	w.mu.Unlock()

	sub := wsSubscribe{Type: "market", AssetsIDs: assets}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return err
	}
	log.Debug().Int("assets", len(assets)).Msg("Websocket subscribed")

	pingDone := make(chan struct{})
	go w.pingLoop(conn, pingDone)
	defer close(pingDone)
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			// A SetWatched close is not a failure
			if w.epochChanged(epoch) {
				return nil
			}
			return err
		}
		w.handleMessage(msg)
	}
}

// handleMessage parses a frame. The venue sends arrays of events; a single
// object is accepted too.
func (w *WSTrigger) handleMessage(msg []byte) {
	var events []wsEvent
	if err := json.Unmarshal(msg, &events); err != nil {
		var single wsEvent
		if err := json.Unmarshal(msg, &single); err != nil {
			return
		}
		events = []wsEvent{single}
	}

	for _, ev := range events {
		if ev.EventType != "last_trade_price" {
			continue
		}
		if !w.isWatched(ev.AssetID) {
			continue
		}
		log.Debug().Str("token", ev.AssetID).Msg("⚡ Trade signal, forcing early poll")
		if w.OnSignal != nil {
			w.OnSignal(ev.AssetID)
		}
	}
}

func (w *WSTrigger) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (w *WSTrigger) watchedList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for id := range w.watched {
		out = append(out, id)
	}
	return out
}

func (w *WSTrigger) isWatched(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watched[id]
	return ok
}

func (w *WSTrigger) epochChanged(epoch int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch != epoch
}

func (w *WSTrigger) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
