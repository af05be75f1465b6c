package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ALERT SINK - Severity-filtered fan-out to Telegram and Discord
// ═══════════════════════════════════════════════════════════════════════════════
//
// Sends are fire-and-forget: the hot path never waits on a notifier. Each
// channel has its own rate limiter; a throttled message is dropped with a
// log line rather than queued.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Severity of an alert, ordered critical < high < medium < low
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// atLeast reports whether s is at or above the min threshold
func (s Severity) atLeast(min Severity) bool {
	sr, ok1 := severityRank[s]
	mr, ok2 := severityRank[min]
	if !ok1 || !ok2 {
		return true
	}
	return sr <= mr
}

func (s Severity) emoji() string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityHigh:
		return "⚠️"
	case SeverityMedium:
		return "📢"
	default:
		return "ℹ️"
	}
}

// Notifier delivers one formatted message to a channel
type Notifier interface {
	Send(text string) error
	Name() string
}

// Sink filters by severity and fans out to the configured notifiers
type Sink struct {
	minSeverity Severity
	channels    []*channel
	wg          sync.WaitGroup
}

type channel struct {
	notifier Notifier
	limiter  *sendLimiter
}

// NewSink creates a sink. Notifiers may be empty; the sink then only logs.
func NewSink(minSeverity Severity, notifiers ...Notifier) *Sink {
	s := &Sink{minSeverity: minSeverity}
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		s.channels = append(s.channels, &channel{notifier: n, limiter: newSendLimiter()})
		log.Info().Str("channel", n.Name()).Msg("🔔 Alert channel enabled")
	}
	return s
}

// Notify formats and dispatches an alert. Returns immediately.
func (s *Sink) Notify(severity Severity, title, body string) {
	if !severity.atLeast(s.minSeverity) {
		return
	}

	text := fmt.Sprintf("%s %s\n%s", severity.emoji(), title, body)
	log.Info().Str("severity", string(severity)).Str("title", title).Msg("Alert")

	for _, ch := range s.channels {
		if !ch.limiter.allow() {
			log.Debug().Str("channel", ch.notifier.Name()).Msg("Alert dropped, channel throttled")
			continue
		}
		ch := ch
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := ch.notifier.Send(text); err != nil {
				log.Warn().Err(err).Str("channel", ch.notifier.Name()).Msg("Alert send failed")
			}
		}()
	}
}

// Flush waits for in-flight sends, used at shutdown
func (s *Sink) Flush() {
	s.wg.Wait()
}

// sendLimiter caps a channel at 20 sends per minute with at least 2 s
// between consecutive sends
type sendLimiter struct {
	mu       sync.Mutex
	lastSend time.Time
	window   []time.Time
}

const (
	maxPerMinute = 20
	minGap       = 2 * time.Second
)

func newSendLimiter() *sendLimiter {
	return &sendLimiter{}
}

func (l *sendLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if !l.lastSend.IsZero() && now.Sub(l.lastSend) < minGap {
		return false
	}

	cutoff := now.Add(-time.Minute)
	kept := l.window[:0]
	for _, t := range l.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.window = kept

	if len(l.window) >= maxPerMinute {
		return false
	}

	l.lastSend = now
	l.window = append(l.window, now)
	return true
}
