package alert

import (
	"sync"
	"testing"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureNotifier) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestSeverityOrdering(t *testing.T) {
	t.Parallel()
	cases := []struct {
		s, min Severity
		want   bool
	}{
		{SeverityCritical, SeverityLow, true},
		{SeverityLow, SeverityLow, true},
		{SeverityLow, SeverityMedium, false},
		{SeverityMedium, SeverityMedium, true},
		{SeverityHigh, SeverityCritical, false},
		{SeverityCritical, SeverityCritical, true},
	}
	for _, c := range cases {
		if got := c.s.atLeast(c.min); got != c.want {
			t.Errorf("%s atLeast %s = %v, want %v", c.s, c.min, got, c.want)
		}
	}
}

func TestMinSeverityFilter(t *testing.T) {
	t.Parallel()
	capture := &captureNotifier{}
	s := NewSink(SeverityMedium, capture)

	s.Notify(SeverityLow, "quiet", "dropped")
	s.Notify(SeverityHigh, "loud", "delivered")
	s.Flush()

	if capture.count() != 1 {
		t.Errorf("delivered %d messages, want 1", capture.count())
	}
}

func TestLimiterEnforcesGap(t *testing.T) {
	t.Parallel()
	l := newSendLimiter()

	if !l.allow() {
		t.Fatal("first send blocked")
	}
	// Immediately after, inside the 2 s gap
	if l.allow() {
		t.Error("send allowed inside the minimum gap")
	}
}

func TestLimiterWindowCap(t *testing.T) {
	t.Parallel()
	l := newSendLimiter()

	// Bypass the gap by backdating sends
	for i := 0; i < maxPerMinute; i++ {
		if !l.allow() {
			t.Fatalf("send %d blocked", i)
		}
		l.mu.Lock()
		l.lastSend = l.lastSend.Add(-minGap)
		l.mu.Unlock()
	}
	if l.allow() {
		t.Error("send allowed beyond the per-minute cap")
	}
}
