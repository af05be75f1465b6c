// Package ratelimit gates calls to the venue's HTTP endpoint families.
//
// The venue enforces per-category limits, so three independent gates are
// kept: activity polling (~100/s), positions (~20/s) and book/price reads
// (~15/s). Each gate records the last call time and makes callers wait out
// the remaining minimum interval.
//
// A token bucket with a debt model is also provided for pooled callers:
// Consume(n) may drive the balance negative so that concurrent callers
// serialize smoothly instead of bunching on refill boundaries.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Gate enforces a minimum interval between calls.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
}

// NewGate creates a gate allowing ratePerSecond calls per second.
func NewGate(ratePerSecond float64) *Gate {
	return &Gate{interval: time.Duration(float64(time.Second) / ratePerSecond)}
}

// Wait blocks until the minimum interval since the previous call has
// elapsed or ctx is cancelled. The call slot is reserved before sleeping so
// concurrent callers queue up behind each other.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	next := g.lastCall.Add(g.interval)
	if next.Before(now) {
		next = now
	}
	g.lastCall = next
	g.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// Bucket is a token bucket that allows debt: Consume always succeeds
// immediately at the accounting level and the caller sleeps off whatever
// part of the cost the bucket could not cover.
type Bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewBucket creates a bucket with the given burst capacity and refill rate.
func NewBucket(capacity, ratePerSecond float64) *Bucket {
	return &Bucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Consume takes n tokens, letting the balance go negative, and blocks for
// max(0, (n - tokens)/rate) or until ctx is cancelled.
func (b *Bucket) Consume(ctx context.Context, n float64) error {
	b.mu.Lock()
	now := time.Now()
	b.tokens += now.Sub(b.lastTime).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastTime = now

	deficit := n - b.tokens
	b.tokens -= n
	b.mu.Unlock()

	if deficit <= 0 {
		return nil
	}
	wait := time.Duration(deficit / b.rate * float64(time.Second))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// Tokens returns the current balance (may be negative under debt).
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.tokens += now.Sub(b.lastTime).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastTime = now
	return b.tokens
}

// Gates groups the per-endpoint-family gates used by the venue client.
type Gates struct {
	Activity  *Gate // GET /activity, leader trade polling
	Positions *Gate // GET /positions, /value
	Book      *Gate // GET /book, /price, /midpoint, /spread
}

// NewGates creates gates tuned to the venue's published limits.
func NewGates() *Gates {
	return &Gates{
		Activity:  NewGate(100),
		Positions: NewGate(20),
		Book:      NewGate(15),
	}
}
