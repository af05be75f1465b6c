package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestGateFirstCallImmediate(t *testing.T) {
	t.Parallel()
	g := NewGate(10)

	start := time.Now()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first Wait() took %v, expected immediate", elapsed)
	}
}

func TestGateEnforcesInterval(t *testing.T) {
	t.Parallel()
	// 10/s → 100ms interval
	g := NewGate(10)

	_ = g.Wait(context.Background())
	start := time.Now()
	_ = g.Wait(context.Background())
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("second Wait() returned after %v, expected ~100ms", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("second Wait() blocked too long: %v", elapsed)
	}
}

func TestGateContextCancelled(t *testing.T) {
	t.Parallel()
	g := NewGate(0.1) // 10s interval

	_ = g.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); err == nil {
		t.Error("expected context error, got nil")
	}
}

func TestBucketStartsFull(t *testing.T) {
	t.Parallel()
	b := NewBucket(10, 1)
	if got := b.Tokens(); got < 9.9 || got > 10 {
		t.Errorf("Tokens() = %v, want ~10", got)
	}
}

func TestBucketConsumeWithinCapacityImmediate(t *testing.T) {
	t.Parallel()
	b := NewBucket(5, 1)

	start := time.Now()
	if err := b.Consume(context.Background(), 5); err != nil {
		t.Fatalf("Consume() returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Consume(5) took %v, expected immediate", elapsed)
	}
}

func TestBucketDebtBlocks(t *testing.T) {
	t.Parallel()
	// 1 token, refill 10/s. Consuming 2 leaves a debt of 1 → ~100ms wait.
	b := NewBucket(1, 10)

	start := time.Now()
	if err := b.Consume(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("expected ~100ms debt wait, got %v", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("blocked too long: %v", elapsed)
	}

	if got := b.Tokens(); got > 0.5 {
		t.Errorf("Tokens() = %v after debt, want near zero or negative", got)
	}
}

func TestBucketContextCancelled(t *testing.T) {
	t.Parallel()
	b := NewBucket(1, 0.1) // very slow refill

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.Consume(ctx, 5); err == nil {
		t.Error("expected context error, got nil")
	}
}
