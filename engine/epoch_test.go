package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEpochTickerAdvances(t *testing.T) {
	ticker := NewEpochTicker(time.Millisecond)
	defer ticker.Stop()

	waitFor(t, func() bool { return ticker.Current() >= 3 })
}

func TestEpochTickerSubPrecisionInterval(t *testing.T) {
	// A deadline below the precision divides to a zero interval; the
	// ticker must clamp it and run instead of crashing the process.
	ticker := NewEpochTicker(5 * time.Nanosecond / EpochPrecision)
	defer ticker.Stop()

	waitFor(t, func() bool { return ticker.Current() >= 1 })
}

func TestEpochTickerArmCancels(t *testing.T) {
	ticker := NewEpochTicker(time.Millisecond)
	defer ticker.Stop()

	ctx, cancel := context.WithCancelCause(context.Background())
	disarm := ticker.Arm(1, 2, cancel)
	defer disarm()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("armed deadline never fired")
	}
	if cause := context.Cause(ctx); !errors.Is(cause, ErrDeadlineExceeded) {
		t.Errorf("cause = %v, want ErrDeadlineExceeded", cause)
	}
}

func TestEpochTickerNeverFiresEarly(t *testing.T) {
	ticker := NewEpochTicker(10 * time.Millisecond)
	defer ticker.Stop()

	ctx, cancel := context.WithCancelCause(context.Background())
	disarm := ticker.Arm(1, 1000, cancel)
	defer disarm()

	select {
	case <-ctx.Done():
		t.Fatalf("deadline fired %d ticks early", 1000-ticker.Current())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEpochTickerDisarm(t *testing.T) {
	ticker := NewEpochTicker(time.Millisecond)
	defer ticker.Stop()

	ctx, cancel := context.WithCancelCause(context.Background())
	start := ticker.Current()
	disarm := ticker.Arm(1, 2, cancel)
	disarm()

	waitFor(t, func() bool { return ticker.Current() >= start+5 })
	select {
	case <-ctx.Done():
		t.Error("disarmed deadline still fired")
	default:
	}
}

func TestEpochTickerIndependentIDs(t *testing.T) {
	ticker := NewEpochTicker(time.Millisecond)
	defer ticker.Stop()

	ctxA, cancelA := context.WithCancelCause(context.Background())
	ctxB, cancelB := context.WithCancelCause(context.Background())
	ticker.Arm(1, 2, cancelA)
	disarmB := ticker.Arm(2, 1000, cancelB)
	defer disarmB()

	select {
	case <-ctxA.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("short deadline never fired")
	}
	select {
	case <-ctxB.Done():
		t.Error("long deadline fired with the short one")
	default:
	}
}

func TestEpochTickerStop(t *testing.T) {
	ticker := NewEpochTicker(time.Millisecond)
	waitFor(t, func() bool { return ticker.Current() >= 1 })

	ticker.Stop()
	frozen := ticker.Current()
	time.Sleep(20 * time.Millisecond)
	if got := ticker.Current(); got != frozen {
		t.Errorf("counter advanced after Stop: %d -> %d", frozen, got)
	}

	// Stop is idempotent.
	ticker.Stop()
}
