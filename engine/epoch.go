package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// EpochPrecision is the number of epoch subdivisions per configured
// deadline. A sandbox may be created at any point within a tick, so
// deadlines are armed precision+1 ticks out: a request never expires early
// and worst-case overshoot is one tick.
const EpochPrecision = 10

// ErrDeadlineExceeded is the cancellation cause when a sandbox runs past
// its epoch budget.
var ErrDeadlineExceeded = errors.New("epoch deadline exceeded")

// EpochTicker is the shared cooperative-preemption clock. One dedicated
// goroutine advances a global epoch counter at a fixed interval and
// cancels every armed sandbox whose target epoch has passed. Sandboxes
// only ever read the counter; the hot path takes no locks.
//
// Only create one when a deadline is configured; without it sandboxes run
// unpreempted.
type EpochTicker struct {
	interval time.Duration
	epoch    atomic.Uint64

	mu    sync.Mutex
	armed map[uint64]armedDeadline

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type armedDeadline struct {
	target uint64
	cancel context.CancelCauseFunc
}

// NewEpochTicker starts the ticker goroutine. Interval is the configured
// deadline divided by EpochPrecision; a deadline shorter than the
// precision divides to zero and is clamped to the smallest representable
// interval rather than rejected.
func NewEpochTicker(interval time.Duration) *EpochTicker {
	if interval <= 0 {
		interval = time.Nanosecond
	}
	t := &EpochTicker{
		interval: interval,
		armed:    make(map[uint64]armedDeadline),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *EpochTicker) run() {
	defer close(t.done)
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tick.C:
			t.expire(t.epoch.Add(1))
		}
	}
}

func (t *EpochTicker) expire(now uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, d := range t.armed {
		if d.target <= now {
			d.cancel(ErrDeadlineExceeded)
			delete(t.armed, id)
		}
	}
}

// Current returns the global epoch position. The counter is monotonic and
// shared by all sandboxes; only deltas relative to Arm time are meaningful.
func (t *EpochTicker) Current() uint64 {
	return t.epoch.Load()
}

// Arm schedules cancel to fire once the epoch advances delta ticks past
// its current position. id keys the registration; the returned disarm must
// be called when the request completes so a finished sandbox is never
// cancelled.
func (t *EpochTicker) Arm(id uint64, delta uint64, cancel context.CancelCauseFunc) (disarm func()) {
	t.mu.Lock()
	t.armed[id] = armedDeadline{target: t.epoch.Load() + delta, cancel: cancel}
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.armed, id)
		t.mu.Unlock()
	}
}

// Stop shuts the ticker down and waits for its goroutine to exit. The
// counter never advances after Stop returns. Safe to call twice.
func (t *EpochTicker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}
