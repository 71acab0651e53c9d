package stream

import (
	"context"
	"sync/atomic"
	"time"
)

// State is the run state of a periodic task.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

type taskState struct {
	v atomic.Int32
}

func (t *taskState) load() State   { return State(t.v.Load()) }
func (t *taskState) store(s State) { t.v.Store(int32(s)) }

// signal is an edge-triggered wake. Any number of notifies before a wait
// collapse into one wake-up.
type signal struct {
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{}, 1)}
}

// notify reports whether a wake-up was stored (false if one was pending).
func (s *signal) notify() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *signal) wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ticker schedules against absolute deadlines so sleep error does not
// accumulate across cycles.
type ticker struct {
	next time.Time
}

func (t *ticker) reset() { t.next = time.Now() }

// sleep advances the deadline by period and waits for it. A task that fell
// more than one period behind resynchronizes instead of bursting.
func (t *ticker) sleep(ctx context.Context, period time.Duration) error {
	t.next = t.next.Add(period)
	now := time.Now()
	if now.Sub(t.next) > period {
		t.next = now
	}
	d := time.Until(t.next)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
