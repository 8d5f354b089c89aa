package saver

import (
	"sort"
	"sync"
	"time"
)

// Scheduler abstracts timer scheduling so the state machine can be
// driven by a virtual clock in tests instead of wall-clock waits.
type Scheduler interface {
	// Schedule runs fn after d. The returned timer can be stopped
	// before it fires.
	Schedule(d time.Duration, fn func()) Timer

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// Now returns the scheduler's current time.
	Now() time.Time
}

// Timer is a cancelable scheduled call.
type Timer interface {
	// Stop cancels the timer. Reports whether it was still pending.
	Stop() bool
}

// WallClock schedules on the real clock.
type WallClock struct{}

func (WallClock) Schedule(d time.Duration, fn func()) Timer { return wallTimer{time.AfterFunc(d, fn)} }
func (WallClock) After(d time.Duration) <-chan time.Time    { return time.After(d) }
func (WallClock) Now() time.Time                            { return time.Now() }

type wallTimer struct{ t *time.Timer }

func (w wallTimer) Stop() bool { return w.t.Stop() }

// ManualClock is a deterministic scheduler for tests. Timers fire
// synchronously inside Advance, in deadline order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManualClock creates a manual clock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Time
	fn       func()
	ch       chan time.Time
	stopped  bool
	fired    bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

func (c *ManualClock) Schedule(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, deadline: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	return t.ch
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward, firing due timers in deadline order.
// Callbacks run synchronously in the caller's goroutine.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	due := make([]*manualTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	now := c.now
	c.mu.Unlock()

	for _, t := range due {
		if t.ch != nil {
			t.ch <- now
		}
		if t.fn != nil {
			t.fn()
		}
	}
}
