package core

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts time so every timer in the engine can be driven by tests
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	AfterFunc(d time.Duration, f func()) Timer
}

// Ticker delivers ticks on C
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer is a stoppable one-shot callback
type Timer interface {
	Stop() bool
}

type realClock struct{}

// NewRealClock returns a Clock backed by the time package
func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// FakeClock is a manually advanced Clock. Callbacks registered with
// AfterFunc run synchronously inside Advance, in deadline order.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	clock   *FakeClock
	at      time.Time
	period  time.Duration
	ch      chan time.Time
	fn      func()
	stopped bool
}

// NewFakeClock returns a FakeClock set to start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{clock: c, at: c.now.Add(d), period: d, ch: make(chan time.Time, 1)}
	c.waiters = append(c.waiters, w)
	return fakeTicker{w}
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{clock: c, at: c.now.Add(d), fn: f}
	c.waiters = append(c.waiters, w)
	return w
}

// Advance moves the clock forward, firing every timer and ticker that comes due
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		w := c.nextDueLocked(target)
		if w == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = w.at
		fire := w.fn
		if w.period > 0 {
			select {
			case w.ch <- w.at:
			default:
			}
			w.at = w.at.Add(w.period)
		} else {
			w.stopped = true
			c.removeLocked(w)
		}
		c.mu.Unlock()

		if fire != nil {
			fire()
		}
	}
}

// PendingTimers reports how many one-shot timers are armed
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if w.period == 0 && !w.stopped {
			n++
		}
	}
	return n
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	sort.SliceStable(c.waiters, func(i, j int) bool { return c.waiters[i].at.Before(c.waiters[j].at) })
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if !w.at.After(target) {
			return w
		}
		return nil
	}
	return nil
}

func (c *FakeClock) removeLocked(w *fakeWaiter) {
	for i, x := range c.waiters {
		if x == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

type fakeTicker struct{ w *fakeWaiter }

func (t fakeTicker) C() <-chan time.Time { return t.w.ch }
func (t fakeTicker) Stop()               { t.w.Stop() }

func (w *fakeWaiter) Stop() bool {
	w.clock.mu.Lock()
	defer w.clock.mu.Unlock()
	wasActive := !w.stopped
	w.stopped = true
	w.clock.removeLocked(w)
	return wasActive
}
