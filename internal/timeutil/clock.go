// Package timeutil lets the viewer loop, the frame reader and the replay
// source run against either the wall clock or a manually advanced one.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the pipeline depends on.
type Clock interface {
	Now() time.Time
	// After is a one-shot timer. Prefer NewTimer where the timer may be
	// abandoned early so that it can be stopped.
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer mirrors *time.Timer with the channel behind a method.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Ticker mirrors *time.Ticker with the channel behind a method.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// RealClock uses the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) NewTimer(d time.Duration) Timer         { return &realTimer{time.NewTimer(d)} }
func (RealClock) NewTicker(d time.Duration) Ticker       { return &realTicker{time.NewTicker(d)} }

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time   { return r.t.C }
func (r *realTicker) Stop()                 { r.t.Stop() }
func (r *realTicker) Reset(d time.Duration) { r.t.Reset(d) }

// MockClock only moves when Advance or Set is called. Timers and tickers
// created from it fire during Advance; each channel holds at most one
// pending value, as with the real implementations.
type MockClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	timers  []*MockTimer
	tickers []*MockTicker
}

func NewMockClock(t time.Time) *MockClock {
	c := &MockClock{now: t}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set jumps to t without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and fires every timer and ticker that
// came due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	timers := append([]*MockTimer(nil), c.timers...)
	tickers := append([]*MockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range timers {
		t.fireIfDue(now)
	}
	for _, t := range tickers {
		t.fireIfDue(now)
	}
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C()
}

func (c *MockClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTimer{clock: c, ch: make(chan time.Time, 1), deadline: c.now.Add(d)}
	c.timers = append(c.timers, t)
	c.cond.Broadcast()
	return t
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{clock: c, ch: make(chan time.Time, 1), interval: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	c.cond.Broadcast()
	return t
}

// WaitForWaiters blocks until at least n timers and tickers in total have
// been created, so a test can Advance only once the code under test is
// waiting on the clock.
func (c *MockClock) WaitForWaiters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.timers)+len(c.tickers) < n {
		c.cond.Wait()
	}
}

// MockTimer fires once when its deadline passes.
type MockTimer struct {
	clock    *MockClock
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	stopped  bool
	fired    bool
}

func (t *MockTimer) C() <-chan time.Time { return t.ch }

func (t *MockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *MockTimer) Reset(d time.Duration) bool {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped, t.fired = false, false
	t.deadline = now.Add(d)
	return active
}

func (t *MockTimer) fireIfDue(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired || now.Before(t.deadline) {
		return
	}
	t.fired = true
	select {
	case t.ch <- now:
	default:
	}
}

// MockTicker fires at most once per Advance, however far the clock moved.
type MockTicker struct {
	clock    *MockClock
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *MockTicker) Reset(d time.Duration) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = now.Add(d)
	t.interval = d
	t.stopped = false
}

// Trigger delivers a tick immediately.
func (t *MockTicker) Trigger(now time.Time) {
	select {
	case t.ch <- now:
	default:
	}
}

func (t *MockTicker) fireIfDue(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.next = now.Add(t.interval)
}
