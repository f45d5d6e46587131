// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only when
// Advance is called, so tests can place themselves exactly at a disk
// expiry instant or one tick before a reconciliation deadline.
//
// Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.armed = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock implements Clock with manually driven time. After channels
// and tickers fire during Advance, in deadline order, with the fire
// time the real clock would have delivered.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	armed  *sync.Cond
}

// fakeTimer is one pending After channel or ticker.
type fakeTimer struct {
	fires    time.Time
	channel  chan time.Time
	interval time.Duration // non-zero for tickers
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once the clock advances past d
// from now. A non-positive d delivers immediately without arming a
// timer.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.armLocked(&fakeTimer{fires: c.now.Add(d), channel: channel})
	return channel
}

// NewTicker returns a Ticker firing every d of advanced time. Panics
// if d <= 0. Advancing across several intervals fires once per
// interval; ticks beyond the channel buffer are dropped, as with
// time.Ticker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{
		fires:    c.now.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.armLocked(timer)

	return &Ticker{
		C: timer.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.disarmLocked(timer)
		},
	}
}

// Advance moves the clock forward by d. Every timer whose deadline
// falls within the new window fires, earliest first, receiving its own
// deadline as the fire time. Channel sends never block; a full buffer
// drops the tick.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.now.Add(d)
	for {
		timer := c.earliestDueLocked(target)
		if timer == nil {
			break
		}
		c.now = timer.fires
		select {
		case timer.channel <- timer.fires:
		default:
		}
		if timer.interval > 0 {
			timer.fires = timer.fires.Add(timer.interval)
		} else {
			c.disarmLocked(timer)
		}
	}
	c.now = target
}

// WaitForTimers blocks until at least n timers or tickers are armed.
// Call it before Advance when the timer is armed by another goroutine,
// so the advance cannot race past the arm:
//
//	go watcher.Run(ctx)          // arms the rescan ticker
//	fake.WaitForTimers(1)
//	fake.Advance(rescanInterval) // deterministically fires it
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.timers) < n {
		c.armed.Wait()
	}
}

func (c *FakeClock) armLocked(timer *fakeTimer) {
	c.timers = append(c.timers, timer)
	c.armed.Broadcast()
}

func (c *FakeClock) disarmLocked(timer *fakeTimer) {
	for index, candidate := range c.timers {
		if candidate == timer {
			c.timers = append(c.timers[:index], c.timers[index+1:]...)
			return
		}
	}
}

// earliestDueLocked returns the armed timer with the earliest deadline
// at or before target, or nil when nothing is due.
func (c *FakeClock) earliestDueLocked(target time.Time) *fakeTimer {
	var due *fakeTimer
	for _, timer := range c.timers {
		if timer.fires.After(target) {
			continue
		}
		if due == nil || timer.fires.Before(due.fires) {
			due = timer
		}
	}
	return due
}
