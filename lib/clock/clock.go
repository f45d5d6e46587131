// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time surface sigil components read through. It is
// deliberately narrow: Now for expiry and deadline checks, After for
// debounce waits, NewTicker for the rescan loop. Production code takes
// Real(); tests take Fake() and drive it with Advance.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the fire time once d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering on C every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. C is buffered with capacity 1;
// ticks the consumer does not keep up with are dropped, matching
// time.Ticker. Stop releases the ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. No tick arrives on C after Stop returns.
// C is not closed.
func (t *Ticker) Stop() { t.stop() }
