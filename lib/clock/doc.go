// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that disk
// expiry, reconciliation deadlines, watcher debouncing, and rescan
// intervals can be tested at exact boundaries.
//
// Production code holds a Clock field and reads time only through it:
//
//	w := &Watcher{clock: clock.Real()}
//
// Tests substitute a FakeClock and drive it explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	w := &Watcher{clock: c}
//	// ... start goroutines ...
//	c.WaitForTimers(1) // block until the goroutine arms its timer
//	c.Advance(5 * time.Second)
//
// When another goroutine arms a timer (After or NewTicker) on a
// FakeClock, use WaitForTimers before Advance; that removes the race
// between arming and advancing that plagues tests which synchronize
// with real sleeps.
package clock
