// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package presig

import (
	"fmt"
	"time"

	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

// Table is the in-memory view of a disk's presignature slots. It is
// not safe for concurrent use; the signer's per-child lock serializes
// all access.
type Table struct {
	slots []diskimage.Slot
}

// NewTable builds a table over a decoded slot table. The slice is
// shared, not copied: a table built from diskimage.File.Slots()
// observes status writes made through the file handle.
func NewTable(slots []diskimage.Slot) *Table {
	return &Table{slots: slots}
}

// Len returns the total slot count.
func (t *Table) Len() uint32 { return uint32(len(t.slots)) }

// Remaining counts Fresh slots.
func (t *Table) Remaining() uint32 {
	var count uint32
	for i := range t.slots {
		if t.slots[i].Status == diskimage.SlotFresh {
			count++
		}
	}
	return count
}

// SelectFresh returns the lowest-index Fresh slot. Lowest-index
// selection keeps consumption deterministic and auditable. Fails with
// NoPresigsRemaining when every slot is Used or Voided.
func (t *Table) SelectFresh() (uint32, error) {
	for i := range t.slots {
		if t.slots[i].Status == diskimage.SlotFresh {
			return uint32(i), nil
		}
	}
	return 0, signerr.ErrNoPresigsRemaining
}

// Slot returns the slot at index.
func (t *Table) Slot(index uint32) (diskimage.Slot, error) {
	if index >= uint32(len(t.slots)) {
		return diskimage.Slot{}, fmt.Errorf("slot index %d out of range (total %d)", index, len(t.slots))
	}
	return t.slots[index], nil
}

// MarkUsed applies the Fresh→Used transition. Any other source state
// is a protocol violation, not a recoverable condition.
func (t *Table) MarkUsed(index uint32) error {
	return t.transition(index, diskimage.SlotUsed)
}

// Void applies the Fresh→Voided transition (mother, administrative).
func (t *Table) Void(index uint32) error {
	return t.transition(index, diskimage.SlotVoided)
}

func (t *Table) transition(index uint32, target diskimage.SlotStatus) error {
	if index >= uint32(len(t.slots)) {
		return fmt.Errorf("slot index %d out of range (total %d)", index, len(t.slots))
	}
	current := t.slots[index].Status
	if current != diskimage.SlotFresh {
		return fmt.Errorf("slot %d is %s; only fresh slots transition to %s", index, current, target)
	}
	t.slots[index].Status = target
	return nil
}

// Validate checks disk-level validity in the signer's precedence
// order. The header signature must already have been verified; this
// function trusts the header fields it reads.
//
// Order: expiry, then reconciliation, then remaining presignatures.
// Each failure maps to its distinct taxonomy kind so the caller can
// surface the exact remedy.
func Validate(header *diskimage.Header, table *Table, now time.Time) error {
	// is_valid must be false at now == expires_at, not merely after.
	if now.Unix() >= header.ExpiresAt {
		return signerr.ErrDiskExpired
	}
	if header.UsesSinceReconcile >= header.MaxUsesBeforeReconcile {
		return signerr.ErrReconciliationRequired
	}
	if header.ReconcileDeadline != 0 && now.Unix() >= header.ReconcileDeadline {
		return signerr.ErrReconciliationRequired
	}
	if header.PresigUsed >= header.PresigTotal {
		return signerr.ErrNoPresigsRemaining
	}
	if table.Remaining() == 0 {
		return signerr.ErrNoPresigsRemaining
	}
	return nil
}
