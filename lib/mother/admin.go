// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package mother

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
)

// Reconcile audits a returned disk and resets its reconciliation
// state: the uses-since-reconcile counter drops to zero and, when
// nextDeadline is positive, a fresh wall-clock deadline is signed in.
// The usage log is the audit input; reconciliation fails if the log
// disagrees with the slot table.
func (a *Authority) Reconcile(diskPath string, nextDeadline time.Duration) error {
	image, err := a.loadOwnedImage(diskPath)
	if err != nil {
		return err
	}
	childID := image.Header.ChildID
	if err := a.requireActive(childID); err != nil {
		return err
	}
	if err := auditImage(image); err != nil {
		return err
	}

	image.Header.UsesSinceReconcile = 0
	if nextDeadline > 0 {
		image.Header.ReconcileDeadline = a.clock.Now().Add(nextDeadline).Unix()
	} else {
		image.Header.ReconcileDeadline = 0
	}

	a.signHeader(&image.Header)
	if err := a.writeImage(diskPath, image); err != nil {
		return err
	}

	a.logger.Info("child disk reconciled",
		"child_id", hex.EncodeToString(childID[:]),
		"presig_used", image.Header.PresigUsed,
		"log_records", len(image.Log),
	)
	return nil
}

// Revoke marks a child as revoked in the registry without touching any
// medium. This is the path for a lost or stolen disk: the disk is not
// in hand, but Reconcile and Refill must refuse it if it ever
// resurfaces. Revoking an already revoked child updates the reason.
func (a *Authority) Revoke(childID [32]byte, reason string) error {
	entry, exists := a.Registry(childID)
	if !exists {
		return fmt.Errorf("child %s is not in this authority's registry", hex.EncodeToString(childID[:8]))
	}

	entry.Revoked = true
	entry.RevokedAt = a.clock.Now().Unix()
	entry.RevokeReason = reason
	if err := a.saveRegistry(); err != nil {
		return err
	}

	a.logger.Info("child revoked",
		"child_id", hex.EncodeToString(childID[:]),
		"reason", reason,
	)
	return nil
}

// Nullify retires a child whose disk is in hand: every fresh slot is
// voided, the disk expires immediately, and the child is revoked in
// the registry. The usage log is left intact as the audit trail. When
// the disk is lost, use Revoke instead.
func (a *Authority) Nullify(diskPath, reason string) error {
	image, err := a.loadOwnedImage(diskPath)
	if err != nil {
		return err
	}
	childID := image.Header.ChildID

	if _, exists := a.Registry(childID); !exists {
		return fmt.Errorf("child %s is not in this authority's registry", hex.EncodeToString(childID[:8]))
	}

	voided := 0
	for index := range image.Slots {
		if image.Slots[index].Status == diskimage.SlotFresh {
			image.Slots[index].Status = diskimage.SlotVoided
			voided++
		}
	}

	image.Header.ExpiresAt = a.clock.Now().Unix()
	a.signHeader(&image.Header)
	if err := a.writeImage(diskPath, image); err != nil {
		return err
	}

	if err := a.Revoke(childID, reason); err != nil {
		return err
	}

	a.logger.Info("child disk nullified",
		"child_id", hex.EncodeToString(childID[:]),
		"voided", voided,
	)
	return nil
}

// Inspection is the mother's read-only view of a disk, for the show
// command.
type Inspection struct {
	Header diskimage.Header
	Fresh  uint32
	Used   uint32
	Voided uint32
	Log    []diskimage.LogRecord

	// AuditErr is non-nil when the usage log and slot table disagree.
	AuditErr error

	// Revoked mirrors the registry, false for disks from another
	// authority's registry.
	Revoked bool
}

// Inspect parses and verifies a disk without modifying it.
func (a *Authority) Inspect(diskPath string) (*Inspection, error) {
	image, err := a.loadOwnedImage(diskPath)
	if err != nil {
		return nil, err
	}

	inspection := &Inspection{
		Header:   image.Header,
		Log:      image.Log,
		AuditErr: auditImage(image),
	}
	for _, slot := range image.Slots {
		switch slot.Status {
		case diskimage.SlotFresh:
			inspection.Fresh++
		case diskimage.SlotUsed:
			inspection.Used++
		case diskimage.SlotVoided:
			inspection.Voided++
		}
	}
	if entry, exists := a.Registry(image.Header.ChildID); exists {
		inspection.Revoked = entry.Revoked
	}
	return inspection, nil
}

// auditImage cross-checks the slot table against the usage log: every
// Used slot must have exactly one record and every record a Used slot.
func auditImage(image *diskimage.Image) error {
	recorded := make(map[uint32]int, len(image.Log))
	for _, record := range image.Log {
		recorded[record.PresigIndex]++
	}
	for index, count := range recorded {
		if count > 1 {
			return fmt.Errorf("usage log has %d records for slot %d", count, index)
		}
		if index >= uint32(len(image.Slots)) {
			return fmt.Errorf("usage log references slot %d beyond the table", index)
		}
		if image.Slots[index].Status != diskimage.SlotUsed {
			return fmt.Errorf("slot %d has a usage record but status %s",
				index, image.Slots[index].Status)
		}
	}
	for index, slot := range image.Slots {
		if slot.Status == diskimage.SlotUsed && recorded[uint32(index)] == 0 {
			return fmt.Errorf("slot %d is used but has no usage record", index)
		}
	}
	return nil
}
