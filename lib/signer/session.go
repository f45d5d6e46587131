// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"log/slog"

	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
	"github.com/chippr-robotics/sigil-sub001/lib/presig"
	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
	"github.com/chippr-robotics/sigil-sub001/lib/usagelog"
)

// session is an open, verified, repaired disk medium.
type session struct {
	file  *diskimage.File
	table *presig.Table
	log   *usagelog.Log
}

// openSession opens and verifies the medium at path, then runs the
// recovery scan. Only a session that passed all three steps is handed
// to the signing path.
func openSession(path string, motherKey ed25519.PublicKey, logger *slog.Logger) (*session, error) {
	file, err := diskimage.OpenFile(path)
	if err != nil {
		return nil, err
	}
	if !file.Header().VerifySignature(motherKey) {
		file.Close()
		return nil, signerr.ErrInvalidSignature
	}

	sess := &session{
		file:  file,
		table: presig.NewTable(file.Slots()),
		log:   usagelog.New(file),
	}
	if err := sess.recoverInterrupted(logger); err != nil {
		file.Close()
		return nil, err
	}
	return sess, nil
}

// recoverInterrupted repairs a commit interrupted between its two
// phases.
//
// A log record whose slot is still Fresh means the crash hit after the
// record became durable but before the slot was marked: the signature
// exists, so the slot rolls forward to Used and the counters advance.
// The reverse, a Used slot with no log record, means a signature may
// have been issued with no audit trail, which cannot be repaired; the
// disk is refused.
func (s *session) recoverInterrupted(logger *slog.Logger) error {
	header := s.file.Header()

	recorded := make(map[uint32]bool, len(s.log.Records()))
	rolledForward := 0
	for _, record := range s.log.Records() {
		recorded[record.PresigIndex] = true

		slot, err := s.table.Slot(record.PresigIndex)
		if err != nil {
			return signerr.ErrInconsistentDisk
		}
		switch slot.Status {
		case diskimage.SlotUsed:
			// Fully committed.
		case diskimage.SlotFresh:
			if err := s.file.WriteSlotStatus(record.PresigIndex, diskimage.SlotUsed); err != nil {
				return err
			}
			rolledForward++
			logger.Warn("rolled interrupted commit forward",
				"presig_index", record.PresigIndex,
				"child_id", hex.EncodeToString(header.ChildID[:]),
			)
		default:
			// A voided slot must never carry a usage record.
			return signerr.ErrInconsistentDisk
		}
	}

	for index, slot := range s.file.Slots() {
		if slot.Status == diskimage.SlotUsed && !recorded[uint32(index)] {
			logger.Error("used slot has no usage-log record, refusing disk",
				"presig_index", index,
				"child_id", hex.EncodeToString(header.ChildID[:]),
			)
			return signerr.ErrInconsistentDisk
		}
	}

	// Re-derive the counters from the repaired slot table. The
	// uses-since-reconcile counter advances by the same delta, capped at
	// its maximum so the header stays parseable; the cap only matters
	// when the repair itself pushes the disk into reconciliation.
	usedCount := uint32(0)
	for _, slot := range s.file.Slots() {
		if slot.Status == diskimage.SlotUsed {
			usedCount++
		}
	}
	if usedCount != header.PresigUsed || rolledForward > 0 {
		usesSince := header.UsesSinceReconcile
		if usedCount > header.PresigUsed {
			usesSince += usedCount - header.PresigUsed
			if usesSince > header.MaxUsesBeforeReconcile {
				usesSince = header.MaxUsesBeforeReconcile
			}
		}
		if err := s.file.WriteCounters(usedCount, usesSince); err != nil {
			return err
		}
		if err := s.file.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) close() {
	s.file.Close()
}
