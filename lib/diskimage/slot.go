// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package diskimage

import (
	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

// SlotSize is the fixed size of one presignature slot.
const SlotSize = 256

// Slot field offsets within the 256-byte slot.
const (
	slotOffR      = 0
	slotOffKCold  = 33
	slotOffChi    = 65
	slotOffStatus = 97
)

// SlotStatus is the lifecycle state of one presignature slot. The only
// legal transitions are Fresh→Used (daemon, on a successful sign) and
// Fresh→Voided (mother, administrative). Used and Voided are terminal.
type SlotStatus uint8

const (
	// SlotFresh means the presignature has never been consumed.
	SlotFresh SlotStatus = 1
	// SlotUsed means the presignature produced exactly one signature.
	SlotUsed SlotStatus = 2
	// SlotVoided means the mother administratively retired the slot.
	SlotVoided SlotStatus = 3
)

func (s SlotStatus) String() string {
	switch s {
	case SlotFresh:
		return "fresh"
	case SlotUsed:
		return "used"
	case SlotVoided:
		return "voided"
	default:
		return "invalid"
	}
}

// Slot is one presignature: the nonce commitment R and the cold halves
// of the nonce and key scalars. The agent halves live in the daemon's
// agent store, never on the medium.
type Slot struct {
	// R is the compressed secp256k1 nonce commitment R = k·G where
	// k = k_cold + k_agent.
	R [33]byte

	// KCold is the cold half of the nonce scalar.
	KCold [32]byte

	// ChiCold is the cold half of the signing key scalar.
	ChiCold [32]byte

	Status SlotStatus
}

// Encode serializes the slot to its fixed 256-byte form.
func (s *Slot) Encode() [SlotSize]byte {
	var out [SlotSize]byte
	copy(out[slotOffR:], s.R[:])
	copy(out[slotOffKCold:], s.KCold[:])
	copy(out[slotOffChi:], s.ChiCold[:])
	out[slotOffStatus] = byte(s.Status)
	return out
}

// parseSlot decodes one slot from exactly SlotSize bytes.
func parseSlot(data []byte, index uint32) (Slot, error) {
	var slot Slot
	copy(slot.R[:], data[slotOffR:])
	copy(slot.KCold[:], data[slotOffKCold:])
	copy(slot.ChiCold[:], data[slotOffChi:])
	slot.Status = SlotStatus(data[slotOffStatus])
	switch slot.Status {
	case SlotFresh, SlotUsed, SlotVoided:
		return slot, nil
	default:
		return Slot{}, signerr.Corrupt("slot %d has invalid status byte %d", index, data[slotOffStatus])
	}
}

// SlotOffset returns the byte offset of slot index within the image.
func SlotOffset(index uint32) int64 {
	return HeaderSize + int64(index)*SlotSize
}

// LogOffset returns the byte offset where the usage-log region starts
// for a disk with the given slot count.
func LogOffset(presigTotal uint32) int64 {
	return HeaderSize + int64(presigTotal)*SlotSize
}
