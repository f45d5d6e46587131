// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package diskimage

import (
	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

// Image is a fully decoded child disk: header, slot table, and usage
// log. Parse and Serialize round-trip exactly for the header and slot
// table; the log region round-trips up to trailing zero padding.
type Image struct {
	Header Header
	Slots  []Slot
	Log    []LogRecord
}

// Parse decodes a complete disk image. Structural validation only;
// the caller must verify Header.VerifySignature before trusting any
// field. Fails with BadMagic, UnsupportedVersion, or CorruptFormat.
func Parse(data []byte) (*Image, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	image := &Image{Header: *header}

	logStart := LogOffset(header.PresigTotal)
	if int64(len(data)) < logStart {
		return nil, signerr.Corrupt("image is %d bytes, need %d for %d slots",
			len(data), logStart, header.PresigTotal)
	}

	image.Slots = make([]Slot, header.PresigTotal)
	for index := uint32(0); index < header.PresigTotal; index++ {
		offset := SlotOffset(index)
		slot, err := parseSlot(data[offset:offset+SlotSize], index)
		if err != nil {
			return nil, err
		}
		image.Slots[index] = slot
	}

	remaining := data[logStart:]
	for len(remaining) > 0 {
		record, size, err := parseLogRecord(remaining)
		if err != nil {
			return nil, err
		}
		if record == nil {
			break
		}
		image.Log = append(image.Log, *record)
		remaining = remaining[size:]
	}

	return image, nil
}

// Serialize encodes the image to its on-medium byte form. Used only by
// the mother when minting, refilling, reconciling, or nullifying a
// disk; the daemon mutates disks in place through File.
func (img *Image) Serialize() ([]byte, error) {
	if uint32(len(img.Slots)) != img.Header.PresigTotal {
		return nil, signerr.Corrupt("header declares %d slots but image has %d",
			img.Header.PresigTotal, len(img.Slots))
	}

	size := LogOffset(img.Header.PresigTotal)
	for i := range img.Log {
		size += img.Log[i].EncodedSize()
	}

	out := make([]byte, 0, size)
	headerBytes := img.Header.Encode()
	out = append(out, headerBytes[:]...)
	for i := range img.Slots {
		slotBytes := img.Slots[i].Encode()
		out = append(out, slotBytes[:]...)
	}
	for i := range img.Log {
		recordBytes, err := img.Log[i].Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, recordBytes...)
	}
	return out, nil
}
