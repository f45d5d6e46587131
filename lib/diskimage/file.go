// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package diskimage

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

// File is the daemon's read-write handle on a child disk medium. It
// holds the decoded image plus the byte offsets needed for in-place
// mutation: slot status bytes, the mutable header counters, and
// usage-log records.
//
// File performs no locking; the signer serializes all mutating access
// per child identity. Every mutation is a positioned write; callers
// decide when to Sync (the commit protocol orders writes and syncs
// explicitly).
type File struct {
	path   string
	handle *os.File
	image  *Image

	// recordOffsets[i] is the byte offset of image.Log[i].
	recordOffsets []int64

	// appendOffset is where the next usage-log record goes.
	appendOffset int64
}

// OpenFile opens the disk image at path read-write and decodes it.
// A transient read failure is retried exactly once; the single
// internal retry the protocol permits; every other failure surfaces
// to the caller.
//
// The header signature is NOT verified here: the caller must check
// Header().VerifySignature before trusting the contents.
func OpenFile(path string) (*File, error) {
	handle, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening disk medium %s: %w", path, err)
	}

	data, err := readAll(handle)
	if err != nil {
		// Single re-read on a transient medium fault.
		data, err = readAll(handle)
		if err != nil {
			handle.Close()
			return nil, fmt.Errorf("reading disk medium %s: %w", path, err)
		}
	}

	image, err := Parse(data)
	if err != nil {
		handle.Close()
		return nil, err
	}

	file := &File{
		path:   path,
		handle: handle,
		image:  image,
	}

	offset := LogOffset(image.Header.PresigTotal)
	for i := range image.Log {
		file.recordOffsets = append(file.recordOffsets, offset)
		offset += image.Log[i].EncodedSize()
	}
	file.appendOffset = offset

	return file, nil
}

func readAll(handle *os.File) ([]byte, error) {
	info, err := handle.Stat()
	if err != nil {
		return nil, err
	}
	data := make([]byte, info.Size())
	if _, err := handle.ReadAt(data, 0); err != nil {
		return nil, err
	}
	return data, nil
}

// Path returns the medium path this handle was opened from.
func (f *File) Path() string { return f.path }

// Header returns the decoded header. The returned pointer reflects
// counter updates made through this handle.
func (f *File) Header() *Header { return &f.image.Header }

// Slots returns the decoded slot table, reflecting status updates made
// through this handle.
func (f *File) Slots() []Slot { return f.image.Slots }

// Log returns the decoded usage-log records, reflecting appends and
// patches made through this handle.
func (f *File) Log() []LogRecord { return f.image.Log }

// WriteSlotStatus writes the status byte of slot index in place.
func (f *File) WriteSlotStatus(index uint32, status SlotStatus) error {
	if index >= uint32(len(f.image.Slots)) {
		return signerr.Corrupt("slot index %d out of range (total %d)", index, len(f.image.Slots))
	}
	if _, err := f.handle.WriteAt([]byte{byte(status)}, SlotOffset(index)+slotOffStatus); err != nil {
		return fmt.Errorf("writing status of slot %d: %w", index, err)
	}
	f.image.Slots[index].Status = status
	return nil
}

// WriteCounters writes the two daemon-mutable header counters in
// place.
func (f *File) WriteCounters(presigUsed, usesSinceReconcile uint32) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:], presigUsed)
	binary.LittleEndian.PutUint32(buf[4:], usesSinceReconcile)
	if _, err := f.handle.WriteAt(buf[:], offPresigUsed); err != nil {
		return fmt.Errorf("writing header counters: %w", err)
	}
	f.image.Header.PresigUsed = presigUsed
	f.image.Header.UsesSinceReconcile = usesSinceReconcile
	return nil
}

// AppendLogRecord appends a usage-log record at the end of the log
// region. The caller syncs; a Sign acknowledgment must not be sent
// before the record is durable.
func (f *File) AppendLogRecord(record LogRecord) error {
	encoded, err := record.Encode()
	if err != nil {
		return err
	}
	if _, err := f.handle.WriteAt(encoded, f.appendOffset); err != nil {
		return fmt.Errorf("appending usage-log record: %w", err)
	}
	f.image.Log = append(f.image.Log, record)
	f.recordOffsets = append(f.recordOffsets, f.appendOffset)
	f.appendOffset += record.EncodedSize()
	return nil
}

// PatchTxHash fills the tx_hash field of the existing record for
// presigIndex; the only permitted mutation of a written record.
// Fails with NotFound if no record exists for that index.
func (f *File) PatchTxHash(presigIndex uint32, txHash [32]byte) error {
	for i := range f.image.Log {
		if f.image.Log[i].PresigIndex != presigIndex {
			continue
		}
		if _, err := f.handle.WriteAt(txHash[:], f.recordOffsets[i]+txHashRecordOffset); err != nil {
			return fmt.Errorf("patching tx_hash of record %d: %w", presigIndex, err)
		}
		f.image.Log[i].TxHash = txHash
		return nil
	}
	return signerr.NotFound("no usage-log record for presignature index %d", presigIndex)
}

// Sync flushes all pending writes to the medium.
func (f *File) Sync() error {
	if err := f.handle.Sync(); err != nil {
		return fmt.Errorf("syncing disk medium %s: %w", f.path, err)
	}
	return nil
}

// Close releases the medium handle without syncing.
func (f *File) Close() error {
	return f.handle.Close()
}
