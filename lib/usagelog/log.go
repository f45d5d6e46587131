// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package usagelog

import (
	"fmt"

	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
)

// Log is the usage-log view of an open disk medium. Not safe for
// concurrent use; the signer's per-child lock serializes all access.
type Log struct {
	file *diskimage.File
}

// New wraps the usage-log region of an open disk file.
func New(file *diskimage.File) *Log {
	return &Log{file: file}
}

// Records returns the decoded records in append order.
func (l *Log) Records() []diskimage.LogRecord {
	return l.file.Log()
}

// EntryFor returns the record for a presignature index, if one exists.
// Indexes are unique in a well-formed log (one signature per slot).
func (l *Log) EntryFor(presigIndex uint32) (diskimage.LogRecord, bool) {
	for _, record := range l.file.Log() {
		if record.PresigIndex == presigIndex {
			return record, true
		}
	}
	return diskimage.LogRecord{}, false
}

// Append writes a record at the end of the log and syncs the medium
// before returning. After Append returns nil, the record survives a
// crash.
func (l *Log) Append(record diskimage.LogRecord) error {
	if record.Timestamp == 0 {
		// A zero timestamp is the log-region terminator on zero-padded
		// media; a record carrying one would truncate the log on the
		// next parse.
		return fmt.Errorf("usage-log record must carry a nonzero timestamp")
	}
	if _, exists := l.EntryFor(record.PresigIndex); exists {
		return fmt.Errorf("usage-log already has a record for presignature index %d", record.PresigIndex)
	}
	if err := l.file.AppendLogRecord(record); err != nil {
		return err
	}
	return l.file.Sync()
}

// PatchTxHash fills the tx_hash of the existing record for
// presigIndex and syncs. Fails with NotFound if no record exists for
// that index; the log is left unchanged.
func (l *Log) PatchTxHash(presigIndex uint32, txHash [32]byte) error {
	if err := l.file.PatchTxHash(presigIndex, txHash); err != nil {
		return err
	}
	return l.file.Sync()
}
