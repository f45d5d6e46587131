// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package diskimage

import (
	"encoding/binary"

	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

// MaxDescriptionLen caps the free-text description of a usage-log
// record.
const MaxDescriptionLen = 256

// logRecordFixedSize is the encoded size of a record before its
// variable-length description: index(4) ts(8) message_hash(32)
// signature(64) chain_id(4) tx_hash(32) proof_hash(32) desc_len(2).
const logRecordFixedSize = 4 + 8 + 32 + 64 + 4 + 32 + 32 + 2

// txHashRecordOffset is the offset of the tx_hash field within an
// encoded record. The single permitted patch writes exactly these 32
// bytes.
const txHashRecordOffset = 4 + 8 + 32 + 64 + 4

// LogRecord is one usage-log entry: the audit record of one consumed
// presignature. Append-only, except that TxHash may be filled in once
// the transaction is broadcast.
type LogRecord struct {
	PresigIndex uint32
	Timestamp   int64

	// MessageHash is the 32-byte digest that was signed.
	MessageHash [32]byte

	// Signature is the 64-byte produced signature (r||s for ECDSA,
	// R.x||s for Schnorr).
	Signature [64]byte

	ChainID uint32

	// TxHash is the broadcast transaction hash. All-zero until patched
	// by UpdateTxHash.
	TxHash [32]byte

	// ProofHash references the succinct consumption proof.
	ProofHash [32]byte

	// Description is operator-supplied free text, at most
	// MaxDescriptionLen bytes.
	Description string
}

// TxHashSet reports whether the record's TxHash has been filled.
func (r *LogRecord) TxHashSet() bool {
	return r.TxHash != [32]byte{}
}

// EncodedSize returns the on-disk size of the record.
func (r *LogRecord) EncodedSize() int64 {
	return logRecordFixedSize + int64(len(r.Description))
}

// Encode serializes the record.
func (r *LogRecord) Encode() ([]byte, error) {
	if len(r.Description) > MaxDescriptionLen {
		return nil, signerr.Corrupt("description is %d bytes, maximum %d", len(r.Description), MaxDescriptionLen)
	}
	out := make([]byte, logRecordFixedSize+len(r.Description))
	binary.LittleEndian.PutUint32(out[0:], r.PresigIndex)
	binary.LittleEndian.PutUint64(out[4:], uint64(r.Timestamp))
	copy(out[12:], r.MessageHash[:])
	copy(out[44:], r.Signature[:])
	binary.LittleEndian.PutUint32(out[108:], r.ChainID)
	copy(out[112:], r.TxHash[:])
	copy(out[144:], r.ProofHash[:])
	binary.LittleEndian.PutUint16(out[176:], uint16(len(r.Description)))
	copy(out[logRecordFixedSize:], r.Description)
	return out, nil
}

// parseLogRecord decodes one record starting at data[0]. Returns the
// record and its encoded length. A nil record with nil error marks the
// end of the log region (EOF padding: fewer bytes than a record header,
// or a zero timestamp where a record would start).
func parseLogRecord(data []byte) (*LogRecord, int64, error) {
	if len(data) < logRecordFixedSize {
		for _, b := range data {
			if b != 0 {
				return nil, 0, signerr.Corrupt("truncated usage-log record (%d trailing bytes)", len(data))
			}
		}
		return nil, 0, nil
	}

	// Real records always carry a nonzero timestamp; a zero timestamp
	// means zero padding from the medium, i.e. end of log.
	if binary.LittleEndian.Uint64(data[4:]) == 0 {
		return nil, 0, nil
	}

	record := &LogRecord{}
	record.PresigIndex = binary.LittleEndian.Uint32(data[0:])
	record.Timestamp = int64(binary.LittleEndian.Uint64(data[4:]))
	copy(record.MessageHash[:], data[12:])
	copy(record.Signature[:], data[44:])
	record.ChainID = binary.LittleEndian.Uint32(data[108:])
	copy(record.TxHash[:], data[112:])
	copy(record.ProofHash[:], data[144:])

	descLen := int(binary.LittleEndian.Uint16(data[176:]))
	if descLen > MaxDescriptionLen {
		return nil, 0, signerr.Corrupt("usage-log description length %d exceeds maximum %d", descLen, MaxDescriptionLen)
	}
	if len(data) < logRecordFixedSize+descLen {
		return nil, 0, signerr.Corrupt("usage-log record truncated mid-description")
	}
	record.Description = string(data[logRecordFixedSize : logRecordFixedSize+descLen])
	return record, logRecordFixedSize + int64(descLen), nil
}
