// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package diskimage

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

// Magic is the 8-byte identifier at offset zero of every child disk.
var Magic = [8]byte{'S', 'I', 'G', 'I', 'L', 'D', 'K', '1'}

// FormatVersion is the disk format version this build reads and writes.
const FormatVersion uint16 = 1

// HeaderSize is the fixed size of the disk header in bytes.
const HeaderSize = 256

// signedRegionSize is the number of leading header bytes covered by the
// mother signature. Everything before the signature field itself.
const signedRegionSize = 0xA0

// Header field offsets within the 256-byte header.
const (
	offMagic             = 0x00
	offVersion           = 0x08
	offScheme            = 0x0A
	offChildID           = 0x0B
	offChildPubKey       = 0x2B
	offDerivationHash    = 0x4C
	offPresigTotal       = 0x6C
	offCreatedAt         = 0x70
	offExpiresAt         = 0x78
	offReconcileDeadline = 0x80
	offMaxUses           = 0x88
	offMotherSignature   = 0xA0
	offPresigUsed        = 0xE0
	offUsesSinceRec      = 0xE4
)

// Scheme selects the signature scheme the disk's presignatures target.
type Scheme uint8

const (
	// SchemeECDSA is secp256k1 ECDSA with low-s normalization.
	SchemeECDSA Scheme = 1
	// SchemeSchnorr is the one-round Schnorr variant with a BIP340-style
	// tagged challenge in place of r.
	SchemeSchnorr Scheme = 2
)

func (s Scheme) String() string {
	switch s {
	case SchemeECDSA:
		return "ecdsa"
	case SchemeSchnorr:
		return "schnorr"
	default:
		return "unknown"
	}
}

// Header is the decoded disk header. Only the two counter fields are
// ever written by the daemon; everything else is minted by the mother
// and covered by MotherSignature.
type Header struct {
	Version        uint16
	Scheme         Scheme
	ChildID        [32]byte
	ChildPubKey    [33]byte
	DerivationHash [32]byte
	PresigTotal    uint32

	CreatedAt         int64
	ExpiresAt         int64
	ReconcileDeadline int64

	MaxUsesBeforeReconcile uint32

	// MotherSignature is ed25519 over the encoded header bytes
	// [0, 0xA0).
	MotherSignature [64]byte

	// PresigUsed counts consumed slots. Daemon-mutable, outside the
	// signed region.
	PresigUsed uint32

	// UsesSinceReconcile counts signs since the last mother
	// reconciliation. Daemon-mutable, outside the signed region.
	UsesSinceReconcile uint32
}

// Encode serializes the header to its fixed 256-byte form.
func (h *Header) Encode() [HeaderSize]byte {
	var out [HeaderSize]byte
	copy(out[offMagic:], Magic[:])
	binary.LittleEndian.PutUint16(out[offVersion:], h.Version)
	out[offScheme] = byte(h.Scheme)
	copy(out[offChildID:], h.ChildID[:])
	copy(out[offChildPubKey:], h.ChildPubKey[:])
	copy(out[offDerivationHash:], h.DerivationHash[:])
	binary.LittleEndian.PutUint32(out[offPresigTotal:], h.PresigTotal)
	binary.LittleEndian.PutUint64(out[offCreatedAt:], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(out[offExpiresAt:], uint64(h.ExpiresAt))
	binary.LittleEndian.PutUint64(out[offReconcileDeadline:], uint64(h.ReconcileDeadline))
	binary.LittleEndian.PutUint32(out[offMaxUses:], h.MaxUsesBeforeReconcile)
	copy(out[offMotherSignature:], h.MotherSignature[:])
	binary.LittleEndian.PutUint32(out[offPresigUsed:], h.PresigUsed)
	binary.LittleEndian.PutUint32(out[offUsesSinceRec:], h.UsesSinceReconcile)
	return out
}

// SignedBytes returns the header bytes covered by the mother
// signature.
func (h *Header) SignedBytes() []byte {
	encoded := h.Encode()
	return encoded[:signedRegionSize]
}

// VerifySignature reports whether MotherSignature is a valid ed25519
// signature over the signed region by motherKey. This must be checked
// before any other header field is trusted.
func (h *Header) VerifySignature(motherKey ed25519.PublicKey) bool {
	return ed25519.Verify(motherKey, h.SignedBytes(), h.MotherSignature[:])
}

// ParseHeader decodes a disk header from the leading bytes of an
// image. Fails with BadMagic, UnsupportedVersion, or CorruptFormat.
// Parsing performs structural checks only; signature verification is
// the caller's next step.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, signerr.Corrupt("image is %d bytes, smaller than the %d-byte header", len(data), HeaderSize)
	}
	if !bytes.Equal(data[offMagic:offMagic+8], Magic[:]) {
		return nil, signerr.BadMagic(data[offMagic : offMagic+8])
	}

	header := &Header{}
	header.Version = binary.LittleEndian.Uint16(data[offVersion:])
	if header.Version != FormatVersion {
		return nil, signerr.UnsupportedVersion(header.Version)
	}
	header.Scheme = Scheme(data[offScheme])
	if header.Scheme != SchemeECDSA && header.Scheme != SchemeSchnorr {
		return nil, signerr.Corrupt("unknown signature scheme %d", data[offScheme])
	}
	copy(header.ChildID[:], data[offChildID:])
	copy(header.ChildPubKey[:], data[offChildPubKey:])
	copy(header.DerivationHash[:], data[offDerivationHash:])
	header.PresigTotal = binary.LittleEndian.Uint32(data[offPresigTotal:])
	header.CreatedAt = int64(binary.LittleEndian.Uint64(data[offCreatedAt:]))
	header.ExpiresAt = int64(binary.LittleEndian.Uint64(data[offExpiresAt:]))
	header.ReconcileDeadline = int64(binary.LittleEndian.Uint64(data[offReconcileDeadline:]))
	header.MaxUsesBeforeReconcile = binary.LittleEndian.Uint32(data[offMaxUses:])
	copy(header.MotherSignature[:], data[offMotherSignature:])
	header.PresigUsed = binary.LittleEndian.Uint32(data[offPresigUsed:])
	header.UsesSinceReconcile = binary.LittleEndian.Uint32(data[offUsesSinceRec:])

	if header.PresigUsed > header.PresigTotal {
		return nil, signerr.Corrupt("presig_used %d exceeds presig_total %d", header.PresigUsed, header.PresigTotal)
	}
	if header.UsesSinceReconcile > header.MaxUsesBeforeReconcile {
		return nil, signerr.Corrupt("uses_since_reconcile %d exceeds max_uses_before_reconcile %d",
			header.UsesSinceReconcile, header.MaxUsesBeforeReconcile)
	}
	return header, nil
}

// ComputeChildID derives the child identity from the child public key:
// blake3-256 of the compressed key bytes.
func ComputeChildID(childPubKey [33]byte) [32]byte {
	return blake3.Sum256(childPubKey[:])
}
