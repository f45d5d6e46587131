// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package diskimage implements the child disk binary format: the fixed
// 256-byte header, the presignature slot table, and the variable-length
// usage-log region, plus the read-write handle the daemon uses against
// the physical medium.
//
// Layout (little-endian integers):
//
//	0x0000  256 B   header (see Header)
//	0x0100  256 B   slot 0: R(33) k_cold(32) chi_cold(32) status(1) reserved(158)
//	...             one slot per presignature, presig_total slots
//	after   var     usage-log records, sequential
//
// The mother signature is ed25519 over header bytes [0x00, 0xA0). The
// two daemon-mutable counters (presig_used, uses_since_reconcile) live
// after the signature at 0xE0 so the daemon can update them without
// the mother's signing key; every immutable field is covered.
//
// Parsing never trusts the header: callers must check
// Header.VerifySignature against the known mother public key before
// acting on any field.
package diskimage
