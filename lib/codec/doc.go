// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides sigil's standard CBOR encoding configuration.
//
// Sigil uses two serialization formats with a clear boundary:
//
//   - JSON for the external line-delimited IPC protocol on the daemon
//     socket (lib/ipc) and for CLI output.
//   - CBOR for internal persisted artifacts: the encrypted agent-share
//     store, the mother's revocation ledger, and the agent-share
//     transfer bundle.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Same logical data always produces identical bytes, which keeps the
// encrypted store stable across rewrites and makes share bundles
// reproducible for audit.
//
// The on-medium child disk image is NOT CBOR; it is the fixed binary
// layout implemented by lib/diskimage, chosen so the mother signature
// covers an exact byte range.
package codec
