// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentstore persists the daemon's halves of presignature
// scalars, keyed by child identity and slot index.
//
// The store lives in one file in the daemon state directory:
// deterministic CBOR, age-encrypted to the daemon's own identity. It
// survives daemon restarts and is never tied to a single connection.
// Consumed shares are retained and flagged rather than erased, so the
// store can replay against a disk's audit log during a mother
// inspection; GetShare treats a consumed share the same as a missing
// one.
//
// Shares arrive from the mother as a transfer bundle: CBOR,
// zstd-compressed, age-encrypted to the daemon's public key, carried
// out-of-band (never over the live IPC channel from the mother side).
package agentstore
