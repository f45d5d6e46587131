// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package usagelog maintains the append-only audit trail of consumed
// presignatures on the child disk medium.
//
// Append is write-then-sync: a Sign must never be acknowledged before
// its audit record is durable, because losing the record after
// returning a signature is a correctness violation, not a cosmetic
// one. The only permitted mutation of a written record is filling its
// tx_hash once the transaction is broadcast.
package usagelog
