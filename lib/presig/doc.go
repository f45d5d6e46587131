// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package presig tracks the lifecycle of presignature slots and
// decides disk-level validity.
//
// Slot transitions are one-way: Fresh→Used when the daemon commits a
// signature, Fresh→Voided when the mother administratively retires a
// slot. Used and Voided are terminal. Selection is deterministic: the
// lowest-index Fresh slot wins.
//
// A disk is usable only while the header signature verifies, the disk
// has not expired, reconciliation is not overdue, and at least one
// Fresh slot remains; Validate checks these in the signer's
// precedence order.
package presig
