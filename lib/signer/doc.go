// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package signer completes presignatures against the inserted child
// disk.
//
// The Signer is the only component that mutates a disk medium. It
// opens a session on the current disk (verifying the mother signature
// before trusting anything), validates the disk in precedence order
// (expiry, reconciliation, remaining presignatures), selects the
// lowest-index fresh slot, combines the cold and agent scalar halves,
// and commits in two phases: the usage-log record is made durable
// first, then the slot is marked Used and the header counters advance.
// A crash between the phases is repaired on the next session open by
// rolling the slot forward; a Used slot with no log record is
// unrepairable and the disk is refused.
//
// All mutating access to one child is serialized by a per-child lock;
// a concurrent request fails fast with Busy rather than queueing.
package signer
