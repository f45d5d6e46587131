// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package mother implements the offline authority that mints and
// administers child disks.
//
// The Authority holds the ed25519 signing key that every daemon
// verifies disk headers against, plus an age identity protecting the
// per-child key material it must retain to refill disks. Both live in
// a state directory that never leaves the offline machine.
//
// Minting a child produces two artifacts: the disk image (cold scalar
// halves, travels on the removable medium) and an encrypted share
// bundle (agent halves, addressed to the daemon's public key). Neither
// artifact alone can sign anything.
//
// A registry file records every child ever minted and every
// revocation. Reconcile and Refill refuse revoked children.
package mother
