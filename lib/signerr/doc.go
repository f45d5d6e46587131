// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package signerr defines the error taxonomy shared by every sigil
// component. Each error carries a machine-readable kind, a
// human-readable message, and the remedy the operator must follow.
// Errors surface verbatim to IPC callers; the daemon never substitutes
// an alternate presignature or disk to work around one.
//
// Callers branch on kinds with signerr.Is:
//
//	if signerr.Is(err, signerr.KindBusy) {
//	    // transient, retryable
//	}
package signerr
