// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package signerr

import (
	"errors"
	"fmt"
)

// Kind identifies one failure mode from the signing protocol. Kinds
// are stable wire identifiers: the IPC layer sends them to clients and
// scripts match on them.
type Kind string

const (
	// KindConnectionUnavailable means the daemon itself is
	// unreachable. Only ever constructed client-side; never retried
	// internally.
	KindConnectionUnavailable Kind = "ConnectionUnavailable"

	// KindNoDiskDetected means no child disk is present at the
	// configured mount pattern. Recoverable by user action.
	KindNoDiskDetected Kind = "NoDiskDetected"

	// KindInvalidSignature means the disk header failed verification
	// against the mother public key. Fatal for that disk; never
	// auto-repaired.
	KindInvalidSignature Kind = "InvalidSignature"

	// KindDiskExpired means now >= expires_at.
	KindDiskExpired Kind = "DiskExpired"

	// KindReconciliationRequired means uses_since_reconcile has
	// reached max_uses_before_reconcile or the reconciliation deadline
	// has passed. Terminal for the disk until an offline mother
	// reconcile.
	KindReconciliationRequired Kind = "ReconciliationRequired"

	// KindNoPresigsRemaining means no Fresh slot exists.
	KindNoPresigsRemaining Kind = "NoPresigsRemaining"

	// KindShareNotFound means the daemon holds no agent share for the
	// requested child/slot pairing, or the share was already consumed.
	KindShareNotFound Kind = "ShareNotFound"

	// KindBusy means another mutating operation holds the per-disk
	// lock. Transient and retryable.
	KindBusy Kind = "Busy"

	// KindCorruptFormat means the disk image failed to parse. The disk
	// must be treated as untrusted.
	KindCorruptFormat Kind = "CorruptFormat"

	// KindBadMagic means the image does not start with the sigil disk
	// magic.
	KindBadMagic Kind = "BadMagic"

	// KindUnsupportedVersion means the image declares a format version
	// this build does not understand.
	KindUnsupportedVersion Kind = "UnsupportedVersion"

	// KindInconsistentDisk means the startup recovery scan found a
	// Used slot with no usage-log record: a signature may have been
	// released without its audit record surviving. The daemon refuses
	// the disk.
	KindInconsistentDisk Kind = "InconsistentDisk"

	// KindNotFound means the referenced record does not exist
	// (UpdateTxHash on an index never returned by Sign).
	KindNotFound Kind = "NotFound"

	// KindConflict means an import would overwrite existing shares
	// without replace=true.
	KindConflict Kind = "Conflict"
)

// Error is a failure with a stable kind and the remedy the caller must
// follow. Extract with errors.As:
//
//	var signErr *signerr.Error
//	if errors.As(err, &signErr) {
//	    if signErr.Kind == signerr.KindDiskExpired { ... }
//	}
type Error struct {
	// Kind is the stable failure identifier.
	Kind Kind

	// Message is the human-readable description sent verbatim to IPC
	// callers.
	Message string

	// Remedy names the user action that resolves the failure, or ""
	// when none exists short of discarding the disk.
	Remedy string
}

func (e *Error) Error() string {
	if e.Remedy == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Remedy)
}

// Is reports whether err is (or wraps) a *Error with the given kind.
func Is(err error, kind Kind) bool {
	var signErr *Error
	if errors.As(err, &signErr) {
		return signErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" if err carries no *Error.
func KindOf(err error) Kind {
	var signErr *Error
	if errors.As(err, &signErr) {
		return signErr.Kind
	}
	return ""
}

// The canonical instances. Handlers return these directly so every
// surface shows the same message and remedy for the same condition.
var (
	ErrConnectionUnavailable = &Error{
		Kind:    KindConnectionUnavailable,
		Message: "Daemon connection unavailable",
		Remedy:  "check that sigil-daemon is running and the socket path is correct",
	}
	ErrNoDiskDetected = &Error{
		Kind:    KindNoDiskDetected,
		Message: "No child disk detected",
		Remedy:  "insert the child disk and retry",
	}
	ErrInvalidSignature = &Error{
		Kind:    KindInvalidSignature,
		Message: "Disk header signature is invalid",
		Remedy:  "treat this disk as untrusted; obtain a replacement from the mother",
	}
	ErrDiskExpired = &Error{
		Kind:    KindDiskExpired,
		Message: "Disk has expired",
		Remedy:  "obtain a new disk from the mother",
	}
	ErrReconciliationRequired = &Error{
		Kind:    KindReconciliationRequired,
		Message: "Reconciliation required",
		Remedy:  "bring the disk to the mother and run sigil-mother reconcile",
	}
	ErrNoPresigsRemaining = &Error{
		Kind:    KindNoPresigsRemaining,
		Message: "No presignatures remaining",
		Remedy:  "bring the disk to the mother and run sigil-mother refill",
	}
	ErrShareNotFound = &Error{
		Kind:    KindShareNotFound,
		Message: "Agent share not found for this disk",
		Remedy:  "import the agent share bundle issued with this disk",
	}
	ErrBusy = &Error{
		Kind:    KindBusy,
		Message: "Another operation is in progress on this disk",
		Remedy:  "retry shortly",
	}
	ErrInconsistentDisk = &Error{
		Kind:    KindInconsistentDisk,
		Message: "Disk state is inconsistent with its audit log",
		Remedy:  "bring the disk to the mother for inspection",
	}
)

// Corrupt returns a CorruptFormat error wrapping detail about where
// parsing failed.
func Corrupt(format string, args ...any) *Error {
	return &Error{
		Kind:    KindCorruptFormat,
		Message: "Disk image is corrupt: " + fmt.Sprintf(format, args...),
		Remedy:  "treat this disk as untrusted; obtain a replacement from the mother",
	}
}

// BadMagic returns a BadMagic error for the given leading bytes.
func BadMagic(got []byte) *Error {
	return &Error{
		Kind:    KindBadMagic,
		Message: fmt.Sprintf("Not a sigil child disk (magic %x)", got),
	}
}

// UnsupportedVersion returns an UnsupportedVersion error.
func UnsupportedVersion(version uint16) *Error {
	return &Error{
		Kind:    KindUnsupportedVersion,
		Message: fmt.Sprintf("Unsupported disk format version %d", version),
		Remedy:  "upgrade sigil-daemon to a build that understands this disk",
	}
}

// NotFound returns a NotFound error for a usage-log index.
func NotFound(format string, args ...any) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// Conflict returns a Conflict error for a share import collision.
func Conflict(format string, args ...any) *Error {
	return &Error{
		Kind:    KindConflict,
		Message: fmt.Sprintf(format, args...),
		Remedy:  "re-run the import with replace=true if overwriting is intended",
	}
}
