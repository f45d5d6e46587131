// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package signerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	withRemedy := &Error{Kind: KindDiskExpired, Message: "Disk has expired", Remedy: "get a new one"}
	if got := withRemedy.Error(); got != "Disk has expired (get a new one)" {
		t.Errorf("Error() = %q", got)
	}

	withoutRemedy := &Error{Kind: KindBadMagic, Message: "Not a sigil child disk"}
	if got := withoutRemedy.Error(); got != "Not a sigil child disk" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsMatchesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("opening disk: %w", ErrDiskExpired)

	if !Is(wrapped, KindDiskExpired) {
		t.Error("Is did not match a wrapped error")
	}
	if Is(wrapped, KindBusy) {
		t.Error("Is matched the wrong kind")
	}
	if Is(errors.New("plain"), KindDiskExpired) {
		t.Error("Is matched a plain error")
	}
	if Is(nil, KindDiskExpired) {
		t.Error("Is matched nil")
	}
}

func TestKindOf(t *testing.T) {
	if kind := KindOf(fmt.Errorf("x: %w", ErrBusy)); kind != KindBusy {
		t.Errorf("KindOf = %q, want Busy", kind)
	}
	if kind := KindOf(errors.New("plain")); kind != "" {
		t.Errorf("KindOf(plain) = %q, want empty", kind)
	}
}

func TestCanonicalErrorsCarryTheirKind(t *testing.T) {
	cases := []struct {
		err  *Error
		kind Kind
	}{
		{ErrConnectionUnavailable, KindConnectionUnavailable},
		{ErrNoDiskDetected, KindNoDiskDetected},
		{ErrInvalidSignature, KindInvalidSignature},
		{ErrDiskExpired, KindDiskExpired},
		{ErrReconciliationRequired, KindReconciliationRequired},
		{ErrNoPresigsRemaining, KindNoPresigsRemaining},
		{ErrShareNotFound, KindShareNotFound},
		{ErrBusy, KindBusy},
		{ErrInconsistentDisk, KindInconsistentDisk},
	}
	for _, c := range cases {
		if c.err.Kind != c.kind {
			t.Errorf("%v has kind %q, want %q", c.err, c.err.Kind, c.kind)
		}
		if c.err.Message == "" {
			t.Errorf("%q has no message", c.kind)
		}
	}
}

func TestConstructors(t *testing.T) {
	corrupt := Corrupt("slot %d truncated", 3)
	if corrupt.Kind != KindCorruptFormat {
		t.Errorf("Corrupt kind = %q", corrupt.Kind)
	}
	if !strings.Contains(corrupt.Message, "slot 3 truncated") {
		t.Errorf("Corrupt message = %q", corrupt.Message)
	}

	magic := BadMagic([]byte{0xDE, 0xAD})
	if magic.Kind != KindBadMagic || !strings.Contains(magic.Message, "dead") {
		t.Errorf("BadMagic = %+v", magic)
	}

	unsupported := UnsupportedVersion(9)
	if unsupported.Kind != KindUnsupportedVersion || !strings.Contains(unsupported.Message, "9") {
		t.Errorf("UnsupportedVersion = %+v", unsupported)
	}

	notFound := NotFound("no usage record for index %d", 12)
	if notFound.Kind != KindNotFound || !strings.Contains(notFound.Message, "12") {
		t.Errorf("NotFound = %+v", notFound)
	}

	conflict := Conflict("child %s already has shares", "ab")
	if conflict.Kind != KindConflict || conflict.Remedy == "" {
		t.Errorf("Conflict = %+v", conflict)
	}
}
