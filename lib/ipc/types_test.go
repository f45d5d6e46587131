// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"strings"
	"testing"
)

func TestParseHash32(t *testing.T) {
	bare := strings.Repeat("00", 31) + "ff"

	hash, err := ParseHash32("message_hash", bare)
	if err != nil {
		t.Fatalf("ParseHash32: %v", err)
	}
	if hash[31] != 0xFF {
		t.Errorf("hash[31] = %#x, want 0xff", hash[31])
	}
}

func TestParseHash32AcceptsChainToolingPrefix(t *testing.T) {
	// Most chain tooling emits hashes as 0x-prefixed hex; both prefix
	// casings decode to the same value as the bare form.
	bare := strings.Repeat("0", 64)
	for _, value := range []string{bare, "0x" + bare, "0X" + bare} {
		hash, err := ParseHash32("message_hash", value)
		if err != nil {
			t.Errorf("ParseHash32(%q): %v", value, err)
			continue
		}
		if hash != [32]byte{} {
			t.Errorf("ParseHash32(%q) = %x, want all zeros", value, hash)
		}
	}
}

func TestParseHash32Rejects(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"prefix only", "0x"},
		{"not hex", strings.Repeat("zz", 32)},
		{"too short", strings.Repeat("00", 31)},
		{"too long", strings.Repeat("00", 33)},
		{"prefixed too short", "0x" + strings.Repeat("00", 16)},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := ParseHash32("tx_hash", testCase.value); err == nil {
				t.Errorf("ParseHash32(%q) succeeded, want error", testCase.value)
			}
		})
	}
}

func TestParseHash32ErrorNamesField(t *testing.T) {
	_, err := ParseHash32("tx_hash", "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "tx_hash") {
		t.Errorf("error %q does not name the field", err)
	}
}
