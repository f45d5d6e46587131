// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNewAllocatesZeroed(t *testing.T) {
	buffer, err := New(64)
	if err != nil {
		t.Fatalf("New(64): %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 64 {
		t.Errorf("Len() = %d, want 64", buffer.Len())
	}
	if !bytes.Equal(buffer.Bytes(), make([]byte, 64)) {
		t.Error("fresh buffer is not zero-initialized")
	}
}

func TestNewZeroSize(t *testing.T) {
	buffer, err := New(0)
	if err != nil {
		t.Fatalf("New(0): %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buffer.Len())
	}
	if len(buffer.Bytes()) != 0 {
		t.Errorf("Bytes() length = %d, want 0", len(buffer.Bytes()))
	}
	if buffer.String() != "" {
		t.Errorf("String() = %q, want empty", buffer.String())
	}
}

func TestNewNegativeSize(t *testing.T) {
	if _, err := New(-1); err == nil {
		t.Fatal("New(-1) succeeded, want error")
	}
}

func TestNewFromBytesScrubsSource(t *testing.T) {
	source := []byte("chi-scalar-material")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if buffer.String() != "chi-scalar-material" {
		t.Errorf("buffer = %q", buffer.String())
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source[%d] = %d, want zeroed", index, value)
		}
	}
}

func TestNewFromBytesEmpty(t *testing.T) {
	// Zero-length secrets are representable: a decrypted payload can
	// legitimately be empty, and its length must survive the copy.
	buffer, err := NewFromBytes(nil)
	if err != nil {
		t.Fatalf("NewFromBytes(nil): %v", err)
	}
	defer buffer.Close()
	if buffer.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buffer.Len())
	}
}

func TestBufferWriteThrough(t *testing.T) {
	buffer, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer buffer.Close()

	copy(buffer.Bytes(), "sealed")
	if got := string(buffer.Bytes()[:6]); got != "sealed" {
		t.Errorf("read back %q, want %q", got, "sealed")
	}
}

func TestCloseReleasesAndIsIdempotent(t *testing.T) {
	buffer, err := New(32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	copy(buffer.Bytes(), "must not outlive the close")

	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buffer.data != nil {
		t.Error("mapping not released on Close")
	}
	if err := buffer.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCloseZeroSizeBuffer(t *testing.T) {
	buffer, err := New(0)
	if err != nil {
		t.Fatalf("New(0): %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Errorf("Close on empty buffer: %v", err)
	}
}

func TestAccessAfterClosePanics(t *testing.T) {
	for name, access := range map[string]func(*Buffer){
		"Bytes":  func(b *Buffer) { b.Bytes() },
		"String": func(b *Buffer) { _ = b.String() },
	} {
		t.Run(name, func(t *testing.T) {
			buffer, err := New(16)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			buffer.Close()
			defer func() {
				if recover() == nil {
					t.Errorf("%s after Close did not panic", name)
				}
			}()
			access(buffer)
		})
	}
}

func TestZeroScrubsSlice(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	Zero(data)
	if !bytes.Equal(data, make([]byte, 4)) {
		t.Errorf("Zero left %v", data)
	}
}
