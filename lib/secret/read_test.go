// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func writeKeyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mother.key")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	return path
}

func TestReadFromPathTrimsWhitespace(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bare", "a1b2c3"},
		{"trailing newline", "a1b2c3\n"},
		{"editor padding", "  a1b2c3  \n"},
		{"leading newline", "\na1b2c3"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			buffer, err := ReadFromPath(writeKeyFile(t, testCase.content))
			if err != nil {
				t.Fatalf("ReadFromPath: %v", err)
			}
			defer buffer.Close()
			if buffer.String() != "a1b2c3" {
				t.Errorf("buffer = %q, want %q", buffer.String(), "a1b2c3")
			}
		})
	}
}

func TestReadFromPathMissingFile(t *testing.T) {
	_, err := ReadFromPath(filepath.Join(t.TempDir(), "absent.key"))
	if err == nil {
		t.Fatal("expected error for a missing key file")
	}
	// The raw os error must survive so callers can distinguish a
	// missing file from a malformed one.
	if !os.IsNotExist(err) {
		t.Errorf("error %v does not satisfy os.IsNotExist", err)
	}
}

func TestReadFromPathRejectsEmptySource(t *testing.T) {
	for name, content := range map[string]string{
		"empty file":      "",
		"whitespace only": "   \n\t\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadFromPath(writeKeyFile(t, content)); err == nil {
				t.Error("expected error for a key file with no content")
			}
		})
	}
}
