// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// ReadFromPath loads key material from a file into a protected Buffer,
// or from the first line of stdin when path is "-". The mother
// authority reads its signing key this way so the hex seed never sits
// in a heap allocation longer than the parse.
//
// Surrounding whitespace is trimmed and the transient heap copy is
// zeroed before returning. An empty source is an error: a key file
// that trims to nothing is a misconfiguration, not an empty secret.
func ReadFromPath(path string) (*Buffer, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		Zero(raw)
		return nil, fmt.Errorf("secret at %s is empty", path)
	}

	// NewFromBytes zeros trimmed; the whitespace bytes outside the
	// trimmed window still need scrubbing.
	buffer, err := NewFromBytes(trimmed)
	Zero(raw)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

func readRaw(path string) ([]byte, error) {
	if path != "-" {
		// The error is returned unwrapped so os.IsNotExist works at the
		// call site.
		return os.ReadFile(path)
	}

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return nil, fmt.Errorf("stdin is empty")
	}
	return scanner.Bytes(), nil
}
