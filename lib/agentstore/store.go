// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/chippr-robotics/sigil-sub001/lib/codec"
	"github.com/chippr-robotics/sigil-sub001/lib/sealed"
	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

// Share is the daemon's half of one presignature: the agent nonce and
// key scalars for a single slot.
type Share struct {
	KAgent   [32]byte `cbor:"k_agent"`
	ChiAgent [32]byte `cbor:"chi_agent"`

	// Consumed is set when the paired slot is marked Used. The scalar
	// bytes are retained for audit replay; GetShare refuses consumed
	// shares.
	Consumed bool `cbor:"consumed,omitempty"`
}

// storeDocument is the CBOR shape of the store file (inside the age
// envelope). Child identities are hex strings because deterministic
// CBOR map keys must sort textually.
type storeDocument struct {
	Children map[string]map[uint32]*Share `cbor:"children"`
}

// Store holds agent shares, persisted encrypted at rest. Safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	path     string
	keypair  *sealed.Keypair
	logger   *slog.Logger
	document storeDocument
}

// Open loads the store file at path, decrypting it with the daemon's
// identity. A missing file yields an empty store; the file is created
// on first import.
func Open(path string, keypair *sealed.Keypair, logger *slog.Logger) (*Store, error) {
	store := &Store{
		path:     path,
		keypair:  keypair,
		logger:   logger,
		document: storeDocument{Children: make(map[string]map[uint32]*Share)},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading agent store %s: %w", path, err)
	}

	plaintext, err := sealed.Decrypt(string(raw), keypair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting agent store %s: %w", path, err)
	}
	defer plaintext.Close()

	if err := codec.Unmarshal(plaintext.Bytes(), &store.document); err != nil {
		return nil, fmt.Errorf("decoding agent store %s: %w", path, err)
	}
	if store.document.Children == nil {
		store.document.Children = make(map[string]map[uint32]*Share)
	}

	logger.Info("agent store loaded", "path", path, "children", len(store.document.Children))
	return store, nil
}

// GetShare returns the unconsumed share for a child/slot pairing.
// Fails with ShareNotFound if the pairing is unknown or the share was
// already consumed.
func (s *Store) GetShare(childID [32]byte, presigIndex uint32) (Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shares, exists := s.document.Children[hex.EncodeToString(childID[:])]
	if !exists {
		return Share{}, signerr.ErrShareNotFound
	}
	share, exists := shares[presigIndex]
	if !exists || share.Consumed {
		return Share{}, signerr.ErrShareNotFound
	}
	return *share, nil
}

// MarkConsumed flags a share as consumed and persists the store. The
// scalar bytes are retained for audit replay.
func (s *Store) MarkConsumed(childID [32]byte, presigIndex uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shares, exists := s.document.Children[hex.EncodeToString(childID[:])]
	if !exists {
		return signerr.ErrShareNotFound
	}
	share, exists := shares[presigIndex]
	if !exists {
		return signerr.ErrShareNotFound
	}
	share.Consumed = true
	return s.persistLocked()
}

// Import installs the shares for a child identity. Importing identical
// shares again is a no-op; differing shares fail with Conflict unless
// replace is true. New slot indexes merge into an existing child (the
// refill path).
func (s *Store) Import(childID [32]byte, shares map[uint32]Share, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(childID[:])
	existing, exists := s.document.Children[key]
	if !exists {
		existing = make(map[uint32]*Share)
		s.document.Children[key] = existing
	}

	if !replace {
		for index, incoming := range shares {
			current, present := existing[index]
			if !present {
				continue
			}
			if current.KAgent != incoming.KAgent || current.ChiAgent != incoming.ChiAgent {
				return signerr.Conflict("agent store already holds different shares for child %s slot %d", key[:8], index)
			}
		}
	}

	installed := 0
	for index, incoming := range shares {
		if current, present := existing[index]; present && !replace {
			// Identical re-import: keep the existing record (and its
			// Consumed flag).
			_ = current
			continue
		}
		share := incoming
		existing[index] = &share
		installed++
	}

	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info("agent shares imported",
		"child_id", key[:8],
		"installed", installed,
		"replace", replace,
	)
	return nil
}

// Children returns the known child identities, sorted.
func (s *Store) Children() [][32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.document.Children))
	for key := range s.document.Children {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	children := make([][32]byte, 0, len(keys))
	for _, key := range keys {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			continue
		}
		var childID [32]byte
		copy(childID[:], decoded)
		children = append(children, childID)
	}
	return children
}

// ShareCount returns the total and unconsumed share counts for a
// child.
func (s *Store) ShareCount(childID [32]byte) (total, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shares := s.document.Children[hex.EncodeToString(childID[:])]
	for _, share := range shares {
		total++
		if !share.Consumed {
			available++
		}
	}
	return total, available
}

// persistLocked rewrites the store file: deterministic CBOR,
// age-encrypted to the daemon's own public key, written via temp file
// and rename so a crash never leaves a torn store.
func (s *Store) persistLocked() error {
	plaintext, err := codec.Marshal(s.document)
	if err != nil {
		return fmt.Errorf("encoding agent store: %w", err)
	}

	ciphertext, err := sealed.Encrypt(plaintext, []string{s.keypair.PublicKey})
	if err != nil {
		return fmt.Errorf("encrypting agent store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating agent store directory: %w", err)
	}
	temporary := s.path + ".tmp"
	if err := os.WriteFile(temporary, []byte(ciphertext), 0600); err != nil {
		return fmt.Errorf("writing agent store: %w", err)
	}
	if err := os.Rename(temporary, s.path); err != nil {
		return fmt.Errorf("replacing agent store: %w", err)
	}
	return nil
}
