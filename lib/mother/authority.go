// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package mother

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chippr-robotics/sigil-sub001/lib/clock"
	"github.com/chippr-robotics/sigil-sub001/lib/codec"
	"github.com/chippr-robotics/sigil-sub001/lib/sealed"
	"github.com/chippr-robotics/sigil-sub001/lib/secret"
)

// File names inside the authority state directory.
const (
	signingKeyFile = "mother.key"
	identityFile   = "identity.age"
	registryFile   = "registry.cbor"
	childrenDir    = "children"
)

// Authority is the offline mother: it mints, reconciles, refills, and
// nullifies child disks. Not safe for concurrent use; the mother is a
// single-operator command-line tool.
type Authority struct {
	stateDir string
	signKey  ed25519.PrivateKey
	identity *sealed.Keypair
	clock    clock.Clock
	logger   *slog.Logger
	registry registryDocument
}

// registryDocument is the CBOR shape of the registry file. It holds no
// secrets: child identities, mint parameters, and revocations.
type registryDocument struct {
	Children map[string]*RegistryEntry `cbor:"children"`
}

// RegistryEntry records one minted child.
type RegistryEntry struct {
	CreatedAt   int64  `cbor:"created_at"`
	Scheme      uint8  `cbor:"scheme"`
	PresigTotal uint32 `cbor:"presig_total"`

	Revoked      bool   `cbor:"revoked,omitempty"`
	RevokedAt    int64  `cbor:"revoked_at,omitempty"`
	RevokeReason string `cbor:"revoke_reason,omitempty"`
}

// childSecret is the per-child key material the mother retains,
// age-encrypted to her own identity.
type childSecret struct {
	Chi [32]byte `cbor:"chi"`
}

// Open loads the authority state at stateDir, creating the signing
// key, age identity, and registry on first use.
func Open(stateDir string, clk clock.Clock, logger *slog.Logger) (*Authority, error) {
	if err := os.MkdirAll(filepath.Join(stateDir, childrenDir), 0700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	signKey, err := loadOrGenerateSigningKey(filepath.Join(stateDir, signingKeyFile))
	if err != nil {
		return nil, err
	}
	identity, err := sealed.LoadOrGenerateIdentity(filepath.Join(stateDir, identityFile))
	if err != nil {
		return nil, err
	}

	authority := &Authority{
		stateDir: stateDir,
		signKey:  signKey,
		identity: identity,
		clock:    clk,
		logger:   logger,
		registry: registryDocument{Children: make(map[string]*RegistryEntry)},
	}
	if err := authority.loadRegistry(); err != nil {
		return nil, err
	}
	return authority, nil
}

// Close releases the age identity's key material.
func (a *Authority) Close() {
	a.identity.Close()
}

// PublicKey returns the mother's ed25519 verification key. Daemons
// configure this as their root of trust.
func (a *Authority) PublicKey() ed25519.PublicKey {
	return a.signKey.Public().(ed25519.PublicKey)
}

// Registry returns the registry entry for a child, if one exists.
func (a *Authority) Registry(childID [32]byte) (*RegistryEntry, bool) {
	entry, exists := a.registry.Children[hex.EncodeToString(childID[:])]
	return entry, exists
}

// Children returns the hex identities of every minted child, in map
// order.
func (a *Authority) Children() map[string]*RegistryEntry {
	return a.registry.Children
}

// loadOrGenerateSigningKey reads the hex-encoded ed25519 seed at path,
// generating one on first use. The file is the authority's root
// secret.
func loadOrGenerateSigningKey(path string) (ed25519.PrivateKey, error) {
	encoded, err := secret.ReadFromPath(path)
	if err == nil {
		defer encoded.Close()
		seed, err := hex.DecodeString(encoded.String())
		if err != nil {
			return nil, fmt.Errorf("signing key %s is not valid hex: %w", path, err)
		}
		defer secret.Zero(seed)
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing key %s is %d bytes, want %d", path, len(seed), ed25519.SeedSize)
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading signing key %s: %w", path, err)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	defer secret.Zero(seed)
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("writing signing key %s: %w", path, err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func (a *Authority) loadRegistry() error {
	path := filepath.Join(a.stateDir, registryFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading registry %s: %w", path, err)
	}
	if err := codec.Unmarshal(raw, &a.registry); err != nil {
		return fmt.Errorf("decoding registry %s: %w", path, err)
	}
	if a.registry.Children == nil {
		a.registry.Children = make(map[string]*RegistryEntry)
	}
	return nil
}

func (a *Authority) saveRegistry() error {
	encoded, err := codec.Marshal(a.registry)
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	path := filepath.Join(a.stateDir, registryFile)
	temporary := path + ".tmp"
	if err := os.WriteFile(temporary, encoded, 0600); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	if err := os.Rename(temporary, path); err != nil {
		return fmt.Errorf("replacing registry: %w", err)
	}
	return nil
}

// saveChildSecret persists a child's retained key material, encrypted
// to the mother's own identity.
func (a *Authority) saveChildSecret(childID [32]byte, chi [32]byte) error {
	encoded, err := codec.Marshal(childSecret{Chi: chi})
	if err != nil {
		return fmt.Errorf("encoding child secret: %w", err)
	}
	ciphertext, err := sealed.Encrypt(encoded, []string{a.identity.PublicKey})
	secret.Zero(encoded)
	if err != nil {
		return fmt.Errorf("encrypting child secret: %w", err)
	}
	path := a.childSecretPath(childID)
	if err := os.WriteFile(path, []byte(ciphertext), 0600); err != nil {
		return fmt.Errorf("writing child secret: %w", err)
	}
	return nil
}

// loadChildSecret recovers a child's retained key material.
func (a *Authority) loadChildSecret(childID [32]byte) (*childSecret, error) {
	raw, err := os.ReadFile(a.childSecretPath(childID))
	if err != nil {
		return nil, fmt.Errorf("reading child secret: %w", err)
	}
	plaintext, err := sealed.Decrypt(string(raw), a.identity.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting child secret: %w", err)
	}
	defer plaintext.Close()

	decoded := &childSecret{}
	if err := codec.Unmarshal(plaintext.Bytes(), decoded); err != nil {
		return nil, fmt.Errorf("decoding child secret: %w", err)
	}
	return decoded, nil
}

func (a *Authority) childSecretPath(childID [32]byte) string {
	return filepath.Join(a.stateDir, childrenDir, hex.EncodeToString(childID[:])+".age")
}
