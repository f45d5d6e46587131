// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/chippr-robotics/sigil-sub001/lib/secret"
)

// Keypair holds an age x25519 keypair. The private key is stored in a
// secret.Buffer (mmap-backed, locked against swap, excluded from core
// dumps). The public key is a plain string, safe to publish; it is
// what the mother encrypts agent-share bundles to.
//
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format,
	// stored in mmap memory outside the Go heap. Must never be logged
	// or included in CLI arguments.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding public key in age1... format.
	PublicKey string
}

// Close releases the private key memory (zeros, unlocks, unmaps).
// Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair with the private
// key held in a secret.Buffer. The caller must Close the returned
// Keypair when done.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// Move the private key string into mmap-backed memory immediately.
	// The heap string returned by identity.String() is GC'd eventually;
	// the mmap buffer is the durable copy.
	privateKeyBytes := []byte(identity.String())
	privateKey, err := secret.NewFromBytes(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// LoadOrGenerateIdentity loads the daemon's age identity from path, or
// generates and persists a new one (mode 0600, directory created if
// missing) when the file does not exist. This runs once at daemon
// startup; the resulting public key is reported by Ping so an operator
// can hand it to the mother for share-bundle encryption.
func LoadOrGenerateIdentity(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		privateKey, bufferErr := secret.NewFromBytes(bytes.TrimSpace(raw))
		if bufferErr != nil {
			return nil, fmt.Errorf("protecting identity from %s: %w", path, bufferErr)
		}
		identity, parseErr := age.ParseX25519Identity(privateKey.String())
		if parseErr != nil {
			privateKey.Close()
			return nil, fmt.Errorf("parsing identity file %s: %w", path, parseErr)
		}
		return &Keypair{
			PrivateKey: privateKey,
			PublicKey:  identity.Recipient().String(),
		}, nil

	case os.IsNotExist(err):
		keypair, generateErr := GenerateKeypair()
		if generateErr != nil {
			return nil, generateErr
		}
		if mkdirErr := os.MkdirAll(filepath.Dir(path), 0700); mkdirErr != nil {
			keypair.Close()
			return nil, fmt.Errorf("creating identity directory: %w", mkdirErr)
		}
		if writeErr := os.WriteFile(path, keypair.PrivateKey.Bytes(), 0600); writeErr != nil {
			keypair.Close()
			return nil, fmt.Errorf("writing identity file %s: %w", path, writeErr)
		}
		return keypair, nil

	default:
		return nil, fmt.Errorf("reading identity file %s: %w", path, err)
	}
}

// Encrypt encrypts plaintext to one or more recipients specified by
// their age public key strings (age1... format). Returns the
// ciphertext as a standard base64-encoded string.
//
// At least one recipient is required. For agent-share bundles the
// recipient is the daemon's public key; the mother may add its own
// escrow key as a second recipient.
func Encrypt(plaintext []byte, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return "", fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertextBuffer bytes.Buffer
	writer, err := age.Encrypt(&ciphertextBuffer, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertextBuffer.Bytes()), nil
}

// Decrypt decrypts a base64-encoded ciphertext string using the given
// private key. Returns the plaintext in a secret.Buffer (mmap-backed,
// zeroed on close).
//
// The private key is borrowed and NOT closed by this function. The
// caller must Close the returned buffer.
func Decrypt(ciphertext string, privateKey *secret.Buffer) (*secret.Buffer, error) {
	// age.ParseX25519Identity requires a string; the heap copy is brief
	// and request-scoped.
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	rawCiphertext, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(rawCiphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}

	// NewFromBytes zeros the heap copy. Empty plaintext (an encrypted
	// empty document) yields an empty buffer, preserving the length.
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

// ParsePublicKey validates an age public key string. Used to check
// recipient keys handed to the mother before minting a bundle.
func ParsePublicKey(publicKey string) error {
	if !strings.HasPrefix(publicKey, "age1") {
		return fmt.Errorf("invalid age public key: missing age1 prefix")
	}
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}
