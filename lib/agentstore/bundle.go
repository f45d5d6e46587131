// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/chippr-robotics/sigil-sub001/lib/codec"
	"github.com/chippr-robotics/sigil-sub001/lib/sealed"
	"github.com/chippr-robotics/sigil-sub001/lib/secret"
)

// Bundle is the out-of-band transfer document the mother emits
// alongside a minted or refilled disk: the agent halves of every slot,
// addressed to one daemon.
type Bundle struct {
	// ChildID is the identity of the disk these shares pair with.
	ChildID [32]byte `cbor:"child_id"`

	// Shares maps slot index to the agent half.
	Shares map[uint32]Share `cbor:"shares"`
}

// EncodeBundle serializes a bundle for transfer: deterministic CBOR,
// zstd-compressed, age-encrypted to the recipient keys (the daemon's
// public key, optionally plus a mother escrow key). The result is
// base64 text, safe to carry on any medium.
func EncodeBundle(bundle *Bundle, recipientKeys []string) ([]byte, error) {
	plaintext, err := codec.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("encoding share bundle: %w", err)
	}

	compressor, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing zstd: %w", err)
	}
	compressed := compressor.EncodeAll(plaintext, nil)
	compressor.Close()
	secret.Zero(plaintext)

	ciphertext, err := sealed.Encrypt(compressed, recipientKeys)
	if err != nil {
		return nil, fmt.Errorf("encrypting share bundle: %w", err)
	}
	secret.Zero(compressed)
	return []byte(ciphertext), nil
}

// DecodeBundle decrypts and decodes a transfer bundle with the
// daemon's private key.
func DecodeBundle(data []byte, privateKey *secret.Buffer) (*Bundle, error) {
	compressed, err := sealed.Decrypt(string(data), privateKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting share bundle: %w", err)
	}
	defer compressed.Close()

	decompressor, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing zstd: %w", err)
	}
	defer decompressor.Close()

	plaintext, err := decompressor.DecodeAll(compressed.Bytes(), nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing share bundle: %w", err)
	}
	defer secret.Zero(plaintext)

	bundle := &Bundle{}
	if err := codec.Unmarshal(plaintext, bundle); err != nil {
		return nil, fmt.Errorf("decoding share bundle: %w", err)
	}
	return bundle, nil
}

// ImportBundle decodes a transfer bundle and installs its shares.
func (s *Store) ImportBundle(data []byte, replace bool) ([32]byte, error) {
	bundle, err := DecodeBundle(data, s.keypair.PrivateKey)
	if err != nil {
		return [32]byte{}, err
	}
	if err := s.Import(bundle.ChildID, bundle.Shares, replace); err != nil {
		return [32]byte{}, err
	}
	return bundle.ChildID, nil
}
