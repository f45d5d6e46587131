// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for sigil's persisted secret
// material. It wraps filippo.io/age for the specific operations sigil
// needs: generate x25519 keypairs, encrypt to one or more recipients,
// decrypt with a private key, and manage the daemon's identity file.
//
// Ciphertext is base64-encoded so it can be embedded in CBOR and JSON
// documents as a plain string. Private keys and decrypted plaintext
// are returned as secret.Buffer values backed by mmap memory outside
// the Go heap (locked against swap, excluded from core dumps, zeroed
// on Close).
//
// Used by lib/agentstore (share store at rest) and lib/mother
// (agent-share transfer bundles encrypted to the daemon's public key).
package sealed
