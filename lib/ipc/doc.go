// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the line-delimited JSON vocabulary of the daemon
// socket.
//
// Every request and response is a single JSON object on one line with
// a "type" field as discriminator. Binary values (hashes, identities,
// signatures, share bundles) travel as lowercase hex strings. Failures
// are {"type":"Error","kind":...,"message":...} regardless of which
// request caused them.
//
// JSON is deliberate for this one boundary: the socket is the daemon's
// public surface, spoken by wallets and shell tooling, where
// line-oriented JSON is the lingua franca. Everything internal
// (agent store, share bundles) uses deterministic CBOR via lib/codec.
package ipc
