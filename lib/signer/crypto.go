// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"bytes"
	"encoding/binary"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/zeebo/blake3"

	"github.com/chippr-robotics/sigil-sub001/lib/agentstore"
	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

// Domain-separation tags for the hash constructions. Changing either
// one is a disk format break.
const (
	schnorrChallengeTag = "sigil/schnorr/challenge/v1"
	proofHashTag        = "sigil/proof/v1"
)

// completeSignature combines a slot's cold halves with the agent share
// and produces the finished 64-byte signature for messageHash under
// the header's scheme.
//
// The combined key scalar is checked against the child public key
// before any arithmetic output leaves this function: a share that does
// not pair with this disk must never produce a signature that looks
// plausible.
func completeSignature(header *diskimage.Header, slot diskimage.Slot, share agentstore.Share, messageHash [32]byte) ([64]byte, error) {
	var signature [64]byte

	nonce := new(secp256k1.ModNScalar)
	nonce.SetBytes(&slot.KCold)
	agentNonce := new(secp256k1.ModNScalar)
	agentNonce.SetBytes(&share.KAgent)
	nonce.Add(agentNonce)
	if nonce.IsZero() {
		return signature, signerr.Corrupt("combined nonce for slot is zero")
	}

	key := new(secp256k1.ModNScalar)
	key.SetBytes(&slot.ChiCold)
	agentKey := new(secp256k1.ModNScalar)
	agentKey.SetBytes(&share.ChiAgent)
	key.Add(agentKey)
	if key.IsZero() {
		return signature, signerr.Corrupt("combined key for slot is zero")
	}

	// The combined key must reproduce the child public key the mother
	// signed into the header.
	derived := secp256k1.NewPrivateKey(key).PubKey().SerializeCompressed()
	if !bytes.Equal(derived, header.ChildPubKey[:]) {
		return signature, signerr.Corrupt("agent share does not combine to the child public key")
	}

	noncePoint, err := secp256k1.ParsePubKey(slot.R[:])
	if err != nil {
		return signature, signerr.Corrupt("slot presignature point is not a valid curve point: %v", err)
	}
	var noncePointX [32]byte
	copy(noncePointX[:], noncePoint.SerializeCompressed()[1:33])

	switch header.Scheme {
	case diskimage.SchemeECDSA:
		return ecdsaComplete(nonce, key, noncePointX, messageHash)
	case diskimage.SchemeSchnorr:
		return schnorrComplete(nonce, key, noncePointX, header.ChildPubKey, messageHash)
	default:
		return signature, signerr.Corrupt("unknown signature scheme %d", header.Scheme)
	}
}

// ecdsaComplete produces r||s with s = k^-1 * (z + r*chi), low-s
// normalized.
func ecdsaComplete(nonce, key *secp256k1.ModNScalar, noncePointX, messageHash [32]byte) ([64]byte, error) {
	var signature [64]byte

	r := new(secp256k1.ModNScalar)
	r.SetByteSlice(noncePointX[:])
	if r.IsZero() {
		return signature, signerr.Corrupt("presignature point reduces to a zero r")
	}

	z := new(secp256k1.ModNScalar)
	z.SetBytes(&messageHash)

	s := new(secp256k1.ModNScalar).Mul2(r, key).Add(z)
	nonceInverse := new(secp256k1.ModNScalar).InverseValNonConst(nonce)
	s.Mul(nonceInverse)
	if s.IsZero() {
		return signature, signerr.Corrupt("signature s component is zero")
	}
	if s.IsOverHalfOrder() {
		s.Negate()
	}

	rBytes := r.Bytes()
	sBytes := s.Bytes()
	copy(signature[:32], rBytes[:])
	copy(signature[32:], sBytes[:])
	return signature, nil
}

// schnorrComplete produces R.x||s with s = k + e*chi, where e is the
// tagged challenge over R.x, the child public key's x coordinate, and
// the message hash.
func schnorrComplete(nonce, key *secp256k1.ModNScalar, noncePointX [32]byte, childPubKey [33]byte, messageHash [32]byte) ([64]byte, error) {
	var signature [64]byte

	var pubX [32]byte
	copy(pubX[:], childPubKey[1:33])
	challenge := schnorrChallenge(noncePointX, pubX, messageHash)

	s := new(secp256k1.ModNScalar).Mul2(challenge, key).Add(nonce)
	if s.IsZero() {
		return signature, signerr.Corrupt("signature s component is zero")
	}

	sBytes := s.Bytes()
	copy(signature[:32], noncePointX[:])
	copy(signature[32:], sBytes[:])
	return signature, nil
}

// schnorrChallenge computes the challenge scalar
// e = blake3(tag || R.x || P.x || m) mod n.
func schnorrChallenge(noncePointX, pubX, messageHash [32]byte) *secp256k1.ModNScalar {
	hasher := blake3.New()
	hasher.Write([]byte(schnorrChallengeTag))
	hasher.Write(noncePointX[:])
	hasher.Write(pubX[:])
	hasher.Write(messageHash[:])

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))

	challenge := new(secp256k1.ModNScalar)
	challenge.SetBytes(&digest)
	return challenge
}

// proofHash computes the succinct consumption proof recorded in the
// usage log: a binding of the child identity, the slot, the message,
// and the produced signature.
func proofHash(childID [32]byte, presigIndex uint32, messageHash [32]byte, signature [64]byte) [32]byte {
	var index [4]byte
	binary.LittleEndian.PutUint32(index[:], presigIndex)

	hasher := blake3.New()
	hasher.Write([]byte(proofHashTag))
	hasher.Write(childID[:])
	hasher.Write(index[:])
	hasher.Write(messageHash[:])
	hasher.Write(signature[:])

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}
