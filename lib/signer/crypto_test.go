// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/chippr-robotics/sigil-sub001/lib/agentstore"
	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

func generateKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	return key
}

func xCoordinate(pub *secp256k1.PublicKey) [32]byte {
	var x [32]byte
	copy(x[:], pub.SerializeCompressed()[1:33])
	return x
}

func TestEcdsaCompleteProducesVerifiableSignature(t *testing.T) {
	key := generateKey(t)
	nonceKey := generateKey(t)
	message := messageHash(7)

	signature, err := ecdsaComplete(&nonceKey.Key, &key.Key, xCoordinate(nonceKey.PubKey()), message)
	if err != nil {
		t.Fatalf("ecdsaComplete: %v", err)
	}

	var r, s secp256k1.ModNScalar
	r.SetByteSlice(signature[:32])
	s.SetByteSlice(signature[32:])
	if s.IsOverHalfOrder() {
		t.Error("signature is not low-s normalized")
	}
	if !ecdsa.NewSignature(&r, &s).Verify(message[:], key.PubKey()) {
		t.Error("signature does not verify under the combined public key")
	}
}

func TestSchnorrCompleteSatisfiesVerificationEquation(t *testing.T) {
	key := generateKey(t)
	nonceKey := generateKey(t)
	message := messageHash(9)

	var childPubKey [33]byte
	copy(childPubKey[:], key.PubKey().SerializeCompressed())

	signature, err := schnorrComplete(&nonceKey.Key, &key.Key, xCoordinate(nonceKey.PubKey()), childPubKey, message)
	if err != nil {
		t.Fatalf("schnorrComplete: %v", err)
	}

	// s·G must equal R + e·P.
	var s secp256k1.ModNScalar
	s.SetByteSlice(signature[32:])
	var left secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &left)

	challenge := schnorrChallenge(xCoordinate(nonceKey.PubKey()), xCoordinate(key.PubKey()), message)
	var noncePoint, pubPoint, challengeTerm, right secp256k1.JacobianPoint
	nonceKey.PubKey().AsJacobian(&noncePoint)
	key.PubKey().AsJacobian(&pubPoint)
	secp256k1.ScalarMultNonConst(challenge, &pubPoint, &challengeTerm)
	secp256k1.AddNonConst(&noncePoint, &challengeTerm, &right)

	left.ToAffine()
	right.ToAffine()
	if !left.X.Equals(&right.X) || !left.Y.Equals(&right.Y) {
		t.Error("s·G != R + e·P")
	}
}

func TestCompleteSignatureRejectsMismatchedShare(t *testing.T) {
	key := generateKey(t)
	wrongKey := generateKey(t)
	nonceKey := generateKey(t)

	var childPubKey [33]byte
	copy(childPubKey[:], key.PubKey().SerializeCompressed())
	header := &diskimage.Header{
		Scheme:      diskimage.SchemeECDSA,
		ChildPubKey: childPubKey,
	}

	var slot diskimage.Slot
	copy(slot.R[:], nonceKey.PubKey().SerializeCompressed())
	var share agentstore.Share
	slot.KCold, share.KAgent = splitScalar(t, &nonceKey.Key)
	// The chi halves combine to the wrong key.
	slot.ChiCold, share.ChiAgent = splitScalar(t, &wrongKey.Key)

	if _, err := completeSignature(header, slot, share, messageHash(1)); !signerr.Is(err, signerr.KindCorruptFormat) {
		t.Errorf("mismatched share: got %v, want CorruptFormat", err)
	}
}

func TestSignedResultVerifiesEndToEnd(t *testing.T) {
	f := buildFixture(t, defaultParams())
	message := messageHash(0x42)
	result := mustSign(t, f, message)

	var r, s secp256k1.ModNScalar
	r.SetByteSlice(result.Signature[:32])
	s.SetByteSlice(result.Signature[32:])
	if !ecdsa.NewSignature(&r, &s).Verify(message[:], f.childPub) {
		t.Error("issued signature does not verify under the child public key")
	}

	if result.ProofHash != proofHash(f.childID, result.PresigIndex, message, result.Signature) {
		t.Error("proof hash does not recompute")
	}
}

func TestSchnorrSignEndToEnd(t *testing.T) {
	params := defaultParams()
	params.scheme = diskimage.SchemeSchnorr
	f := buildFixture(t, params)

	file, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	slotR := file.Slots()[0].R
	file.Close()

	message := messageHash(0x24)
	result := mustSign(t, f, message)
	if result.Scheme != diskimage.SchemeSchnorr {
		t.Fatalf("result scheme = %s, want schnorr", result.Scheme)
	}

	noncePoint, err := secp256k1.ParsePubKey(slotR[:])
	if err != nil {
		t.Fatalf("ParsePubKey: %v", err)
	}

	var s secp256k1.ModNScalar
	s.SetByteSlice(result.Signature[32:])
	var left secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &left)

	var rX [32]byte
	copy(rX[:], result.Signature[:32])
	challenge := schnorrChallenge(rX, xCoordinate(f.childPub), message)
	var rPoint, pubPoint, challengeTerm, right secp256k1.JacobianPoint
	noncePoint.AsJacobian(&rPoint)
	f.childPub.AsJacobian(&pubPoint)
	secp256k1.ScalarMultNonConst(challenge, &pubPoint, &challengeTerm)
	secp256k1.AddNonConst(&rPoint, &challengeTerm, &right)

	left.ToAffine()
	right.ToAffine()
	if !left.X.Equals(&right.X) || !left.Y.Equals(&right.Y) {
		t.Error("schnorr signature does not satisfy s·G = R + e·P")
	}
}
