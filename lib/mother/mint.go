// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package mother

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/zeebo/blake3"

	"github.com/chippr-robotics/sigil-sub001/lib/agentstore"
	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
)

// derivationTag domain-separates the header's derivation hash.
const derivationTag = "sigil/derivation/v1"

// MintParams configures a new child disk.
type MintParams struct {
	Scheme      diskimage.Scheme
	PresigCount uint32

	// Validity is how long the disk signs before expiring.
	Validity time.Duration

	// MaxUses bounds signatures between reconciliations.
	MaxUses uint32

	// ReconcileEvery sets a wall-clock reconciliation deadline. Zero
	// means no deadline, only the MaxUses counter bound applies.
	ReconcileEvery time.Duration
}

// Minted is the result of CreateChild: the two artifacts plus the
// identity they share.
type Minted struct {
	ChildID [32]byte

	// DiskImage is the serialized child disk, written to the removable
	// medium.
	DiskImage []byte

	// Bundle is the encrypted agent-share bundle, addressed to the
	// daemon recipients.
	Bundle []byte
}

func (p MintParams) validate() error {
	if p.Scheme != diskimage.SchemeECDSA && p.Scheme != diskimage.SchemeSchnorr {
		return fmt.Errorf("unknown signature scheme %d", p.Scheme)
	}
	if p.PresigCount == 0 {
		return fmt.Errorf("presignature count must be positive")
	}
	if p.Validity <= 0 {
		return fmt.Errorf("validity must be positive")
	}
	if p.MaxUses == 0 {
		return fmt.Errorf("max uses before reconcile must be positive")
	}
	return nil
}

// CreateChild mints a new child disk and its agent-share bundle,
// encrypted to recipientKeys (the daemon's age public key, optionally
// plus an escrow key). The child's key scalar is retained encrypted in
// the state directory so the disk can be refilled later.
func (a *Authority) CreateChild(params MintParams, recipientKeys []string) (*Minted, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	childKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating child key: %w", err)
	}
	var childPubKey [33]byte
	copy(childPubKey[:], childKey.PubKey().SerializeCompressed())
	childID := diskimage.ComputeChildID(childPubKey)

	now := a.clock.Now()
	header := diskimage.Header{
		Version:                diskimage.FormatVersion,
		Scheme:                 params.Scheme,
		ChildID:                childID,
		ChildPubKey:            childPubKey,
		DerivationHash:         derivationHash(childPubKey, now.Unix()),
		PresigTotal:            params.PresigCount,
		CreatedAt:              now.Unix(),
		ExpiresAt:              now.Add(params.Validity).Unix(),
		MaxUsesBeforeReconcile: params.MaxUses,
	}
	if params.ReconcileEvery > 0 {
		header.ReconcileDeadline = now.Add(params.ReconcileEvery).Unix()
	}

	slots, shares, err := mintSlots(&childKey.Key, params.PresigCount)
	if err != nil {
		return nil, err
	}

	a.signHeader(&header)
	image := &diskimage.Image{Header: header, Slots: slots}
	diskBytes, err := image.Serialize()
	if err != nil {
		return nil, err
	}

	bundle, err := agentstore.EncodeBundle(&agentstore.Bundle{
		ChildID: childID,
		Shares:  shares,
	}, recipientKeys)
	if err != nil {
		return nil, err
	}

	if err := a.saveChildSecret(childID, childKey.Key.Bytes()); err != nil {
		return nil, err
	}
	a.registry.Children[hex.EncodeToString(childID[:])] = &RegistryEntry{
		CreatedAt:   now.Unix(),
		Scheme:      uint8(params.Scheme),
		PresigTotal: params.PresigCount,
	}
	if err := a.saveRegistry(); err != nil {
		return nil, err
	}

	a.logger.Info("child disk minted",
		"child_id", hex.EncodeToString(childID[:]),
		"scheme", params.Scheme.String(),
		"presig_count", params.PresigCount,
		"expires_at", header.ExpiresAt,
	)
	return &Minted{ChildID: childID, DiskImage: diskBytes, Bundle: bundle}, nil
}

// Refill appends additional fresh slots to an existing disk and
// returns the bundle holding their agent halves. The disk image at
// diskPath is rewritten in place with a re-signed header.
func (a *Authority) Refill(diskPath string, additional uint32, recipientKeys []string) ([]byte, error) {
	if additional == 0 {
		return nil, fmt.Errorf("additional presignature count must be positive")
	}

	image, err := a.loadOwnedImage(diskPath)
	if err != nil {
		return nil, err
	}
	childID := image.Header.ChildID
	if err := a.requireActive(childID); err != nil {
		return nil, err
	}

	retained, err := a.loadChildSecret(childID)
	if err != nil {
		return nil, err
	}
	chi := new(secp256k1.ModNScalar)
	chi.SetBytes(&retained.Chi)

	firstNewIndex := image.Header.PresigTotal
	slots, newShares, err := mintSlots(chi, additional)
	if err != nil {
		return nil, err
	}
	image.Slots = append(image.Slots, slots...)
	image.Header.PresigTotal += additional

	// Re-key the bundle map to the appended slot indexes.
	shares := make(map[uint32]agentstore.Share, len(newShares))
	for offset, share := range newShares {
		shares[firstNewIndex+offset] = share
	}

	a.signHeader(&image.Header)
	if err := a.writeImage(diskPath, image); err != nil {
		return nil, err
	}

	entry, _ := a.Registry(childID)
	entry.PresigTotal = image.Header.PresigTotal
	if err := a.saveRegistry(); err != nil {
		return nil, err
	}

	a.logger.Info("child disk refilled",
		"child_id", hex.EncodeToString(childID[:]),
		"additional", additional,
		"presig_total", image.Header.PresigTotal,
	)
	return agentstore.EncodeBundle(&agentstore.Bundle{ChildID: childID, Shares: shares}, recipientKeys)
}

// mintSlots generates count presignature slots for the child key chi:
// per slot a fresh nonce, its commitment point, and additive splits of
// both the nonce and the key.
func mintSlots(chi *secp256k1.ModNScalar, count uint32) ([]diskimage.Slot, map[uint32]agentstore.Share, error) {
	slots := make([]diskimage.Slot, count)
	shares := make(map[uint32]agentstore.Share, count)
	for index := uint32(0); index < count; index++ {
		nonceKey, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, fmt.Errorf("generating presignature nonce: %w", err)
		}

		var slot diskimage.Slot
		copy(slot.R[:], nonceKey.PubKey().SerializeCompressed())
		slot.Status = diskimage.SlotFresh

		var share agentstore.Share
		slot.KCold, share.KAgent = splitScalar(&nonceKey.Key)
		slot.ChiCold, share.ChiAgent = splitScalar(chi)

		slots[index] = slot
		shares[index] = share
	}
	return slots, shares, nil
}

// splitScalar returns an additive two-way split of full: a uniformly
// random cold half and the agent half full-cold mod n. Either half
// alone reveals nothing about full.
func splitScalar(full *secp256k1.ModNScalar) (cold, agent [32]byte) {
	coldKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		// Entropy failure at mint time; nothing sensible to continue
		// with.
		panic(fmt.Sprintf("mother: generating scalar split: %v", err))
	}
	agentScalar := new(secp256k1.ModNScalar).Set(&coldKey.Key)
	agentScalar.Negate()
	agentScalar.Add(full)
	return coldKey.Key.Bytes(), agentScalar.Bytes()
}

// signHeader fills MotherSignature over the signed region.
func (a *Authority) signHeader(header *diskimage.Header) {
	signature := ed25519.Sign(a.signKey, header.SignedBytes())
	copy(header.MotherSignature[:], signature)
}

// loadOwnedImage reads and parses a disk image, verifying it was
// signed by this authority.
func (a *Authority) loadOwnedImage(diskPath string) (*diskimage.Image, error) {
	data, err := os.ReadFile(diskPath)
	if err != nil {
		return nil, fmt.Errorf("reading disk image %s: %w", diskPath, err)
	}
	image, err := diskimage.Parse(data)
	if err != nil {
		return nil, err
	}
	if !image.Header.VerifySignature(a.PublicKey()) {
		return nil, fmt.Errorf("disk %s was not signed by this authority", diskPath)
	}
	return image, nil
}

// writeImage rewrites the disk image in place via temp file and
// rename.
func (a *Authority) writeImage(diskPath string, image *diskimage.Image) error {
	data, err := image.Serialize()
	if err != nil {
		return err
	}
	temporary := diskPath + ".tmp"
	if err := os.WriteFile(temporary, data, 0600); err != nil {
		return fmt.Errorf("writing disk image: %w", err)
	}
	if err := os.Rename(temporary, diskPath); err != nil {
		return fmt.Errorf("replacing disk image: %w", err)
	}
	return nil
}

// requireActive fails if the child is unknown or revoked.
func (a *Authority) requireActive(childID [32]byte) error {
	entry, exists := a.Registry(childID)
	if !exists {
		return fmt.Errorf("child %s is not in this authority's registry", hex.EncodeToString(childID[:8]))
	}
	if entry.Revoked {
		return fmt.Errorf("child %s was revoked at %d (%s)",
			hex.EncodeToString(childID[:8]), entry.RevokedAt, entry.RevokeReason)
	}
	return nil
}

// derivationHash binds the header to its key generation event.
func derivationHash(childPubKey [33]byte, createdAt int64) [32]byte {
	var timestamp [8]byte
	binary.LittleEndian.PutUint64(timestamp[:], uint64(createdAt))

	hasher := blake3.New()
	hasher.Write([]byte(derivationTag))
	hasher.Write(childPubKey[:])
	hasher.Write(timestamp[:])

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}
