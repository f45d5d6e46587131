// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/chippr-robotics/sigil-sub001/lib/agentstore"
	"github.com/chippr-robotics/sigil-sub001/lib/clock"
	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
	"github.com/chippr-robotics/sigil-sub001/lib/diskwatch"
	"github.com/chippr-robotics/sigil-sub001/lib/presig"
	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

// DiskSource supplies the canonical current-disk snapshot. Satisfied
// by *diskwatch.Watcher.
type DiskSource interface {
	Current() diskwatch.Snapshot
}

// Request is one signing request.
type Request struct {
	// MessageHash is the 32-byte digest to sign.
	MessageHash [32]byte

	// ChainID identifies the target chain, recorded in the usage log.
	ChainID uint32

	// Description is operator free text for the audit trail, at most
	// diskimage.MaxDescriptionLen bytes.
	Description string
}

// Result is a completed signature and its audit anchors.
type Result struct {
	ChildID     [32]byte
	PresigIndex uint32
	Scheme      diskimage.Scheme
	Signature   [64]byte
	ProofHash   [32]byte
	Timestamp   int64

	// Remaining is the fresh-slot count after this consumption.
	Remaining uint32
}

// DiskState is the coarse daemon state reported by Status.
type DiskState string

const (
	// StateReady means a verified disk is inserted and readable.
	StateReady DiskState = "ready"
	// StateWaitingForDisk means no medium matches the mount pattern.
	StateWaitingForDisk DiskState = "waiting_for_disk"
	// StateDiskInvalid means a medium is present but cannot be trusted:
	// unreadable, corrupt, wrong magic, bad mother signature, or an
	// unrepairable interrupted commit.
	StateDiskInvalid DiskState = "disk_invalid"
)

// Status is the signer's view of the current disk.
type Status struct {
	State    DiskState
	Detected bool
	Path     string

	ChildID [32]byte
	Scheme  diskimage.Scheme

	PresigsTotal     uint32
	PresigsRemaining uint32

	UsesSinceReconcile     uint32
	MaxUsesBeforeReconcile uint32

	ExpiresAt       int64
	DaysUntilExpiry int64

	// Valid means a sign would be admitted right now. False when the
	// disk is expired, past its reconciliation bound, or exhausted, with
	// Reason naming which.
	Valid  bool
	Reason string
}

// ChildInfo is one entry of ListChildren: a child identity known to
// the agent store.
type ChildInfo struct {
	ChildID         [32]byte
	SharesTotal     int
	SharesAvailable int

	// Inserted means this child's disk is the current medium.
	Inserted bool
}

// Signer completes presignatures against the current disk. Safe for
// concurrent use; mutating operations on one child are serialized and
// fail fast with Busy under contention.
type Signer struct {
	disks     DiskSource
	shares    *agentstore.Store
	motherKey ed25519.PublicKey
	clock     clock.Clock
	logger    *slog.Logger

	mu          sync.Mutex
	sessionPath string
	session     *session
	locks       map[[32]byte]chan struct{}
}

// New creates a signer. motherKey is the mother's ed25519 public key,
// the root of trust for every disk header.
func New(disks DiskSource, shares *agentstore.Store, motherKey ed25519.PublicKey, clk clock.Clock, logger *slog.Logger) *Signer {
	return &Signer{
		disks:     disks,
		shares:    shares,
		motherKey: motherKey,
		clock:     clk,
		logger:    logger,
		locks:     make(map[[32]byte]chan struct{}),
	}
}

// Close releases the current disk session, if any.
func (s *Signer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropSessionLocked()
}

// currentSession returns the session for the current disk, opening one
// if the medium changed since the last call. Fails with NoDiskDetected
// when no medium is present.
func (s *Signer) currentSession() (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSessionLocked()
}

func (s *Signer) currentSessionLocked() (*session, error) {
	snapshot := s.disks.Current()
	if !snapshot.Present {
		s.dropSessionLocked()
		return nil, signerr.ErrNoDiskDetected
	}
	if s.session != nil && s.sessionPath == snapshot.Path {
		return s.session, nil
	}

	s.dropSessionLocked()
	sess, err := openSession(snapshot.Path, s.motherKey, s.logger)
	if err != nil {
		return nil, err
	}
	s.session = sess
	s.sessionPath = snapshot.Path
	s.logger.Info("disk session opened",
		"path", snapshot.Path,
		"child_id", hex.EncodeToString(sess.file.Header().ChildID[:]),
		"scheme", sess.file.Header().Scheme.String(),
		"presigs_remaining", sess.table.Remaining(),
	)
	return sess, nil
}

func (s *Signer) dropSessionLocked() {
	if s.session != nil {
		s.session.close()
		s.session = nil
		s.sessionPath = ""
	}
}

// acquireChild takes the per-child serialization lock. Contention is
// not queued: the caller gets Busy and retries at its own pace.
func (s *Signer) acquireChild(childID [32]byte) (func(), error) {
	s.mu.Lock()
	lock, exists := s.locks[childID]
	if !exists {
		lock = make(chan struct{}, 1)
		s.locks[childID] = lock
	}
	s.mu.Unlock()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	default:
		return nil, signerr.ErrBusy
	}
}

// Sign consumes exactly one presignature and returns the completed
// signature. On any failure before the usage-log record is durable,
// the selected slot remains Fresh and no state has changed.
func (s *Signer) Sign(ctx context.Context, request Request) (*Result, error) {
	if len(request.Description) > diskimage.MaxDescriptionLen {
		return nil, signerr.Corrupt("description is %d bytes, maximum %d",
			len(request.Description), diskimage.MaxDescriptionLen)
	}

	sess, err := s.currentSession()
	if err != nil {
		return nil, err
	}
	header := sess.file.Header()
	childID := header.ChildID

	release, err := s.acquireChild(childID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Validate and select under the state lock; the child lock keeps
	// another sign from racing us between here and the commit.
	now := s.clock.Now()
	s.mu.Lock()
	err = presig.Validate(header, sess.table, now)
	var index uint32
	if err == nil {
		index, err = sess.table.SelectFresh()
	}
	var slot diskimage.Slot
	if err == nil {
		slot, err = sess.table.Slot(index)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	share, err := s.shares.GetShare(childID, index)
	if err != nil {
		return nil, err
	}

	signature, err := completeSignature(header, slot, share, request.MessageHash)
	if err != nil {
		return nil, err
	}
	proof := proofHash(childID, index, request.MessageHash, signature)

	// Last point of no return: a cancelled request costs nothing.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase one: the audit record becomes durable before anything else
	// changes. A crash from here on is rolled forward on the next open.
	record := diskimage.LogRecord{
		PresigIndex: index,
		Timestamp:   now.Unix(),
		MessageHash: request.MessageHash,
		Signature:   signature,
		ChainID:     request.ChainID,
		ProofHash:   proof,
		Description: request.Description,
	}
	s.mu.Lock()
	err = s.commitLocked(sess, record)
	remaining := sess.table.Remaining()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// The signature is already durable on the medium; a share-store
	// persistence failure must not turn a committed sign into an error.
	if err := s.shares.MarkConsumed(childID, index); err != nil {
		s.logger.Error("failed to mark agent share consumed",
			"child_id", hex.EncodeToString(childID[:]),
			"presig_index", index,
			"error", err,
		)
	}

	s.logger.Info("signature issued",
		"child_id", hex.EncodeToString(childID[:]),
		"presig_index", index,
		"scheme", header.Scheme.String(),
		"chain_id", request.ChainID,
		"presigs_remaining", remaining,
	)
	return &Result{
		ChildID:     childID,
		PresigIndex: index,
		Scheme:      header.Scheme,
		Signature:   signature,
		ProofHash:   proof,
		Timestamp:   record.Timestamp,
		Remaining:   remaining,
	}, nil
}

// commitLocked runs both phases of the commit. Phase one makes the
// audit record durable; phase two retires the slot and advances the
// counters. Called with s.mu held.
func (s *Signer) commitLocked(sess *session, record diskimage.LogRecord) error {
	if err := sess.log.Append(record); err != nil {
		return err
	}
	if err := sess.table.MarkUsed(record.PresigIndex); err != nil {
		return err
	}
	if err := sess.file.WriteSlotStatus(record.PresigIndex, diskimage.SlotUsed); err != nil {
		return err
	}
	header := sess.file.Header()
	if err := sess.file.WriteCounters(header.PresigUsed+1, header.UsesSinceReconcile+1); err != nil {
		return err
	}
	return sess.file.Sync()
}

// UpdateTxHash fills the broadcast transaction hash of the usage-log
// record for presigIndex. Patching the same hash again is a no-op; a
// different hash is a Conflict, the record is write-once.
func (s *Signer) UpdateTxHash(presigIndex uint32, txHash [32]byte) error {
	if txHash == [32]byte{} {
		return signerr.Corrupt("transaction hash must not be all zero")
	}

	sess, err := s.currentSession()
	if err != nil {
		return err
	}
	childID := sess.file.Header().ChildID

	release, err := s.acquireChild(childID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	record, exists := sess.log.EntryFor(presigIndex)
	if !exists {
		s.mu.Unlock()
		return signerr.NotFound("no usage-log record for presignature index %d", presigIndex)
	}
	if record.TxHashSet() {
		s.mu.Unlock()
		if record.TxHash == txHash {
			return nil
		}
		return signerr.Conflict("usage-log record %d already carries a different transaction hash", presigIndex)
	}
	err = sess.log.PatchTxHash(presigIndex, txHash)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.logger.Info("transaction hash recorded",
		"child_id", hex.EncodeToString(childID[:]),
		"presig_index", presigIndex,
	)
	return nil
}

// PresigCount returns the remaining and total presignature counts of
// the current disk.
func (s *Signer) PresigCount() (remaining, total uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.currentSessionLocked()
	if err != nil {
		return 0, 0, err
	}
	return sess.table.Remaining(), sess.file.Header().PresigTotal, nil
}

// Status reports the signer's view of the current disk. It never
// fails: problems are folded into State and Reason.
func (s *Signer) Status() Status {
	snapshot := s.disks.Current()
	if !snapshot.Present {
		return Status{State: StateWaitingForDisk}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.currentSessionLocked()
	if err != nil {
		return Status{
			State:    StateDiskInvalid,
			Detected: true,
			Path:     snapshot.Path,
			Reason:   err.Error(),
		}
	}

	header := sess.file.Header()
	now := s.clock.Now()
	status := Status{
		State:                  StateReady,
		Detected:               true,
		Path:                   snapshot.Path,
		ChildID:                header.ChildID,
		Scheme:                 header.Scheme,
		PresigsTotal:           header.PresigTotal,
		PresigsRemaining:       sess.table.Remaining(),
		UsesSinceReconcile:     header.UsesSinceReconcile,
		MaxUsesBeforeReconcile: header.MaxUsesBeforeReconcile,
		ExpiresAt:              header.ExpiresAt,
	}
	if remaining := header.ExpiresAt - now.Unix(); remaining > 0 {
		status.DaysUntilExpiry = remaining / 86400
	}
	if err := presig.Validate(header, sess.table, now); err != nil {
		status.Reason = err.Error()
	} else {
		status.Valid = true
	}
	return status
}

// ListChildren returns every child identity the agent store knows,
// with its share counts, marking the one whose disk is inserted.
func (s *Signer) ListChildren() []ChildInfo {
	var current [32]byte
	s.mu.Lock()
	if sess, err := s.currentSessionLocked(); err == nil {
		current = sess.file.Header().ChildID
	}
	s.mu.Unlock()

	children := s.shares.Children()
	infos := make([]ChildInfo, 0, len(children))
	for _, childID := range children {
		total, available := s.shares.ShareCount(childID)
		infos = append(infos, ChildInfo{
			ChildID:         childID,
			SharesTotal:     total,
			SharesAvailable: available,
			Inserted:        childID == current,
		})
	}
	return infos
}

// ImportShares installs an encrypted share bundle into the agent
// store, returning the child identity it was minted for.
func (s *Signer) ImportShares(bundle []byte, replace bool) ([32]byte, error) {
	return s.shares.ImportBundle(bundle, replace)
}
