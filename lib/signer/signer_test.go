// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/chippr-robotics/sigil-sub001/lib/agentstore"
	"github.com/chippr-robotics/sigil-sub001/lib/clock"
	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
	"github.com/chippr-robotics/sigil-sub001/lib/diskwatch"
	"github.com/chippr-robotics/sigil-sub001/lib/sealed"
	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

var testEpoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSource struct {
	mu       sync.Mutex
	snapshot diskwatch.Snapshot
}

func (s *stubSource) Current() diskwatch.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *stubSource) set(snapshot diskwatch.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
}

type fixture struct {
	signer    *Signer
	source    *stubSource
	clock     *clock.FakeClock
	store     *agentstore.Store
	path      string
	childID   [32]byte
	childPub  *secp256k1.PublicKey
	motherPub ed25519.PublicKey
}

type diskParams struct {
	scheme            diskimage.Scheme
	slots             int
	maxUses           uint32
	expiresAt         int64
	reconcileDeadline int64

	// shareSlots limits which slot indexes get agent shares; nil means
	// all of them.
	shareSlots []uint32
}

func defaultParams() diskParams {
	return diskParams{
		scheme:    diskimage.SchemeECDSA,
		slots:     4,
		maxUses:   100,
		expiresAt: testEpoch.Add(30 * 24 * time.Hour).Unix(),
	}
}

func randomScalar(t *testing.T) *secp256k1.ModNScalar {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	return &key.Key
}

// splitScalar returns (cold, agent) with cold + agent = full mod n.
func splitScalar(t *testing.T, full *secp256k1.ModNScalar) ([32]byte, [32]byte) {
	t.Helper()
	cold := randomScalar(t)
	agent := new(secp256k1.ModNScalar).Set(cold)
	agent.Negate()
	agent.Add(full)
	return cold.Bytes(), agent.Bytes()
}

func buildFixture(t *testing.T, params diskParams) *fixture {
	t.Helper()
	directory := t.TempDir()

	childKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	childPub := childKey.PubKey()
	var childPubKey [33]byte
	copy(childPubKey[:], childPub.SerializeCompressed())
	childID := diskimage.ComputeChildID(childPubKey)

	shares := make(map[uint32]agentstore.Share, params.slots)
	slots := make([]diskimage.Slot, params.slots)
	for i := range slots {
		nonceKey, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("GeneratePrivateKey: %v", err)
		}
		var slot diskimage.Slot
		copy(slot.R[:], nonceKey.PubKey().SerializeCompressed())
		slot.Status = diskimage.SlotFresh

		var share agentstore.Share
		slot.KCold, share.KAgent = splitScalar(t, &nonceKey.Key)
		slot.ChiCold, share.ChiAgent = splitScalar(t, &childKey.Key)
		slots[i] = slot
		shares[uint32(i)] = share
	}
	if params.shareSlots != nil {
		kept := make(map[uint32]agentstore.Share, len(params.shareSlots))
		for _, index := range params.shareSlots {
			kept[index] = shares[index]
		}
		shares = kept
	}

	header := diskimage.Header{
		Version:                diskimage.FormatVersion,
		Scheme:                 params.scheme,
		ChildID:                childID,
		ChildPubKey:            childPubKey,
		PresigTotal:            uint32(params.slots),
		CreatedAt:              testEpoch.Unix(),
		ExpiresAt:              params.expiresAt,
		ReconcileDeadline:      params.reconcileDeadline,
		MaxUsesBeforeReconcile: params.maxUses,
	}

	motherPub, motherPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	copy(header.MotherSignature[:], ed25519.Sign(motherPriv, header.SignedBytes()))

	image := &diskimage.Image{Header: header, Slots: slots}
	data, err := image.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	diskPath := filepath.Join(directory, "child.disk")
	if err := writeFile(diskPath, data); err != nil {
		t.Fatalf("writing disk: %v", err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	store, err := agentstore.Open(filepath.Join(directory, "shares.age"), keypair, testLogger())
	if err != nil {
		t.Fatalf("agentstore.Open: %v", err)
	}
	if err := store.Import(childID, shares, false); err != nil {
		t.Fatalf("Import: %v", err)
	}

	source := &stubSource{snapshot: diskwatch.Snapshot{Present: true, Path: diskPath, MountedAt: testEpoch}}
	fakeClock := clock.Fake(testEpoch)
	sgn := New(source, store, motherPub, fakeClock, testLogger())
	t.Cleanup(sgn.Close)

	return &fixture{
		signer:    sgn,
		source:    source,
		clock:     fakeClock,
		store:     store,
		path:      diskPath,
		childID:   childID,
		childPub:  childPub,
		motherPub: motherPub,
	}
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0600)
}

func writeFileAt(path string, data []byte, offset int64) error {
	handle, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer handle.Close()
	_, err = handle.WriteAt(data, offset)
	return err
}

func mustSign(t *testing.T, f *fixture, message [32]byte) *Result {
	t.Helper()
	result, err := f.signer.Sign(context.Background(), Request{
		MessageHash: message,
		ChainID:     1,
		Description: "test payment",
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return result
}

func messageHash(seed byte) [32]byte {
	var hash [32]byte
	for i := range hash {
		hash[i] = seed
	}
	return hash
}

func TestSignConsumesLowestIndexFirst(t *testing.T) {
	f := buildFixture(t, defaultParams())

	first := mustSign(t, f, messageHash(1))
	if first.PresigIndex != 0 {
		t.Errorf("first sign used slot %d, want 0", first.PresigIndex)
	}
	second := mustSign(t, f, messageHash(2))
	if second.PresigIndex != 1 {
		t.Errorf("second sign used slot %d, want 1", second.PresigIndex)
	}
	if first.Remaining != 3 || second.Remaining != 2 {
		t.Errorf("remaining = %d then %d, want 3 then 2", first.Remaining, second.Remaining)
	}
}

func TestSignPersistsCommit(t *testing.T) {
	f := buildFixture(t, defaultParams())
	result := mustSign(t, f, messageHash(1))
	f.signer.Close()

	file, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer file.Close()

	if got := file.Slots()[0].Status; got != diskimage.SlotUsed {
		t.Errorf("slot 0 status = %s, want used", got)
	}
	if file.Header().PresigUsed != 1 || file.Header().UsesSinceReconcile != 1 {
		t.Errorf("counters = %d/%d, want 1/1",
			file.Header().PresigUsed, file.Header().UsesSinceReconcile)
	}
	records := file.Log()
	if len(records) != 1 {
		t.Fatalf("log has %d records, want 1", len(records))
	}
	if records[0].PresigIndex != 0 || records[0].Signature != result.Signature {
		t.Error("log record does not match the issued signature")
	}
	if records[0].ProofHash != result.ProofHash {
		t.Error("log record proof hash does not match")
	}
}

func TestSignConsumesAgentShare(t *testing.T) {
	f := buildFixture(t, defaultParams())
	mustSign(t, f, messageHash(1))

	if _, err := f.store.GetShare(f.childID, 0); !signerr.Is(err, signerr.KindShareNotFound) {
		t.Errorf("share 0 still available after sign: %v", err)
	}
}

func TestSignNoDisk(t *testing.T) {
	f := buildFixture(t, defaultParams())
	f.source.set(diskwatch.Snapshot{})

	if _, err := f.signer.Sign(context.Background(), Request{MessageHash: messageHash(1)}); !signerr.Is(err, signerr.KindNoDiskDetected) {
		t.Errorf("Sign without disk: got %v, want NoDiskDetected", err)
	}
}

func TestSignRejectsTamperedHeader(t *testing.T) {
	f := buildFixture(t, defaultParams())

	file, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	// Extend the expiry without the mother's key.
	header := *file.Header()
	header.ExpiresAt += 86400
	encoded := header.Encode()
	if err := writeFileAt(f.path, encoded[:], 0); err != nil {
		t.Fatalf("tampering: %v", err)
	}
	file.Close()

	if _, err := f.signer.Sign(context.Background(), Request{MessageHash: messageHash(1)}); !signerr.Is(err, signerr.KindInvalidSignature) {
		t.Errorf("Sign on tampered disk: got %v, want InvalidSignature", err)
	}
}

func TestSignExpiredDisk(t *testing.T) {
	f := buildFixture(t, defaultParams())
	f.clock.Advance(31 * 24 * time.Hour)

	if _, err := f.signer.Sign(context.Background(), Request{MessageHash: messageHash(1)}); !signerr.Is(err, signerr.KindDiskExpired) {
		t.Errorf("Sign on expired disk: got %v, want DiskExpired", err)
	}
}

func TestSignReconciliationBound(t *testing.T) {
	params := defaultParams()
	params.maxUses = 2
	f := buildFixture(t, params)

	mustSign(t, f, messageHash(1))
	mustSign(t, f, messageHash(2))

	// The bound is checked before any slot is touched: the third sign
	// must fail and leave slot 2 fresh.
	if _, err := f.signer.Sign(context.Background(), Request{MessageHash: messageHash(3)}); !signerr.Is(err, signerr.KindReconciliationRequired) {
		t.Errorf("Sign past reconciliation bound: got %v, want ReconciliationRequired", err)
	}
	f.signer.Close()

	file, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer file.Close()
	if got := file.Slots()[2].Status; got != diskimage.SlotFresh {
		t.Errorf("slot 2 status = %s, want fresh", got)
	}
	if len(file.Log()) != 2 {
		t.Errorf("log has %d records, want 2", len(file.Log()))
	}
}

func TestSignExhaustion(t *testing.T) {
	params := defaultParams()
	params.slots = 2
	f := buildFixture(t, params)

	mustSign(t, f, messageHash(1))
	mustSign(t, f, messageHash(2))

	_, err := f.signer.Sign(context.Background(), Request{MessageHash: messageHash(3)})
	if !signerr.Is(err, signerr.KindNoPresigsRemaining) {
		t.Fatalf("Sign on exhausted disk: got %v, want NoPresigsRemaining", err)
	}
}

func TestSignMissingShareLeavesSlotFresh(t *testing.T) {
	params := defaultParams()
	params.shareSlots = []uint32{0}
	f := buildFixture(t, params)

	mustSign(t, f, messageHash(1))

	// Slot 1 has no agent share: the sign fails and the slot must not
	// be consumed.
	if _, err := f.signer.Sign(context.Background(), Request{MessageHash: messageHash(2)}); !signerr.Is(err, signerr.KindShareNotFound) {
		t.Errorf("Sign without share: got %v, want ShareNotFound", err)
	}
	f.signer.Close()

	file, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer file.Close()
	if got := file.Slots()[1].Status; got != diskimage.SlotFresh {
		t.Errorf("slot 1 status = %s, want fresh", got)
	}
}

func TestSignBusyUnderContention(t *testing.T) {
	f := buildFixture(t, defaultParams())

	release, err := f.signer.acquireChild(f.childID)
	if err != nil {
		t.Fatalf("acquireChild: %v", err)
	}
	defer release()

	if _, err := f.signer.Sign(context.Background(), Request{MessageHash: messageHash(1)}); !signerr.Is(err, signerr.KindBusy) {
		t.Errorf("Sign under contention: got %v, want Busy", err)
	}
}

func TestConcurrentSignsConsumeOnePresig(t *testing.T) {
	params := defaultParams()
	params.slots = 1
	f := buildFixture(t, params)

	// Race real Sign calls at a single remaining slot. Exactly one may
	// win; the rest fail with Busy (lock held) or NoPresigsRemaining
	// (arrived after the winner committed). Never two signatures.
	const callers = 8
	start := make(chan struct{})
	errs := make(chan error, callers)
	var group sync.WaitGroup
	for i := 0; i < callers; i++ {
		group.Add(1)
		go func(seed byte) {
			defer group.Done()
			<-start
			_, err := f.signer.Sign(context.Background(), Request{
				MessageHash: messageHash(seed),
				ChainID:     1,
			})
			errs <- err
		}(byte(i + 1))
	}
	close(start)
	group.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case signerr.Is(err, signerr.KindBusy):
		case signerr.Is(err, signerr.KindNoPresigsRemaining):
		default:
			t.Errorf("unexpected error under contention: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d signs succeeded, want exactly 1", succeeded)
	}
	f.signer.Close()

	file, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer file.Close()
	if got := file.Slots()[0].Status; got != diskimage.SlotUsed {
		t.Errorf("slot 0 status = %s, want used", got)
	}
	if file.Header().PresigUsed != 1 {
		t.Errorf("presig_used = %d, want 1", file.Header().PresigUsed)
	}
	if len(file.Log()) != 1 {
		t.Errorf("log has %d records, want 1", len(file.Log()))
	}
}

func TestSignCancelledContext(t *testing.T) {
	f := buildFixture(t, defaultParams())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.signer.Sign(ctx, Request{MessageHash: messageHash(1)}); err == nil {
		t.Fatal("Sign with cancelled context succeeded")
	}
	f.signer.Close()

	file, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer file.Close()
	if got := file.Slots()[0].Status; got != diskimage.SlotFresh {
		t.Errorf("slot 0 status = %s, want fresh after cancellation", got)
	}
}

func TestUpdateTxHash(t *testing.T) {
	f := buildFixture(t, defaultParams())
	result := mustSign(t, f, messageHash(1))

	txHash := messageHash(0x55)
	if err := f.signer.UpdateTxHash(result.PresigIndex, txHash); err != nil {
		t.Fatalf("UpdateTxHash: %v", err)
	}

	// Same hash again is a no-op; a different hash conflicts.
	if err := f.signer.UpdateTxHash(result.PresigIndex, txHash); err != nil {
		t.Errorf("repeat UpdateTxHash: %v", err)
	}
	if err := f.signer.UpdateTxHash(result.PresigIndex, messageHash(9)); !signerr.Is(err, signerr.KindConflict) {
		t.Errorf("conflicting UpdateTxHash: got %v, want Conflict", err)
	}

	if err := f.signer.UpdateTxHash(99, txHash); !signerr.Is(err, signerr.KindNotFound) {
		t.Errorf("UpdateTxHash unknown index: got %v, want NotFound", err)
	}
	f.signer.Close()

	file, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer file.Close()
	if file.Log()[0].TxHash != txHash {
		t.Error("tx hash not persisted")
	}
}

func TestRecoveryRollsForward(t *testing.T) {
	f := buildFixture(t, defaultParams())
	mustSign(t, f, messageHash(1))
	f.signer.Close()

	// Simulate a crash between the two commit phases: the log record
	// exists but the slot is back to Fresh and the counters unset.
	file, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := file.WriteSlotStatus(0, diskimage.SlotFresh); err != nil {
		t.Fatalf("WriteSlotStatus: %v", err)
	}
	if err := file.WriteCounters(0, 0); err != nil {
		t.Fatalf("WriteCounters: %v", err)
	}
	file.Close()

	status := f.signer.Status()
	if status.State != StateReady {
		t.Fatalf("state after recovery = %s (%s), want ready", status.State, status.Reason)
	}
	if status.PresigsRemaining != 3 {
		t.Errorf("remaining after recovery = %d, want 3", status.PresigsRemaining)
	}
	f.signer.Close()

	repaired, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer repaired.Close()
	if got := repaired.Slots()[0].Status; got != diskimage.SlotUsed {
		t.Errorf("slot 0 status = %s, want used after roll forward", got)
	}
	if repaired.Header().PresigUsed != 1 || repaired.Header().UsesSinceReconcile != 1 {
		t.Errorf("counters = %d/%d, want 1/1",
			repaired.Header().PresigUsed, repaired.Header().UsesSinceReconcile)
	}
}

func TestRecoveryRefusesUsedSlotWithoutRecord(t *testing.T) {
	f := buildFixture(t, defaultParams())

	file, err := diskimage.OpenFile(f.path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := file.WriteSlotStatus(1, diskimage.SlotUsed); err != nil {
		t.Fatalf("WriteSlotStatus: %v", err)
	}
	file.Close()

	status := f.signer.Status()
	if status.State != StateDiskInvalid {
		t.Fatalf("state = %s, want disk_invalid", status.State)
	}
	if _, err := f.signer.Sign(context.Background(), Request{MessageHash: messageHash(1)}); !signerr.Is(err, signerr.KindInconsistentDisk) {
		t.Errorf("Sign on inconsistent disk: got %v, want InconsistentDisk", err)
	}
}

func TestStatusStates(t *testing.T) {
	f := buildFixture(t, defaultParams())

	status := f.signer.Status()
	if status.State != StateReady || !status.Valid || !status.Detected {
		t.Errorf("status = %+v, want ready and valid", status)
	}
	if status.ChildID != f.childID {
		t.Error("status child id mismatch")
	}
	if status.PresigsTotal != 4 || status.PresigsRemaining != 4 {
		t.Errorf("presigs = %d/%d, want 4/4", status.PresigsRemaining, status.PresigsTotal)
	}
	if status.DaysUntilExpiry != 30 {
		t.Errorf("days until expiry = %d, want 30", status.DaysUntilExpiry)
	}

	// Expiry flips is_valid exactly at the boundary.
	f.clock.Advance(30 * 24 * time.Hour)
	status = f.signer.Status()
	if status.State != StateReady || status.Valid {
		t.Errorf("status at expiry = %+v, want ready but invalid", status)
	}
	if status.Reason == "" {
		t.Error("invalid status carries no reason")
	}

	f.source.set(diskwatch.Snapshot{})
	status = f.signer.Status()
	if status.State != StateWaitingForDisk || status.Detected {
		t.Errorf("status without disk = %+v, want waiting_for_disk", status)
	}
}

func TestPresigCount(t *testing.T) {
	f := buildFixture(t, defaultParams())
	mustSign(t, f, messageHash(1))

	remaining, total, err := f.signer.PresigCount()
	if err != nil {
		t.Fatalf("PresigCount: %v", err)
	}
	if remaining != 3 || total != 4 {
		t.Errorf("PresigCount = %d/%d, want 3/4", remaining, total)
	}

	f.source.set(diskwatch.Snapshot{})
	if _, _, err := f.signer.PresigCount(); !signerr.Is(err, signerr.KindNoDiskDetected) {
		t.Errorf("PresigCount without disk: got %v, want NoDiskDetected", err)
	}
}

func TestListChildren(t *testing.T) {
	f := buildFixture(t, defaultParams())
	mustSign(t, f, messageHash(1))

	children := f.signer.ListChildren()
	if len(children) != 1 {
		t.Fatalf("ListChildren returned %d entries, want 1", len(children))
	}
	child := children[0]
	if child.ChildID != f.childID || !child.Inserted {
		t.Errorf("child entry = %+v", child)
	}
	if child.SharesTotal != 4 || child.SharesAvailable != 3 {
		t.Errorf("shares = %d/%d, want 3/4 available", child.SharesAvailable, child.SharesTotal)
	}
}

func TestSessionReopensOnDiskSwap(t *testing.T) {
	first := buildFixture(t, defaultParams())
	mustSign(t, first, messageHash(1))

	// Remove and re-insert the disk: the signer must drop the stale
	// session and reopen cleanly.
	first.source.set(diskwatch.Snapshot{})
	if _, _, err := first.signer.PresigCount(); !signerr.Is(err, signerr.KindNoDiskDetected) {
		t.Fatalf("PresigCount after removal: %v", err)
	}
	first.source.set(diskwatch.Snapshot{Present: true, Path: first.path, MountedAt: testEpoch})

	remaining, _, err := first.signer.PresigCount()
	if err != nil {
		t.Fatalf("PresigCount after re-insert: %v", err)
	}
	if remaining != 3 {
		t.Errorf("remaining after re-insert = %d, want 3", remaining)
	}
}
