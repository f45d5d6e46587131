// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Request type discriminators.
const (
	TypePing           = "Ping"
	TypeGetDiskStatus  = "GetDiskStatus"
	TypeSign           = "Sign"
	TypeUpdateTxHash   = "UpdateTxHash"
	TypeGetPresigCount = "GetPresigCount"
	TypeListChildren   = "ListChildren"
	TypeWatchDisk      = "WatchDisk"
	TypeImportShares   = "ImportShares"
)

// Response type discriminators.
const (
	TypePong        = "Pong"
	TypeDiskStatus  = "DiskStatus"
	TypeSignResult  = "SignResult"
	TypeAck         = "Ack"
	TypePresigCount = "PresigCount"
	TypeChildren    = "Children"
	TypeDiskEvent   = "DiskEvent"
	TypeImported    = "Imported"
	TypeError       = "Error"
)

// Envelope carries just the discriminator, for routing.
type Envelope struct {
	Type string `json:"type"`
}

// PingRequest checks daemon liveness.
type PingRequest struct {
	Type string `json:"type"`
}

// Pong answers a Ping.
type Pong struct {
	Type    string `json:"type"`
	Version string `json:"version"`

	// UptimeSeconds is how long the daemon has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// SignRequest asks for one signature over a 32-byte message hash.
type SignRequest struct {
	Type        string `json:"type"`
	MessageHash string `json:"message_hash"`
	ChainID     uint32 `json:"chain_id"`
	Description string `json:"description,omitempty"`
}

// SignResult is the successful answer to a SignRequest.
type SignResult struct {
	Type             string `json:"type"`
	ChildID          string `json:"child_id"`
	PresigIndex      uint32 `json:"presig_index"`
	Scheme           string `json:"scheme"`
	Signature        string `json:"signature"`
	ProofHash        string `json:"proof_hash"`
	Timestamp        int64  `json:"timestamp"`
	PresigsRemaining uint32 `json:"presigs_remaining"`
}

// UpdateTxHashRequest records the broadcast transaction hash for an
// already-consumed presignature.
type UpdateTxHashRequest struct {
	Type        string `json:"type"`
	PresigIndex uint32 `json:"presig_index"`
	TxHash      string `json:"tx_hash"`
}

// Ack is the bare success answer for requests with no payload.
type Ack struct {
	Type string `json:"type"`
}

// GetDiskStatusRequest asks for the daemon's view of the current disk.
type GetDiskStatusRequest struct {
	Type string `json:"type"`
}

// DiskStatus answers GetDiskStatus.
type DiskStatus struct {
	Type     string `json:"type"`
	Detected bool   `json:"detected"`
	State    string `json:"state"`

	ChildID string `json:"child_id,omitempty"`
	Scheme  string `json:"scheme,omitempty"`

	PresigsRemaining uint32 `json:"presigs_remaining"`
	PresigsTotal     uint32 `json:"presigs_total"`

	UsesSinceReconcile     uint32 `json:"uses_since_reconcile"`
	MaxUsesBeforeReconcile uint32 `json:"max_uses_before_reconcile"`

	ExpiresAt       int64 `json:"expires_at,omitempty"`
	DaysUntilExpiry int64 `json:"days_until_expiry"`

	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason,omitempty"`
}

// GetPresigCountRequest asks for the remaining presignature count.
type GetPresigCountRequest struct {
	Type string `json:"type"`
}

// PresigCount answers GetPresigCount.
type PresigCount struct {
	Type      string `json:"type"`
	Remaining uint32 `json:"remaining"`
	Total     uint32 `json:"total"`
}

// ListChildrenRequest asks for every child identity the daemon holds
// shares for.
type ListChildrenRequest struct {
	Type string `json:"type"`
}

// ChildEntry is one element of Children.
type ChildEntry struct {
	ChildID         string `json:"child_id"`
	SharesTotal     int    `json:"shares_total"`
	SharesAvailable int    `json:"shares_available"`
	Inserted        bool   `json:"inserted"`
}

// Children answers ListChildren.
type Children struct {
	Type     string       `json:"type"`
	Children []ChildEntry `json:"children"`
}

// WatchDiskRequest switches the connection into streaming mode: the
// daemon sends a DiskEvent line for every insertion and removal until
// the client disconnects.
type WatchDiskRequest struct {
	Type string `json:"type"`
}

// DiskEvent is one streamed insertion or removal.
type DiskEvent struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	ChildID string `json:"child_id,omitempty"`
}

// ImportSharesRequest installs an encrypted agent share bundle.
type ImportSharesRequest struct {
	Type    string `json:"type"`
	Bundle  string `json:"bundle"`
	Replace bool   `json:"replace,omitempty"`
}

// Imported answers ImportShares with the child identity the bundle was
// minted for.
type Imported struct {
	Type    string `json:"type"`
	ChildID string `json:"child_id"`
}

// Error is the failure answer for any request. Message states what
// went wrong; Remedy, when present, tells the operator what to do
// about it.
type Error struct {
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Remedy  string `json:"remedy,omitempty"`
}

// ParseHash32 decodes a 32-byte hex field. An optional 0x prefix is
// accepted, since most chain tooling emits hashes with one.
func ParseHash32(field, value string) ([32]byte, error) {
	var out [32]byte
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		value = value[2:]
	}
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return out, fmt.Errorf("field %s is not valid hex: %w", field, err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("field %s is %d bytes, want 32", field, len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// Hex renders binary wire values.
func Hex(data []byte) string {
	return hex.EncodeToString(data)
}
