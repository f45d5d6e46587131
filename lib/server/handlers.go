// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chippr-robotics/sigil-sub001/lib/clock"
	"github.com/chippr-robotics/sigil-sub001/lib/diskwatch"
	"github.com/chippr-robotics/sigil-sub001/lib/ipc"
	"github.com/chippr-robotics/sigil-sub001/lib/signer"
)

// Backend is the signing surface the server exposes over IPC.
// Satisfied by *signer.Signer.
type Backend interface {
	Sign(ctx context.Context, request signer.Request) (*signer.Result, error)
	UpdateTxHash(presigIndex uint32, txHash [32]byte) error
	PresigCount() (remaining, total uint32, err error)
	Status() signer.Status
	ListChildren() []signer.ChildInfo
	ImportShares(bundle []byte, replace bool) ([32]byte, error)
}

// EventSource streams disk insertion and removal events. Satisfied by
// *diskwatch.Watcher.
type EventSource interface {
	Subscribe() (<-chan diskwatch.Event, func())
}

// Options configures the daemon server.
type Options struct {
	SocketPath string

	// Version is reported in Pong responses.
	Version string

	// SignTimeout bounds each Sign request. Zero means no bound.
	SignTimeout time.Duration

	// Clock drives the uptime reported by Ping. Defaults to the real
	// clock.
	Clock clock.Clock
}

// New builds the daemon's socket server with every protocol request
// wired to the backend.
func New(options Options, backend Backend, events EventSource, logger *slog.Logger) *SocketServer {
	server := NewSocketServer(options.SocketPath, logger)
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	startedAt := options.Clock.Now()

	server.Handle(ipc.TypePing, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return ipc.Pong{
			Type:          ipc.TypePong,
			Version:       options.Version,
			UptimeSeconds: int64(options.Clock.Now().Sub(startedAt) / time.Second),
		}, nil
	})

	server.Handle(ipc.TypeGetDiskStatus, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return diskStatusView(backend.Status()), nil
	})

	server.Handle(ipc.TypeSign, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var request ipc.SignRequest
		if err := json.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid Sign request: %w", err)
		}
		messageHash, err := ipc.ParseHash32("message_hash", request.MessageHash)
		if err != nil {
			return nil, err
		}

		if options.SignTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, options.SignTimeout)
			defer cancel()
		}

		result, err := backend.Sign(ctx, signer.Request{
			MessageHash: messageHash,
			ChainID:     request.ChainID,
			Description: request.Description,
		})
		if err != nil {
			return nil, err
		}
		return ipc.SignResult{
			Type:             ipc.TypeSignResult,
			ChildID:          ipc.Hex(result.ChildID[:]),
			PresigIndex:      result.PresigIndex,
			Scheme:           result.Scheme.String(),
			Signature:        ipc.Hex(result.Signature[:]),
			ProofHash:        ipc.Hex(result.ProofHash[:]),
			Timestamp:        result.Timestamp,
			PresigsRemaining: result.Remaining,
		}, nil
	})

	server.Handle(ipc.TypeUpdateTxHash, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var request ipc.UpdateTxHashRequest
		if err := json.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid UpdateTxHash request: %w", err)
		}
		txHash, err := ipc.ParseHash32("tx_hash", request.TxHash)
		if err != nil {
			return nil, err
		}
		if err := backend.UpdateTxHash(request.PresigIndex, txHash); err != nil {
			return nil, err
		}
		return ipc.Ack{Type: ipc.TypeAck}, nil
	})

	server.Handle(ipc.TypeGetPresigCount, func(ctx context.Context, raw json.RawMessage) (any, error) {
		remaining, total, err := backend.PresigCount()
		if err != nil {
			return nil, err
		}
		return ipc.PresigCount{Type: ipc.TypePresigCount, Remaining: remaining, Total: total}, nil
	})

	server.Handle(ipc.TypeListChildren, func(ctx context.Context, raw json.RawMessage) (any, error) {
		children := backend.ListChildren()
		entries := make([]ipc.ChildEntry, 0, len(children))
		for _, child := range children {
			entries = append(entries, ipc.ChildEntry{
				ChildID:         ipc.Hex(child.ChildID[:]),
				SharesTotal:     child.SharesTotal,
				SharesAvailable: child.SharesAvailable,
				Inserted:        child.Inserted,
			})
		}
		return ipc.Children{Type: ipc.TypeChildren, Children: entries}, nil
	})

	server.Handle(ipc.TypeImportShares, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var request ipc.ImportSharesRequest
		if err := json.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid ImportShares request: %w", err)
		}
		bundle, err := hex.DecodeString(request.Bundle)
		if err != nil {
			return nil, fmt.Errorf("field bundle is not valid hex: %w", err)
		}
		childID, err := backend.ImportShares(bundle, request.Replace)
		if err != nil {
			return nil, err
		}
		return ipc.Imported{Type: ipc.TypeImported, ChildID: ipc.Hex(childID[:])}, nil
	})

	server.HandleStream(ipc.TypeWatchDisk, func(ctx context.Context, raw json.RawMessage, send func(any) error) error {
		eventChannel, cancel := events.Subscribe()
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-eventChannel:
				if !ok {
					return nil
				}
				message := ipc.DiskEvent{
					Type:    ipc.TypeDiskEvent,
					Event:   string(event.Type),
					ChildID: event.ChildID,
				}
				if err := send(message); err != nil {
					// Client disconnected.
					return nil
				}
			}
		}
	})

	return server
}

// diskStatusView maps the signer's status onto the wire shape.
func diskStatusView(status signer.Status) ipc.DiskStatus {
	view := ipc.DiskStatus{
		Type:                   ipc.TypeDiskStatus,
		Detected:               status.Detected,
		State:                  string(status.State),
		PresigsRemaining:       status.PresigsRemaining,
		PresigsTotal:           status.PresigsTotal,
		UsesSinceReconcile:     status.UsesSinceReconcile,
		MaxUsesBeforeReconcile: status.MaxUsesBeforeReconcile,
		ExpiresAt:              status.ExpiresAt,
		DaysUntilExpiry:        status.DaysUntilExpiry,
		IsValid:                status.Valid,
		Reason:                 status.Reason,
	}
	if status.State == signer.StateReady {
		view.ChildID = ipc.Hex(status.ChildID[:])
		view.Scheme = status.Scheme.String()
	}
	return view
}
