// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/chippr-robotics/sigil-sub001/lib/cli"
	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
	"github.com/chippr-robotics/sigil-sub001/lib/mother"
)

func parseScheme(name string) (diskimage.Scheme, error) {
	switch name {
	case "ecdsa":
		return diskimage.SchemeECDSA, nil
	case "schnorr":
		return diskimage.SchemeSchnorr, nil
	default:
		return 0, fmt.Errorf("unknown scheme %q (want ecdsa or schnorr)", name)
	}
}

func initCommand() *cli.Command {
	var stateDir string
	return &cli.Command{
		Name:    "init",
		Summary: "Initialize the authority state and print its verification key",
		Description: `Creates the authority state directory with a fresh signing key and
age identity (no-op if it already exists), then prints the ed25519
verification key daemons must configure as daemon.mother_public_key.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("init", pflag.ContinueOnError)
			flags.StringVar(&stateDir, "state", defaultStateDir(), "authority state directory")
			return flags
		},
		Run: func(args []string) error {
			authority, err := openAuthority(stateDir)
			if err != nil {
				return err
			}
			defer authority.Close()
			fmt.Printf("%s\n", hex.EncodeToString(authority.PublicKey()))
			return nil
		},
	}
}

func createChildCommand() *cli.Command {
	var (
		stateDir       string
		schemeName     string
		presigs        uint32
		validity       time.Duration
		maxUses        uint32
		reconcileEvery time.Duration
		recipients     []string
		diskOut        string
		bundleOut      string
	)
	return &cli.Command{
		Name:    "create-child",
		Summary: "Mint a new child disk and its agent-share bundle",
		Usage:   "sigil-mother create-child [flags]",
		Description: `Generates a child key, splits it into cold and agent halves across
the requested number of presignature slots, and writes two artifacts:
the disk image (cold halves, goes on the removable medium) and the
share bundle (agent halves, age-encrypted to each --recipient).`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("create-child", pflag.ContinueOnError)
			flags.StringVar(&stateDir, "state", defaultStateDir(), "authority state directory")
			flags.StringVar(&schemeName, "scheme", "ecdsa", "signature scheme (ecdsa or schnorr)")
			flags.Uint32Var(&presigs, "presigs", 100, "number of presignature slots")
			flags.DurationVar(&validity, "validity", 90*24*time.Hour, "disk validity window")
			flags.Uint32Var(&maxUses, "max-uses", 100, "signatures allowed between reconciliations")
			flags.DurationVar(&reconcileEvery, "reconcile-every", 0, "wall-clock reconciliation deadline (0 = none)")
			flags.StringArrayVar(&recipients, "recipient", nil, "age public key to encrypt the bundle to (repeatable, required)")
			flags.StringVar(&diskOut, "disk-out", "child.disk", "output path for the disk image")
			flags.StringVar(&bundleOut, "bundle-out", "child.bundle", "output path for the share bundle")
			return flags
		},
		Run: func(args []string) error {
			scheme, err := parseScheme(schemeName)
			if err != nil {
				return err
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}

			authority, err := openAuthority(stateDir)
			if err != nil {
				return err
			}
			defer authority.Close()

			minted, err := authority.CreateChild(mother.MintParams{
				Scheme:         scheme,
				PresigCount:    presigs,
				Validity:       validity,
				MaxUses:        maxUses,
				ReconcileEvery: reconcileEvery,
			}, recipients)
			if err != nil {
				return err
			}

			if err := os.WriteFile(diskOut, minted.DiskImage, 0600); err != nil {
				return fmt.Errorf("writing disk image: %w", err)
			}
			if err := os.WriteFile(bundleOut, minted.Bundle, 0600); err != nil {
				return fmt.Errorf("writing share bundle: %w", err)
			}
			fmt.Printf("%s\n", hex.EncodeToString(minted.ChildID[:]))
			return nil
		},
	}
}

func reconcileCommand() *cli.Command {
	var (
		stateDir     string
		nextDeadline time.Duration
	)
	return &cli.Command{
		Name:    "reconcile",
		Summary: "Audit a returned disk and reset its reconciliation counter",
		Usage:   "sigil-mother reconcile [flags] <disk>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("reconcile", pflag.ContinueOnError)
			flags.StringVar(&stateDir, "state", defaultStateDir(), "authority state directory")
			flags.DurationVar(&nextDeadline, "next-deadline", 0, "next reconciliation deadline from now (0 = clear)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one disk path argument")
			}
			authority, err := openAuthority(stateDir)
			if err != nil {
				return err
			}
			defer authority.Close()
			return authority.Reconcile(args[0], nextDeadline)
		},
	}
}

func refillCommand() *cli.Command {
	var (
		stateDir   string
		count      uint32
		recipients []string
		bundleOut  string
	)
	return &cli.Command{
		Name:    "refill",
		Summary: "Append fresh presignature slots to an existing disk",
		Usage:   "sigil-mother refill [flags] <disk>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("refill", pflag.ContinueOnError)
			flags.StringVar(&stateDir, "state", defaultStateDir(), "authority state directory")
			flags.Uint32Var(&count, "count", 100, "number of slots to append")
			flags.StringArrayVar(&recipients, "recipient", nil, "age public key to encrypt the bundle to (repeatable, required)")
			flags.StringVar(&bundleOut, "bundle-out", "refill.bundle", "output path for the share bundle")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one disk path argument")
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}
			authority, err := openAuthority(stateDir)
			if err != nil {
				return err
			}
			defer authority.Close()

			bundle, err := authority.Refill(args[0], count, recipients)
			if err != nil {
				return err
			}
			if err := os.WriteFile(bundleOut, bundle, 0600); err != nil {
				return fmt.Errorf("writing share bundle: %w", err)
			}
			return nil
		},
	}
}

func nullifyCommand() *cli.Command {
	var (
		stateDir string
		reason   string
		childID  string
	)
	return &cli.Command{
		Name:    "nullify",
		Summary: "Revoke a child: void its disk if in hand, or by identity if lost",
		Usage:   "sigil-mother nullify [flags] [disk]",
		Description: `With a disk path, voids every fresh slot, expires the disk, and
records the revocation in the registry. With --child-id instead, the
child is revoked in the registry alone; use this when the disk is lost
or stolen and cannot be brought back.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("nullify", pflag.ContinueOnError)
			flags.StringVar(&stateDir, "state", defaultStateDir(), "authority state directory")
			flags.StringVar(&reason, "reason", "", "revocation reason recorded in the registry")
			flags.StringVar(&childID, "child-id", "", "hex child identity to revoke without a disk")
			return flags
		},
		Run: func(args []string) error {
			authority, err := openAuthority(stateDir)
			if err != nil {
				return err
			}
			defer authority.Close()

			if childID != "" {
				if len(args) != 0 {
					return fmt.Errorf("--child-id and a disk path are mutually exclusive")
				}
				id, err := parseChildID(childID)
				if err != nil {
					return err
				}
				return authority.Revoke(id, reason)
			}
			if len(args) != 1 {
				return fmt.Errorf("expected a disk path argument or --child-id")
			}
			return authority.Nullify(args[0], reason)
		},
	}
}

func parseChildID(value string) ([32]byte, error) {
	var id [32]byte
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return id, fmt.Errorf("--child-id is not valid hex: %w", err)
	}
	if len(decoded) != 32 {
		return id, fmt.Errorf("--child-id is %d bytes, want 32", len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

func showCommand() *cli.Command {
	var stateDir string
	return &cli.Command{
		Name:    "show",
		Summary: "Inspect a disk, or list the child registry",
		Usage:   "sigil-mother show [flags] [disk]",
		Description: `With a disk path, verifies and prints the disk's header, slot
census, and usage log. Without one, lists every child in the
registry.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flags.StringVar(&stateDir, "state", defaultStateDir(), "authority state directory")
			return flags
		},
		Run: func(args []string) error {
			authority, err := openAuthority(stateDir)
			if err != nil {
				return err
			}
			defer authority.Close()

			if len(args) == 0 {
				return showRegistry(authority)
			}
			if len(args) != 1 {
				return fmt.Errorf("expected at most one disk path argument")
			}
			return showDisk(authority, args[0])
		},
	}
}

func showRegistry(authority *mother.Authority) error {
	children := authority.Children()
	ids := make([]string, 0, len(children))
	for id := range children {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		entry := children[id]
		status := "active"
		if entry.Revoked {
			status = fmt.Sprintf("revoked %s (%s)",
				time.Unix(entry.RevokedAt, 0).UTC().Format(time.RFC3339), entry.RevokeReason)
		}
		fmt.Printf("%s scheme=%d presigs=%d created=%s %s\n",
			id, entry.Scheme, entry.PresigTotal,
			time.Unix(entry.CreatedAt, 0).UTC().Format(time.RFC3339), status)
	}
	return nil
}

func showDisk(authority *mother.Authority, diskPath string) error {
	inspection, err := authority.Inspect(diskPath)
	if err != nil {
		return err
	}
	header := inspection.Header

	fmt.Printf("child_id:   %s\n", hex.EncodeToString(header.ChildID[:]))
	fmt.Printf("scheme:     %s\n", header.Scheme)
	fmt.Printf("created:    %s\n", time.Unix(header.CreatedAt, 0).UTC().Format(time.RFC3339))
	fmt.Printf("expires:    %s\n", time.Unix(header.ExpiresAt, 0).UTC().Format(time.RFC3339))
	if header.ReconcileDeadline != 0 {
		fmt.Printf("reconcile:  by %s\n", time.Unix(header.ReconcileDeadline, 0).UTC().Format(time.RFC3339))
	}
	fmt.Printf("slots:      %d fresh / %d used / %d voided (total %d)\n",
		inspection.Fresh, inspection.Used, inspection.Voided, header.PresigTotal)
	fmt.Printf("counters:   used=%d uses_since_reconcile=%d (max %d)\n",
		header.PresigUsed, header.UsesSinceReconcile, header.MaxUsesBeforeReconcile)
	if inspection.Revoked {
		fmt.Printf("revoked:    yes\n")
	}
	if inspection.AuditErr != nil {
		fmt.Printf("audit:      FAILED: %v\n", inspection.AuditErr)
	} else {
		fmt.Printf("audit:      ok\n")
	}

	for _, record := range inspection.Log {
		txHash := "-"
		if record.TxHash != [32]byte{} {
			txHash = hex.EncodeToString(record.TxHash[:])
		}
		fmt.Printf("  [%d] %s msg=%s tx=%s %q\n",
			record.PresigIndex,
			time.Unix(record.Timestamp, 0).UTC().Format(time.RFC3339),
			hex.EncodeToString(record.MessageHash[:8]),
			txHash,
			record.Description,
		)
	}
	return nil
}
