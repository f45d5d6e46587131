// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Sigil-mother is the offline authority CLI. It holds the ed25519 key
// that child disk headers are signed with and the per-child key
// material needed for refills. It must never run on the machine that
// runs sigil-daemon.
//
// State lives in a single directory (--state, default
// $SIGIL_MOTHER_STATE or ~/.local/state/sigil-mother) containing the
// signing key, the mother's age identity, the child registry, and the
// retained child secrets.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chippr-robotics/sigil-sub001/lib/cli"
	"github.com/chippr-robotics/sigil-sub001/lib/clock"
	"github.com/chippr-robotics/sigil-sub001/lib/mother"
	"github.com/chippr-robotics/sigil-sub001/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cli.Command{
		Name: "sigil-mother",
		Description: `sigil-mother: offline authority for sigil child disks.

Mints child disks and agent-share bundles, audits returned disks, and
revokes compromised children. Keep the state directory offline.`,
		Subcommands: []*cli.Command{
			initCommand(),
			createChildCommand(),
			reconcileCommand(),
			refillCommand(),
			nullifyCommand(),
			showCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("sigil-mother %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Create the authority and print its verification key",
				Command:     "sigil-mother init",
			},
			{
				Description: "Mint a child disk with 500 presignatures, valid 90 days",
				Command:     "sigil-mother create-child --presigs 500 --validity 2160h --max-uses 100 --recipient age1... --disk-out child.disk --bundle-out child.bundle",
			},
			{
				Description: "Audit a returned disk and reset its reconciliation counter",
				Command:     "sigil-mother reconcile --next-deadline 720h /media/usb/sigil.disk",
			},
		},
	}
	return root.Execute(os.Args[1:])
}

// defaultStateDir resolves the authority state directory from the
// environment, falling back to a per-user default.
func defaultStateDir() string {
	if fromEnv := os.Getenv("SIGIL_MOTHER_STATE"); fromEnv != "" {
		return fromEnv
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "state", "sigil-mother")
}

// openAuthority opens (or initializes) the authority at stateDir.
// Log output goes to stderr so command output stays parseable.
func openAuthority(stateDir string) (*mother.Authority, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return mother.Open(stateDir, clock.Real(), logger)
}
