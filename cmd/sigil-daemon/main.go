// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Sigil-daemon is the online half of the signing system. It watches
// for the removable child disk, holds the daemon's agent shares, and
// serves signing requests over a Unix socket.
//
// The daemon never holds a complete signing key: each signature
// combines a cold scalar half read from the inserted disk with an
// agent half from the local share store. Without the disk the daemon
// can sign nothing.
//
// On startup:
//  1. Loads configuration (SIGIL_CONFIG or --config).
//  2. Loads or generates the daemon's age identity. Its public key is
//     logged so the operator can hand it to the mother for bundle
//     encryption.
//  3. Opens the agent-share store.
//  4. Starts the disk watcher on the configured mount pattern.
//  5. Serves the IPC socket until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chippr-robotics/sigil-sub001/lib/agentstore"
	"github.com/chippr-robotics/sigil-sub001/lib/clock"
	"github.com/chippr-robotics/sigil-sub001/lib/config"
	"github.com/chippr-robotics/sigil-sub001/lib/diskwatch"
	"github.com/chippr-robotics/sigil-sub001/lib/sealed"
	"github.com/chippr-robotics/sigil-sub001/lib/server"
	"github.com/chippr-robotics/sigil-sub001/lib/signer"
	"github.com/chippr-robotics/sigil-sub001/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to sigil.yaml (default: $SIGIL_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("sigil-daemon %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	motherKey, err := cfg.MotherKey()
	if err != nil {
		return err
	}

	identity, err := sealed.LoadOrGenerateIdentity(cfg.Paths.Identity)
	if err != nil {
		return fmt.Errorf("loading daemon identity: %w", err)
	}
	defer identity.Close()
	logger.Info("daemon identity ready", "public_key", identity.PublicKey)

	shares, err := agentstore.Open(cfg.Paths.Shares, identity, logger)
	if err != nil {
		return err
	}

	watcher, err := diskwatch.New(cfg.Disk.MountPattern, cfg.Debounce(), cfg.RescanInterval(), clock.Real(), logger)
	if err != nil {
		return fmt.Errorf("creating disk watcher: %w", err)
	}

	signing := signer.New(watcher, shares, motherKey, clock.Real(), logger)
	defer signing.Close()

	ipcServer := server.New(server.Options{
		SocketPath:  cfg.Daemon.SocketPath,
		Version:     version.Short(),
		SignTimeout: cfg.SignTimeout(),
	}, signing, watcher, logger)

	watcherDone := make(chan error, 1)
	go func() {
		watcherDone <- watcher.Run(ctx)
	}()

	logger.Info("sigil-daemon starting",
		"version", version.Info(),
		"socket", cfg.Daemon.SocketPath,
		"mount_pattern", cfg.Disk.MountPattern,
	)

	if err := ipcServer.Serve(ctx); err != nil {
		return fmt.Errorf("ipc server: %w", err)
	}
	if err := <-watcherDone; err != nil {
		return fmt.Errorf("disk watcher: %w", err)
	}
	logger.Info("sigil-daemon stopped")
	return nil
}
