// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Sigil-call is a minimal client for the sigil-daemon socket, for use
// from scripts and tests. Each invocation sends one request and prints
// the daemon's JSON response on stdout; watch-disk streams responses
// until interrupted.
//
// The socket path comes from --socket or SIGIL_SOCKET, defaulting to
// /run/sigil/sigil.sock.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/spf13/pflag"

	"github.com/chippr-robotics/sigil-sub001/lib/cli"
	"github.com/chippr-robotics/sigil-sub001/lib/ipc"
	"github.com/chippr-robotics/sigil-sub001/lib/version"
)

const defaultSocketPath = "/run/sigil/sigil.sock"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cli.Command{
		Name:    "sigil-call",
		Summary: "Send one request to the sigil-daemon socket",
		Description: `sigil-call: command-line client for the sigil-daemon IPC socket.

Each subcommand sends a single request and prints the JSON response.`,
		Subcommands: []*cli.Command{
			pingCommand(),
			statusCommand(),
			signCommand(),
			updateTxHashCommand(),
			presigCountCommand(),
			listChildrenCommand(),
			watchDiskCommand(),
			importSharesCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("sigil-call %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Check the daemon and disk state",
				Command:     "sigil-call status",
			},
			{
				Description: "Sign a 32-byte message hash",
				Command:     "sigil-call sign --message-hash 9f86d0... --chain-id 1 --description 'payout batch 7'",
			},
			{
				Description: "Stream disk insertion and removal events",
				Command:     "sigil-call watch-disk",
			},
		},
	}
	return root.Execute(os.Args[1:])
}

// socketFlag registers the shared --socket flag on a flag set.
func socketFlag(flags *pflag.FlagSet, socketPath *string) {
	fallback := os.Getenv("SIGIL_SOCKET")
	if fallback == "" {
		fallback = defaultSocketPath
	}
	flags.StringVar(socketPath, "socket", fallback, "daemon socket path")
}

// call sends one request and prints the single response line. An Error
// response becomes a non-zero exit.
func call(socketPath string, request any) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connecting to daemon at %s: %w", socketPath, err)
	}
	defer conn.Close()

	encoded, err := json.Marshal(request)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return printResponse(line)
}

// printResponse echoes a response line to stdout, or reports a daemon
// error on stderr.
func printResponse(line []byte) error {
	var envelope ipc.Envelope
	if err := json.Unmarshal(line, &envelope); err != nil {
		return fmt.Errorf("unparseable response: %w", err)
	}
	if envelope.Type == ipc.TypeError {
		var daemonError ipc.Error
		if err := json.Unmarshal(line, &daemonError); err != nil {
			return fmt.Errorf("unparseable error response: %w", err)
		}
		if daemonError.Remedy != "" {
			return fmt.Errorf("%s: %s (%s)", daemonError.Kind, daemonError.Message, daemonError.Remedy)
		}
		return fmt.Errorf("%s: %s", daemonError.Kind, daemonError.Message)
	}
	_, err := os.Stdout.Write(line)
	return err
}

func pingCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "ping",
		Summary: "Check the daemon is alive",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("ping", pflag.ContinueOnError)
			socketFlag(flags, &socketPath)
			return flags
		},
		Run: func(args []string) error {
			return call(socketPath, ipc.PingRequest{Type: ipc.TypePing})
		},
	}
}

func statusCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "status",
		Summary: "Report disk presence, validity, and presignature counts",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
			socketFlag(flags, &socketPath)
			return flags
		},
		Run: func(args []string) error {
			return call(socketPath, ipc.GetDiskStatusRequest{Type: ipc.TypeGetDiskStatus})
		},
	}
}

func signCommand() *cli.Command {
	var (
		socketPath  string
		messageHash string
		chainID     uint32
		description string
	)
	return &cli.Command{
		Name:    "sign",
		Summary: "Sign a 32-byte message hash, consuming one presignature",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("sign", pflag.ContinueOnError)
			socketFlag(flags, &socketPath)
			flags.StringVar(&messageHash, "message-hash", "", "hex digest to sign (required)")
			flags.Uint32Var(&chainID, "chain-id", 0, "chain identifier recorded in the usage log")
			flags.StringVar(&description, "description", "", "human-readable audit description")
			return flags
		},
		Run: func(args []string) error {
			if messageHash == "" {
				return fmt.Errorf("--message-hash is required")
			}
			return call(socketPath, ipc.SignRequest{
				Type:        ipc.TypeSign,
				MessageHash: messageHash,
				ChainID:     chainID,
				Description: description,
			})
		},
	}
}

func updateTxHashCommand() *cli.Command {
	var (
		socketPath  string
		presigIndex uint32
		txHash      string
	)
	return &cli.Command{
		Name:    "update-tx-hash",
		Summary: "Record the broadcast transaction hash for a consumed presignature",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("update-tx-hash", pflag.ContinueOnError)
			socketFlag(flags, &socketPath)
			flags.Uint32Var(&presigIndex, "index", 0, "presignature index from the sign result")
			flags.StringVar(&txHash, "tx-hash", "", "hex transaction hash (required)")
			return flags
		},
		Run: func(args []string) error {
			if txHash == "" {
				return fmt.Errorf("--tx-hash is required")
			}
			return call(socketPath, ipc.UpdateTxHashRequest{
				Type:        ipc.TypeUpdateTxHash,
				PresigIndex: presigIndex,
				TxHash:      txHash,
			})
		},
	}
}

func presigCountCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "presig-count",
		Summary: "Report remaining and total presignatures on the inserted disk",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("presig-count", pflag.ContinueOnError)
			socketFlag(flags, &socketPath)
			return flags
		},
		Run: func(args []string) error {
			return call(socketPath, ipc.GetPresigCountRequest{Type: ipc.TypeGetPresigCount})
		},
	}
}

func listChildrenCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "list-children",
		Summary: "List children known to the agent store",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("list-children", pflag.ContinueOnError)
			socketFlag(flags, &socketPath)
			return flags
		},
		Run: func(args []string) error {
			return call(socketPath, ipc.ListChildrenRequest{Type: ipc.TypeListChildren})
		},
	}
}

func watchDiskCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "watch-disk",
		Summary: "Stream disk insertion and removal events until interrupted",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("watch-disk", pflag.ContinueOnError)
			socketFlag(flags, &socketPath)
			return flags
		},
		Run: func(args []string) error {
			conn, err := net.Dial("unix", socketPath)
			if err != nil {
				return fmt.Errorf("connecting to daemon at %s: %w", socketPath, err)
			}
			defer conn.Close()

			encoded, err := json.Marshal(ipc.WatchDiskRequest{Type: ipc.TypeWatchDisk})
			if err != nil {
				return err
			}
			if _, err := conn.Write(append(encoded, '\n')); err != nil {
				return fmt.Errorf("sending request: %w", err)
			}

			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}
				if err := printResponse(append(line, '\n')); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
}

func importSharesCommand() *cli.Command {
	var (
		socketPath string
		replace    bool
	)
	return &cli.Command{
		Name:    "import-shares",
		Summary: "Import an agent-share bundle file into the daemon's store",
		Usage:   "sigil-call import-shares [flags] <bundle-file>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("import-shares", pflag.ContinueOnError)
			socketFlag(flags, &socketPath)
			flags.BoolVar(&replace, "replace", false, "replace the child's existing shares instead of merging")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one bundle file argument")
			}
			bundle, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading bundle: %w", err)
			}
			return call(socketPath, ipc.ImportSharesRequest{
				Type:    ipc.TypeImportShares,
				Bundle:  ipc.Hex(bundle),
				Replace: replace,
			})
		},
	}
}
