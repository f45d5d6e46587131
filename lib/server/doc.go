// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package server serves the daemon's IPC protocol on a Unix socket.
//
// The protocol is line-delimited JSON as defined by lib/ipc. A
// connection carries any number of request-response cycles; a
// WatchDisk request switches it into streaming mode until the client
// disconnects. Failures become Error responses on the same line
// protocol, never a dropped connection.
//
// Serve blocks until its context is cancelled, then stops accepting,
// waits for in-flight handlers, and removes the socket file.
package server
