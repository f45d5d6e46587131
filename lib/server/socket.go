// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/chippr-robotics/sigil-sub001/lib/ipc"
	"github.com/chippr-robotics/sigil-sub001/lib/signerr"
)

// HandlerFunc processes one request. The raw parameter is the full
// JSON request line (including the "type" field); the handler decodes
// its request-specific fields from it. The returned value is written
// back as one JSON line; returning an error produces an Error line
// instead.
type HandlerFunc func(ctx context.Context, raw json.RawMessage) (any, error)

// StreamFunc serves a streaming request. send writes one JSON line to
// the client; the function returns when the stream ends. After a
// stream handler returns the connection closes.
type StreamFunc func(ctx context.Context, raw json.RawMessage, send func(message any) error) error

// writeTimeout bounds each response line write.
const writeTimeout = 10 * time.Second

// maxRequestSize caps one request line. Sized for an ImportShares
// bundle of several thousand hex-encoded shares.
const maxRequestSize = 4 * 1024 * 1024

// SocketServer serves the line-delimited JSON protocol on a Unix
// socket. Register request types with Handle and HandleStream before
// calling Serve.
type SocketServer struct {
	socketPath string
	handlers   map[string]HandlerFunc
	streams    map[string]StreamFunc
	logger     *slog.Logger

	// activeConnections tracks in-flight connections for graceful
	// shutdown. Serve waits for all of them before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		streams:    make(map[string]StreamFunc),
		logger:     logger,
	}
}

// Handle registers a request-response handler. Panics on a duplicate
// registration.
func (s *SocketServer) Handle(requestType string, handler HandlerFunc) {
	if _, exists := s.handlers[requestType]; exists {
		panic(fmt.Sprintf("server.SocketServer: duplicate handler for request type %q", requestType))
	}
	s.handlers[requestType] = handler
}

// HandleStream registers a streaming handler. Panics on a duplicate
// registration.
func (s *SocketServer) HandleStream(requestType string, handler StreamFunc) {
	if _, exists := s.streams[requestType]; exists {
		panic(fmt.Sprintf("server.SocketServer: duplicate stream handler for request type %q", requestType))
	}
	s.streams[requestType] = handler
}

// Serve accepts connections until ctx is cancelled. Any stale socket
// file at the configured path is removed before listening, and the
// socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection serves request-response cycles until the client
// disconnects or a stream handler takes over the connection.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Close the connection when the server shuts down so the scanner
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var envelope ipc.Envelope
		if err := json.Unmarshal(line, &envelope); err != nil {
			s.writeError(conn, fmt.Errorf("invalid request: %w", err))
			continue
		}
		if envelope.Type == "" {
			s.writeError(conn, errors.New("missing required field: type"))
			continue
		}

		raw := json.RawMessage(append([]byte(nil), line...))

		if stream, exists := s.streams[envelope.Type]; exists {
			send := func(message any) error {
				return s.writeLine(conn, message)
			}
			if err := stream(ctx, raw, send); err != nil {
				s.writeError(conn, err)
			}
			return
		}

		handler, exists := s.handlers[envelope.Type]
		if !exists {
			s.writeError(conn, fmt.Errorf("unknown request type %q", envelope.Type))
			continue
		}

		result, err := handler(ctx, raw)
		if err != nil {
			s.logger.Debug("request failed",
				"request_type", envelope.Type,
				"error", err,
			)
			s.writeError(conn, err)
			continue
		}
		if err := s.writeLine(conn, result); err != nil {
			return
		}
	}
}

// writeLine encodes one JSON response line.
func (s *SocketServer) writeLine(conn net.Conn, message any) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(append(encoded, '\n')); err != nil {
		s.logger.Debug("failed to write response", "error", err)
		return err
	}
	return nil
}

// writeError sends an Error line. Classified signing errors carry
// their taxonomy kind, a verbatim message, and the remedy as its own
// field so clients can choose how to present it.
func (s *SocketServer) writeError(conn net.Conn, err error) {
	response := ipc.Error{
		Type: ipc.TypeError,
	}
	var classified *signerr.Error
	if errors.As(err, &classified) {
		response.Kind = string(classified.Kind)
		response.Message = classified.Message
		response.Remedy = classified.Remedy
	} else {
		response.Message = err.Error()
	}
	s.writeLine(conn, response)
}
