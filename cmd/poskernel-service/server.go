// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pos-kernel/poskernel/lib/clock"
	"github.com/pos-kernel/poskernel/lib/metrics"
	"github.com/pos-kernel/poskernel/lib/protocol"
)

// handlerFunc processes one request's parameters and returns a result
// value for the response envelope, or a protocol error.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, *protocol.Error)

// Server serves the JSON-line protocol on a Unix socket. Connections
// are persistent: each one carries any number of request-response
// cycles, processed strictly in order. Handlers are registered with
// Handle before calling Serve.
type Server struct {
	socketPath    string
	handlers      map[string]handlerFunc
	logger        *slog.Logger
	clock         clock.Clock
	collector     *metrics.Collector
	shutdownGrace time.Duration

	// slots caps concurrently serviced connections. An accepted
	// connection waits for a slot rather than being turned away;
	// the socket backlog is the queue.
	slots chan struct{}

	active      atomic.Int64
	connections sync.WaitGroup

	// connMu guards the open-connection set used to force-close
	// stragglers when the shutdown grace period elapses.
	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// ServerConfig holds the parameters for NewServer.
type ServerConfig struct {
	SocketPath     string
	MaxConnections int
	ShutdownGrace  time.Duration
	Clock          clock.Clock
	Collector      *metrics.Collector
	Logger         *slog.Logger
}

// NewServer creates a server that will listen on cfg.SocketPath.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		socketPath:    cfg.SocketPath,
		handlers:      make(map[string]handlerFunc),
		logger:        cfg.Logger,
		clock:         cfg.Clock,
		collector:     cfg.Collector,
		shutdownGrace: cfg.ShutdownGrace,
		slots:         make(chan struct{}, cfg.MaxConnections),
		conns:         make(map[net.Conn]struct{}),
	}
}

// Handle registers a handler for the given method. Panics on a
// duplicate registration.
func (s *Server) Handle(method string, handler handlerFunc) {
	if _, exists := s.handlers[method]; exists {
		panic(fmt.Sprintf("poskernel-service: duplicate handler for method %q", method))
	}
	s.handlers[method] = handler
}

// checkCoverage panics unless the registered handlers cover exactly
// the canonical method list. Catches a new method constant with no
// handler (or a typo'd registration) at startup.
func (s *Server) checkCoverage() {
	for _, method := range protocol.Methods() {
		if _, exists := s.handlers[method]; !exists {
			panic(fmt.Sprintf("poskernel-service: no handler for method %q", method))
		}
	}
	if len(s.handlers) != len(protocol.Methods()) {
		panic(fmt.Sprintf("poskernel-service: %d handlers registered for %d methods",
			len(s.handlers), len(protocol.Methods())))
	}
}

// ActiveConnections returns the number of connections currently being
// serviced.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Serve accepts connections on the Unix socket until ctx is
// cancelled, then stops accepting, waits up to the shutdown grace
// period for in-flight connections to drain, and force-closes
// whatever remains.
//
// Any stale socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	s.checkCoverage()

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

	s.logger.Info("kernel service listening", "path", s.socketPath)

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

		select {
		case s.slots <- struct{}{}:
		default:
			// All slots busy. The connection waits its turn rather
			// than being turned away.
			s.logger.Debug("connection queued for a slot", "active", s.active.Load())
			select {
			case s.slots <- struct{}{}:
			case <-ctx.Done():
				conn.Close()
				continue
			}
		}

		s.trackConn(conn, true)
		s.connections.Add(1)
		s.active.Add(1)
		go func() {
			defer func() {
				s.trackConn(conn, false)
				s.active.Add(-1)
				s.connections.Done()
				<-s.slots
			}()
			s.handleConnection(ctx, conn)
		}()
	}

	return s.drain()
}

// drain waits for in-flight connections, force-closing them if the
// grace period elapses first.
func (s *Server) drain() error {
	done := make(chan struct{})
	go func() {
		s.connections.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-s.clock.After(s.shutdownGrace):
	}

	s.connMu.Lock()
	remaining := len(s.conns)
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.logger.Warn("shutdown grace elapsed, closing connections", "remaining", remaining)
	<-done
	return nil
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// handleConnection runs the request loop for one connection. Requests
// are processed strictly in arrival order; a response is written
// before the next request is read. Malformed and oversized requests
// produce a bad_request response and the loop continues; only a
// transport error ends the connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	lines := protocol.NewLineReader(conn)
	for {
		line, err := lines.ReadLine()
		if errors.Is(err, protocol.ErrLineTooLong) {
			s.writeFailure(conn, "", protocol.ErrBadRequest,
				fmt.Sprintf("request exceeds %d bytes", protocol.MaxLineLength))
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection read failed", "error", err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		var request protocol.Request
		if err := json.Unmarshal(line, &request); err != nil {
			s.writeFailure(conn, "", protocol.ErrBadRequest, fmt.Sprintf("invalid envelope: %v", err))
			continue
		}
		if request.Method == "" {
			s.writeFailure(conn, request.ID, protocol.ErrBadRequest, "missing required field: method")
			continue
		}

		handler, exists := s.handlers[request.Method]
		if !exists {
			s.writeFailure(conn, request.ID, protocol.ErrBadRequest, fmt.Sprintf("unknown method %q", request.Method))
			continue
		}

		started := s.clock.Now()
		result, failure := s.dispatch(ctx, handler, request)
		s.collector.Record(request.Method, failure != nil, s.clock.Now().Sub(started))

		if failure != nil {
			s.logger.Debug("method failed",
				"method", request.Method,
				"code", failure.Code,
				"error", failure.Message,
			)
			s.writeFailure(conn, request.ID, failure.Code, failure.Message)
			continue
		}
		s.writeSuccess(conn, request.ID, result)
	}
}

// dispatch invokes a handler, converting a panic into an internal
// error so one bad request cannot take the connection loop down.
func (s *Server) dispatch(ctx context.Context, handler handlerFunc, request protocol.Request) (result any, failure *protocol.Error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("handler panic",
				"method", request.Method,
				"panic", recovered,
			)
			result = nil
			failure = &protocol.Error{Code: protocol.ErrInternal, Message: "internal error"}
		}
	}()
	return handler(ctx, request.Params)
}

func (s *Server) writeSuccess(conn net.Conn, id string, result any) {
	encoded, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("encoding result failed", "error", err)
		s.writeFailure(conn, id, protocol.ErrInternal, "internal error")
		return
	}
	s.writeResponse(conn, protocol.Response{ID: id, Result: encoded})
}

func (s *Server) writeFailure(conn net.Conn, id string, code protocol.ErrorCode, message string) {
	s.writeResponse(conn, protocol.Response{ID: id, Error: &protocol.Error{Code: code, Message: message}})
}

// writeResponse sends one envelope. Write failures are logged at
// debug level; the read loop will notice the dead connection on its
// next Scan.
func (s *Server) writeResponse(conn net.Conn, response protocol.Response) {
	if err := protocol.WriteEnvelope(conn, response); err != nil {
		s.logger.Debug("writing response failed", "error", err)
	}
}
