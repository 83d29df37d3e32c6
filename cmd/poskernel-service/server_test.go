// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pos-kernel/poskernel/lib/client"
	"github.com/pos-kernel/poskernel/lib/clock"
	"github.com/pos-kernel/poskernel/lib/engine"
	"github.com/pos-kernel/poskernel/lib/health"
	"github.com/pos-kernel/poskernel/lib/journal"
	"github.com/pos-kernel/poskernel/lib/kernel"
	"github.com/pos-kernel/poskernel/lib/metrics"
	"github.com/pos-kernel/poskernel/lib/protocol"
	"github.com/pos-kernel/poskernel/lib/session"
	"github.com/pos-kernel/poskernel/lib/testutil"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type testService struct {
	socketPath string
	sessions   *session.Manager
	cancel     context.CancelFunc
	done       chan struct{}
	serveErr   error
}

// startService brings up a full service stack on a socket in a temp
// directory and tears it down when the test finishes.
func startService(t *testing.T, journalPath string) *testService {
	t.Helper()

	clk := clock.Real()
	logger := newTestLogger()
	socketPath := filepath.Join(t.TempDir(), "kernel.sock")

	sessions := session.NewManager(session.Config{
		IdleTimeout: time.Minute,
		Retention:   time.Hour,
		MaxSessions: 10,
		Clock:       clk,
		Logger:      logger,
	})

	var auditor kernel.Auditor
	if journalPath != "" {
		store, err := journal.Open(journal.Config{Path: journalPath, Clock: clk, Logger: logger})
		if err != nil {
			t.Fatalf("opening journal: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		auditor = store
	}

	orchestrator := kernel.New(kernel.Config{
		Sessions:   sessions,
		Engine:     engine.New(),
		Currencies: map[string]int{"SGD": 2, "JPY": 0},
		Auditor:    auditor,
		Logger:     logger,
	})

	collector := metrics.NewCollector(clk)
	server := NewServer(ServerConfig{
		SocketPath:     socketPath,
		MaxConnections: 4,
		ShutdownGrace:  time.Second,
		Clock:          clk,
		Collector:      collector,
		Logger:         logger,
	})
	checker := &health.Checker{
		Clock:             clk,
		StartedAt:         clk.Now(),
		Sessions:          sessions,
		JournalEnabled:    auditor != nil,
		ActiveConnections: server.ActiveConnections,
	}
	registerHandlers(server, &serviceHandlers{
		orchestrator: orchestrator,
		collector:    collector,
		checker:      checker,
	})

	ctx, cancel := context.WithCancel(context.Background())
	service := &testService{
		socketPath: socketPath,
		sessions:   sessions,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go func() {
		service.serveErr = server.Serve(ctx)
		close(service.done)
	}()

	waitForSocket(t, socketPath)

	t.Cleanup(func() {
		cancel()
		select {
		case <-service.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return service
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func dialService(t *testing.T, service *testService) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), service.socketPath)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEndToEndSale(t *testing.T) {
	service := startService(t, "")
	c := dialService(t, service)
	ctx := context.Background()

	created, err := c.CreateSession(ctx, "TERM-1", "alice")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.SessionID == "" {
		t.Fatal("empty session id")
	}

	txn, err := c.StartTransaction(ctx, created.SessionID, "SGD", "S1")
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}

	result, err := c.AddLineItem(ctx, created.SessionID, txn.TransactionID, "KOPI", 2, "1.80")
	if err != nil {
		t.Fatalf("AddLineItem: %v", err)
	}
	if result.Total != "3.60" {
		t.Errorf("total = %q, want 3.60", result.Total)
	}

	payment, err := c.ProcessPayment(ctx, created.SessionID, txn.TransactionID, "5.00", "cash")
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if payment.State != "Completed" || payment.Change != "1.40" {
		t.Errorf("payment = %+v", payment)
	}

	snapshot, err := c.GetTransaction(ctx, created.SessionID, txn.TransactionID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if len(snapshot.Lines) != 1 || snapshot.Lines[0].ProductID != "KOPI" {
		t.Errorf("snapshot lines = %+v", snapshot.Lines)
	}

	if err := c.CloseSession(ctx, created.SessionID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
}

func TestChildVoidAndModifyOverWire(t *testing.T) {
	service := startService(t, "")
	c := dialService(t, service)
	ctx := context.Background()

	created, _ := c.CreateSession(ctx, "TERM-1", "alice")
	txn, err := c.StartTransaction(ctx, created.SessionID, "SGD", "S1")
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}

	parent, err := c.AddLineItem(ctx, created.SessionID, txn.TransactionID, "KOPI", 1, "1.80")
	if err != nil {
		t.Fatalf("AddLineItem: %v", err)
	}
	if parent.LineCount != 1 {
		t.Fatalf("line count = %d, want 1", parent.LineCount)
	}
	if _, err := c.AddChildLineItem(ctx, created.SessionID, txn.TransactionID, "EXTRA_SHOT", 1, "0.50", 1); err != nil {
		t.Fatalf("AddChildLineItem: %v", err)
	}

	snapshot, err := c.GetTransaction(ctx, created.SessionID, txn.TransactionID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if len(snapshot.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(snapshot.Lines))
	}
	child := snapshot.Lines[1]
	if child.ParentLineNumber != 1 {
		t.Errorf("child parent = %d, want 1", child.ParentLineNumber)
	}

	modified, err := c.ModifyLineItem(ctx, created.SessionID, txn.TransactionID, child.LineItemID, 2)
	if err != nil {
		t.Fatalf("ModifyLineItem: %v", err)
	}
	if modified.Total != "2.80" {
		t.Errorf("total after modify = %q, want 2.80", modified.Total)
	}

	voided, err := c.VoidLineItem(ctx, created.SessionID, txn.TransactionID, child.LineItemID)
	if err != nil {
		t.Fatalf("VoidLineItem: %v", err)
	}
	if voided.Total != "1.80" {
		t.Errorf("total after void = %q, want 1.80", voided.Total)
	}
}

func TestServerErrorsAreTyped(t *testing.T) {
	service := startService(t, "")
	c := dialService(t, service)
	ctx := context.Background()

	_, err := c.StartTransaction(ctx, "sess_NOPE", "SGD", "S1")
	var wireErr *protocol.Error
	if !errors.As(err, &wireErr) {
		t.Fatalf("error type = %T, want *protocol.Error", err)
	}
	if wireErr.Code != protocol.ErrInvalidSession {
		t.Errorf("code = %q, want invalid_session", wireErr.Code)
	}
}

func TestConnectionSurvivesMalformedRequests(t *testing.T) {
	service := startService(t, "")
	conn, err := net.Dial("unix", service.socketPath)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close()
	scanner := protocol.NewLineScanner(conn)

	send := func(line string) protocol.Response {
		t.Helper()
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if !scanner.Scan() {
			t.Fatalf("no response: %v", scanner.Err())
		}
		var response protocol.Response
		if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		return response
	}

	// Garbage, unknown method, and a missing method all produce
	// bad_request without killing the connection.
	for _, line := range []string{
		"this is not json",
		`{"method":"warp_core_eject","id":"x"}`,
		`{"id":"y"}`,
	} {
		response := send(line)
		if response.Error == nil || response.Error.Code != protocol.ErrBadRequest {
			t.Errorf("line %q: response = %+v, want bad_request", line, response)
		}
	}

	// An oversized line is discarded whole, answered with bad_request,
	// and the connection keeps serving.
	oversized := send(strings.Repeat("x", protocol.MaxLineLength+1))
	if oversized.Error == nil || oversized.Error.Code != protocol.ErrBadRequest {
		t.Errorf("oversized line: response = %+v, want bad_request", oversized)
	}

	// The same connection still serves valid requests.
	response := send(`{"method":"version","id":"z"}`)
	if response.Error != nil {
		t.Fatalf("version after garbage: %+v", response.Error)
	}
	if response.ID != "z" {
		t.Errorf("id = %q, want z", response.ID)
	}
}

func TestObservabilityMethods(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	service := startService(t, journalPath)
	c := dialService(t, service)
	ctx := context.Background()

	created, _ := c.CreateSession(ctx, "TERM-1", "alice")
	txn, err := c.StartTransaction(ctx, created.SessionID, "SGD", "S1")
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	if _, err := c.AddLineItem(ctx, created.SessionID, txn.TransactionID, "KOPI", 1, "1.80"); err != nil {
		t.Fatalf("AddLineItem: %v", err)
	}
	if _, err := c.ProcessPayment(ctx, created.SessionID, txn.TransactionID, "2.00", "cash"); err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}

	snapshot, err := c.Metrics(ctx)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if snapshot.Methods["add_line_item"].Calls != 1 {
		t.Errorf("metrics = %+v", snapshot.Methods)
	}

	report, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !report.Healthy || !report.JournalEnabled {
		t.Errorf("health = %+v", report)
	}
	if report.ActiveConnections < 1 {
		t.Errorf("active connections = %d, want at least 1", report.ActiveConnections)
	}

	info, err := c.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if info.Kernel != "poskernel" || info.Version == "" {
		t.Errorf("version = %+v", info)
	}

	listed, err := c.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(listed.Sessions) != 1 || listed.Sessions[0].SessionID != created.SessionID {
		t.Errorf("sessions = %+v", listed.Sessions)
	}
}

func TestShutdownRemovesSocket(t *testing.T) {
	service := startService(t, "")

	service.cancel()
	select {
	case <-service.done:
		if service.serveErr != nil {
			t.Fatalf("Serve: %v", service.serveErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	if _, err := os.Stat(service.socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present after shutdown: %v", err)
	}
}

func TestConcurrentClients(t *testing.T) {
	service := startService(t, "")
	ctx := context.Background()

	const clients = 4
	done := make(chan error, clients)
	for i := 0; i < clients; i++ {
		go func() {
			c, err := client.Dial(ctx, service.socketPath)
			if err != nil {
				done <- err
				return
			}
			defer c.Close()

			created, err := c.CreateSession(ctx, testutil.UniqueID("TERM"), "op")
			if err != nil {
				done <- err
				return
			}
			txn, err := c.StartTransaction(ctx, created.SessionID, "SGD", "S1")
			if err != nil {
				done <- err
				return
			}
			for j := 0; j < 10; j++ {
				if _, err := c.AddLineItem(ctx, created.SessionID, txn.TransactionID, "KOPI", 1, "1.80"); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for i := 0; i < clients; i++ {
		if err := <-done; err != nil {
			t.Fatalf("client %d: %v", i, err)
		}
	}

	live, _ := service.sessions.Counts()
	if live != clients {
		t.Errorf("live sessions = %d, want %d", live, clients)
	}
}
