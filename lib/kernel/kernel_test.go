// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"errors"
	"testing"
	"time"

	"github.com/pos-kernel/poskernel/lib/clock"
	"github.com/pos-kernel/poskernel/lib/engine"
	"github.com/pos-kernel/poskernel/lib/protocol"
	"github.com/pos-kernel/poskernel/lib/session"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordedCommit struct {
	sessionID string
	snapshot  engine.Snapshot
}

// fakeAuditor captures commits for assertions.
type fakeAuditor struct {
	commits []recordedCommit
	fail    error
}

func (a *fakeAuditor) RecordCommit(sessionID string, snapshot engine.Snapshot) error {
	if a.fail != nil {
		return a.fail
	}
	a.commits = append(a.commits, recordedCommit{sessionID: sessionID, snapshot: snapshot})
	return nil
}

type fixture struct {
	orchestrator *Orchestrator
	sessions     *session.Manager
	engine       *engine.Engine
	fake         *clock.FakeClock
	auditor      *fakeAuditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := clock.Fake(testEpoch)
	sessions := session.NewManager(session.Config{
		IdleTimeout: 15 * time.Minute,
		Retention:   24 * time.Hour,
		MaxSessions: 10,
		Clock:       fake,
	})
	eng := engine.New()
	auditor := &fakeAuditor{}
	orchestrator := New(Config{
		Sessions:   sessions,
		Engine:     eng,
		Currencies: map[string]int{"SGD": 2, "JPY": 0},
		Auditor:    auditor,
	})
	return &fixture{orchestrator: orchestrator, sessions: sessions, engine: eng, fake: fake, auditor: auditor}
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	result, failure := f.orchestrator.CreateSession("TERM-1", "alice")
	if failure != nil {
		t.Fatalf("CreateSession: %v", failure)
	}
	return result.SessionID
}

func (f *fixture) startTransaction(t *testing.T, sessionID string) string {
	t.Helper()
	result, failure := f.orchestrator.StartTransaction(sessionID, "SGD", "S1")
	if failure != nil {
		t.Fatalf("StartTransaction: %v", failure)
	}
	return result.TransactionID
}

func TestStartTransactionRequiresCurrency(t *testing.T) {
	f := newFixture(t)
	sessionID := f.createSession(t)

	_, failure := f.orchestrator.StartTransaction(sessionID, "", "S1")
	if failure == nil || failure.Code != protocol.ErrBadRequest {
		t.Fatalf("empty currency: got %v, want bad_request", failure)
	}
}

func TestStartTransactionInvalidSession(t *testing.T) {
	f := newFixture(t)
	_, failure := f.orchestrator.StartTransaction("sess_NOPE", "SGD", "S1")
	if failure == nil || failure.Code != protocol.ErrInvalidSession {
		t.Fatalf("unknown session: got %v, want invalid_session", failure)
	}
}

func TestStartTransactionInitialState(t *testing.T) {
	f := newFixture(t)
	sessionID := f.createSession(t)

	result, failure := f.orchestrator.StartTransaction(sessionID, "sgd", "S1")
	if failure != nil {
		t.Fatalf("StartTransaction: %v", failure)
	}
	if result.Total != "0.00" {
		t.Errorf("initial total = %q, want 0.00", result.Total)
	}
	if result.State != "Building" {
		t.Errorf("initial state = %q, want Building", result.State)
	}

	// The session now points at the transaction.
	record, _ := f.sessions.Get(sessionID)
	if record.TransactionID != result.TransactionID {
		t.Errorf("session transaction pointer = %q, want %q", record.TransactionID, result.TransactionID)
	}
}

func TestZeroDecimalCurrency(t *testing.T) {
	f := newFixture(t)
	sessionID := f.createSession(t)

	result, failure := f.orchestrator.StartTransaction(sessionID, "JPY", "S1")
	if failure != nil {
		t.Fatalf("StartTransaction: %v", failure)
	}
	if result.Total != "0" {
		t.Errorf("JPY initial total = %q, want 0", result.Total)
	}

	lineResult, failure := f.orchestrator.AddLineItem(sessionID, result.TransactionID, "RAMEN", 1, "850")
	if failure != nil {
		t.Fatalf("AddLineItem: %v", failure)
	}
	if lineResult.Total != "850" {
		t.Errorf("JPY total = %q, want 850", lineResult.Total)
	}
}

func TestKopitiamScenario(t *testing.T) {
	f := newFixture(t)
	sessionID := f.createSession(t)
	transactionID := f.startTransaction(t, sessionID)

	result, failure := f.orchestrator.AddLineItem(sessionID, transactionID, "KOPI", 2, "1.80")
	if failure != nil {
		t.Fatalf("AddLineItem: %v", failure)
	}
	if result.Total != "3.60" {
		t.Errorf("total after KOPI = %q, want 3.60", result.Total)
	}

	result, failure = f.orchestrator.AddLineItem(sessionID, transactionID, "KAYA_TOAST", 1, "2.80")
	if failure != nil {
		t.Fatalf("AddLineItem: %v", failure)
	}
	if result.Total != "6.40" {
		t.Errorf("total after KAYA_TOAST = %q, want 6.40", result.Total)
	}

	payment, failure := f.orchestrator.ProcessPayment(sessionID, transactionID, "10.00", "cash")
	if failure != nil {
		t.Fatalf("ProcessPayment: %v", failure)
	}
	if payment.Change != "3.60" {
		t.Errorf("change = %q, want 3.60", payment.Change)
	}
	if payment.State != "Completed" {
		t.Errorf("state = %q, want Completed", payment.State)
	}

	snapshot, failure := f.orchestrator.GetTransaction(sessionID, transactionID)
	if failure != nil {
		t.Fatalf("GetTransaction: %v", failure)
	}
	if len(snapshot.Lines) != 2 {
		t.Errorf("lines = %d, want 2", len(snapshot.Lines))
	}
	if snapshot.Total != "6.40" || snapshot.Tendered != "10.00" {
		t.Errorf("snapshot total=%q tendered=%q", snapshot.Total, snapshot.Tendered)
	}
}

func TestCrossSessionAccessDenied(t *testing.T) {
	f := newFixture(t)
	ownerSession := f.createSession(t)
	otherSession := f.createSession(t)
	transactionID := f.startTransaction(t, ownerSession)

	_, failure := f.orchestrator.ProcessPayment(otherSession, transactionID, "5.00", "cash")
	if failure == nil {
		t.Fatal("payment against another session's transaction succeeded")
	}
	if failure.Code != protocol.ErrTransactionNotFound && failure.Code != protocol.ErrInvalidSession {
		t.Errorf("code = %q, want transaction_not_found or invalid_session", failure.Code)
	}

	_, failure = f.orchestrator.GetTransaction(otherSession, transactionID)
	if failure == nil {
		t.Fatal("read of another session's transaction succeeded")
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	f := newFixture(t)
	sessionID := f.createSession(t)
	transactionID := f.startTransaction(t, sessionID)

	f.fake.Advance(15 * time.Minute)

	_, failure := f.orchestrator.AddLineItem(sessionID, transactionID, "KOPI", 1, "1.80")
	if failure == nil || failure.Code != protocol.ErrInvalidSession {
		t.Fatalf("operation on expired session: got %v, want invalid_session", failure)
	}
}

func TestActivityKeepsSessionAlive(t *testing.T) {
	f := newFixture(t)
	sessionID := f.createSession(t)
	transactionID := f.startTransaction(t, sessionID)

	// Operations every 10 minutes stay inside the 15 minute timeout.
	for i := 0; i < 6; i++ {
		f.fake.Advance(10 * time.Minute)
		if _, failure := f.orchestrator.GetTransaction(sessionID, transactionID); failure != nil {
			t.Fatalf("GetTransaction at step %d: %v", i, failure)
		}
	}
}

func TestEngineErrorsPassThrough(t *testing.T) {
	f := newFixture(t)
	sessionID := f.createSession(t)
	transactionID := f.startTransaction(t, sessionID)

	_, failure := f.orchestrator.AddLineItem(sessionID, transactionID, "KOPI", -1, "1.80")
	if failure == nil || failure.Code != protocol.ErrEngine {
		t.Fatalf("negative quantity: got %v, want engine_error", failure)
	}
	if failure.Message == "" {
		t.Error("engine diagnostic lost in translation")
	}

	_, failure = f.orchestrator.AddLineItem(sessionID, "txn_MISSING", "KOPI", 1, "1.80")
	if failure == nil || failure.Code != protocol.ErrTransactionNotFound {
		t.Fatalf("unknown transaction: got %v, want transaction_not_found", failure)
	}
}

func TestCommitRecordsAudit(t *testing.T) {
	f := newFixture(t)
	sessionID := f.createSession(t)
	transactionID := f.startTransaction(t, sessionID)
	f.orchestrator.AddLineItem(sessionID, transactionID, "KOPI", 1, "1.80")

	// Partial tender: no commit, no audit record.
	f.orchestrator.ProcessPayment(sessionID, transactionID, "1.00", "cash")
	if len(f.auditor.commits) != 0 {
		t.Fatalf("audit recorded before commit")
	}

	f.orchestrator.ProcessPayment(sessionID, transactionID, "1.00", "cash")
	if len(f.auditor.commits) != 1 {
		t.Fatalf("audit records = %d, want 1", len(f.auditor.commits))
	}
	commit := f.auditor.commits[0]
	if commit.sessionID != sessionID || commit.snapshot.TransactionID != transactionID {
		t.Errorf("audit record = %+v", commit)
	}

	// Commit clears the session's current-transaction pointer.
	record, _ := f.sessions.Get(sessionID)
	if record.TransactionID != "" {
		t.Errorf("transaction pointer after commit = %q, want empty", record.TransactionID)
	}
}

func TestAuditFailureDoesNotFailPayment(t *testing.T) {
	f := newFixture(t)
	f.auditor.fail = errAudit
	sessionID := f.createSession(t)
	transactionID := f.startTransaction(t, sessionID)
	f.orchestrator.AddLineItem(sessionID, transactionID, "KOPI", 1, "1.80")

	payment, failure := f.orchestrator.ProcessPayment(sessionID, transactionID, "2.00", "cash")
	if failure != nil {
		t.Fatalf("payment failed because of audit: %v", failure)
	}
	if payment.State != "Completed" {
		t.Errorf("state = %q, want Completed", payment.State)
	}
}

var errAudit = &Failure{Code: protocol.ErrInternal, Message: "journal unavailable"}

func TestCloseSessionReleasesTransactions(t *testing.T) {
	f := newFixture(t)
	sessionID := f.createSession(t)
	transactionID := f.startTransaction(t, sessionID)

	if failure := f.orchestrator.CloseSession(sessionID); failure != nil {
		t.Fatalf("CloseSession: %v", failure)
	}

	// Closing twice is fine.
	if failure := f.orchestrator.CloseSession(sessionID); failure != nil {
		t.Fatalf("second CloseSession: %v", failure)
	}

	// The session is not-live and the transaction mapping is gone.
	_, failure := f.orchestrator.GetTransaction(sessionID, transactionID)
	if failure == nil || failure.Code != protocol.ErrInvalidSession {
		t.Fatalf("operation on closed session: got %v, want invalid_session", failure)
	}

	if failure := f.orchestrator.CloseSession("sess_NEVER"); failure == nil || failure.Code != protocol.ErrInvalidSession {
		t.Fatalf("close of unknown session: got %v, want invalid_session", failure)
	}
}

func TestSweepReleasesAbandonedTransactions(t *testing.T) {
	f := newFixture(t)
	sessionID := f.createSession(t)
	transactionID := f.startTransaction(t, sessionID)

	// The terminal walks away mid-sale: the session idles past the
	// timeout and then past retention, so the sweep evicts it.
	f.fake.Advance(25 * time.Hour)

	expired, evicted, released := f.orchestrator.Sweep()
	if expired != 1 || evicted != 1 || released != 1 {
		t.Fatalf("Sweep() = (%d, %d, %d), want (1, 1, 1)", expired, evicted, released)
	}

	// The abandoned transaction is gone from the engine, not just from
	// the ownership table.
	if _, err := f.engine.Snapshot(transactionID); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("abandoned transaction still held by the engine: err = %v", err)
	}

	// A second sweep has nothing left to do.
	if _, _, released = f.orchestrator.Sweep(); released != 0 {
		t.Errorf("second sweep released %d transactions, want 0", released)
	}
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	first := f.createSession(t)
	second := f.createSession(t)
	f.orchestrator.CloseSession(first)

	result := f.orchestrator.ListSessions()
	if len(result.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(result.Sessions))
	}
	if result.Sessions[0].SessionID != second {
		t.Errorf("listed session = %q, want %q", result.Sessions[0].SessionID, second)
	}
}
