// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernel implements the orchestrator binding session validity
// to transaction operations. It is the single place that asks "may
// this session act" before delegating to the engine, so the engine
// never learns about sessions and the session manager never learns
// about money.
//
// Every operation returns a wire-ready result plus a *Failure; no
// other error type crosses this boundary. Client-caused failures
// (unknown session, unknown transaction) are expected traffic and are
// never logged as errors.
package kernel

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/pos-kernel/poskernel/lib/engine"
	"github.com/pos-kernel/poskernel/lib/protocol"
	"github.com/pos-kernel/poskernel/lib/session"
)

// Failure is a typed operation failure carrying the wire error code.
// The protocol server maps it onto a response envelope 1:1.
type Failure struct {
	Code    protocol.ErrorCode
	Message string
}

func (f *Failure) Error() string { return string(f.Code) + ": " + f.Message }

func invalidSession(message string) *Failure {
	return &Failure{Code: protocol.ErrInvalidSession, Message: message}
}

func badRequest(message string) *Failure {
	return &Failure{Code: protocol.ErrBadRequest, Message: message}
}

// engineFailure translates an engine error. Unknown transaction ids
// become transaction_not_found; everything else passes through as
// engine_error with the engine's diagnostic intact.
func engineFailure(err error) *Failure {
	if errors.Is(err, engine.ErrNotFound) {
		return &Failure{Code: protocol.ErrTransactionNotFound, Message: "transaction not found"}
	}
	return &Failure{Code: protocol.ErrEngine, Message: err.Error()}
}

// Auditor records committed transactions. The journal implements it;
// a nil Auditor disables auditing.
type Auditor interface {
	RecordCommit(sessionID string, snapshot engine.Snapshot) error
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Sessions *session.Manager
	Engine   *engine.Engine

	// Currencies maps upper-case currency codes to decimal places.
	// Codes not in the table get DefaultDecimalPlaces. The kernel
	// itself has no currency opinions; this table is configuration.
	Currencies map[string]int

	// Auditor receives every committed transaction. Optional.
	Auditor Auditor

	Logger *slog.Logger
}

// DefaultDecimalPlaces applies to currency codes absent from the
// configured table.
const DefaultDecimalPlaces = 2

// owner tracks which session started a transaction and in which
// currency, so results can be formatted without re-reading the engine.
type owner struct {
	sessionID string
	currency  engine.Currency
}

// Orchestrator routes validated requests to the engine.
type Orchestrator struct {
	sessions   *session.Manager
	engine     *engine.Engine
	currencies map[string]int
	auditor    Auditor
	logger     *slog.Logger

	// mu guards owners: transaction id → owning session. Membership
	// only; the engine guards transaction content.
	mu     sync.RWMutex
	owners map[string]owner
}

// New returns an orchestrator over the given collaborators.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		sessions:   cfg.Sessions,
		engine:     cfg.Engine,
		currencies: cfg.Currencies,
		auditor:    cfg.Auditor,
		logger:     logger,
		owners:     make(map[string]owner),
	}
}

// CreateSession issues a new session for a terminal/operator pair.
func (o *Orchestrator) CreateSession(terminalID, operatorID string) (protocol.CreateSessionResult, *Failure) {
	id, err := o.sessions.Create(terminalID, operatorID)
	if err != nil {
		if errors.Is(err, session.ErrCapacity) {
			return protocol.CreateSessionResult{}, &Failure{
				Code:    protocol.ErrCapacityExceeded,
				Message: "session capacity exceeded",
			}
		}
		o.logger.Error("session creation failed", "error", err)
		return protocol.CreateSessionResult{}, &Failure{Code: protocol.ErrInternal, Message: "internal error"}
	}
	return protocol.CreateSessionResult{SessionID: id}, nil
}

// StartTransaction allocates a new transaction bound to the session.
// Currency is required: the kernel is culture-neutral and never
// substitutes a default code.
func (o *Orchestrator) StartTransaction(sessionID, currency, store string) (protocol.TransactionResult, *Failure) {
	if currency == "" {
		return protocol.TransactionResult{}, badRequest("missing currency")
	}
	if failure := o.validateSession(sessionID); failure != nil {
		return protocol.TransactionResult{}, failure
	}

	resolved := o.resolveCurrency(currency)
	transactionID := o.engine.Create(store, resolved)

	o.mu.Lock()
	o.owners[transactionID] = owner{sessionID: sessionID, currency: resolved}
	o.mu.Unlock()

	o.sessions.SetTransaction(sessionID, transactionID)
	o.sessions.Touch(sessionID)

	return protocol.TransactionResult{
		TransactionID: transactionID,
		Total:         engine.FormatAmount(0, resolved.DecimalPlaces),
		State:         wireState(engine.Building),
	}, nil
}

// AddLineItem appends a line to the transaction.
func (o *Orchestrator) AddLineItem(sessionID, transactionID, productID string, quantity int, unitPrice string) (protocol.TransactionResult, *Failure) {
	own, failure := o.authorize(sessionID, transactionID)
	if failure != nil {
		return protocol.TransactionResult{}, failure
	}
	result, err := o.engine.AddLine(transactionID, productID, quantity, unitPrice)
	if err != nil {
		return protocol.TransactionResult{}, engineFailure(err)
	}
	o.sessions.Touch(sessionID)
	return transactionResult(result, own.currency), nil
}

// AddChildLineItem appends a line linked under an existing parent line.
func (o *Orchestrator) AddChildLineItem(sessionID, transactionID, productID string, quantity int, unitPrice string, parentLineNumber int) (protocol.TransactionResult, *Failure) {
	own, failure := o.authorize(sessionID, transactionID)
	if failure != nil {
		return protocol.TransactionResult{}, failure
	}
	result, err := o.engine.AddChildLine(transactionID, productID, quantity, unitPrice, parentLineNumber)
	if err != nil {
		return protocol.TransactionResult{}, engineFailure(err)
	}
	o.sessions.Touch(sessionID)
	return transactionResult(result, own.currency), nil
}

// VoidLineItem voids the addressed line.
func (o *Orchestrator) VoidLineItem(sessionID, transactionID, lineItemID string) (protocol.TransactionResult, *Failure) {
	own, failure := o.authorize(sessionID, transactionID)
	if failure != nil {
		return protocol.TransactionResult{}, failure
	}
	result, err := o.engine.VoidLine(transactionID, lineItemID)
	if err != nil {
		return protocol.TransactionResult{}, engineFailure(err)
	}
	o.sessions.Touch(sessionID)
	return transactionResult(result, own.currency), nil
}

// ModifyLineItem replaces the quantity of the addressed line.
func (o *Orchestrator) ModifyLineItem(sessionID, transactionID, lineItemID string, quantity int) (protocol.TransactionResult, *Failure) {
	own, failure := o.authorize(sessionID, transactionID)
	if failure != nil {
		return protocol.TransactionResult{}, failure
	}
	result, err := o.engine.ModifyLineQuantity(transactionID, lineItemID, quantity)
	if err != nil {
		return protocol.TransactionResult{}, engineFailure(err)
	}
	o.sessions.Touch(sessionID)
	return transactionResult(result, own.currency), nil
}

// ProcessPayment delegates tender addition to the engine. The engine
// alone decides whether the tender completes the transaction; this
// layer only reacts to the outcome by auditing the commit and clearing
// the session's current-transaction pointer.
func (o *Orchestrator) ProcessPayment(sessionID, transactionID, amount, paymentType string) (protocol.PaymentResult, *Failure) {
	own, failure := o.authorize(sessionID, transactionID)
	if failure != nil {
		return protocol.PaymentResult{}, failure
	}
	result, err := o.engine.AddTender(transactionID, amount)
	if err != nil {
		return protocol.PaymentResult{}, engineFailure(err)
	}
	o.sessions.Touch(sessionID)

	if result.State == engine.Committed {
		o.sessions.SetTransaction(sessionID, "")
		if o.auditor != nil {
			snapshot, snapErr := o.engine.Snapshot(transactionID)
			if snapErr == nil {
				snapErr = o.auditor.RecordCommit(sessionID, snapshot)
			}
			if snapErr != nil {
				// The payment already succeeded; an audit gap is an
				// operational alert, not a client error.
				o.logger.Error("audit record failed",
					"method", "process_payment",
					"session_id", sessionID,
					"transaction_id", transactionID,
					"error", snapErr,
				)
			}
		}
	}

	decimalPlaces := own.currency.DecimalPlaces
	return protocol.PaymentResult{
		TransactionID: result.TransactionID,
		Total:         engine.FormatAmount(result.TotalMinor, decimalPlaces),
		State:         wireState(result.State),
		Tendered:      engine.FormatAmount(result.TenderedMinor, decimalPlaces),
		Change:        engine.FormatAmount(result.ChangeMinor, decimalPlaces),
	}, nil
}

// GetTransaction returns the transaction's full snapshot. Reads count
// as session activity just like mutations.
func (o *Orchestrator) GetTransaction(sessionID, transactionID string) (protocol.TransactionSnapshot, *Failure) {
	if _, failure := o.authorize(sessionID, transactionID); failure != nil {
		return protocol.TransactionSnapshot{}, failure
	}
	snapshot, err := o.engine.Snapshot(transactionID)
	if err != nil {
		return protocol.TransactionSnapshot{}, engineFailure(err)
	}
	o.sessions.Touch(sessionID)
	return snapshotResult(snapshot), nil
}

// CloseSession releases every transaction mapping owned by the session
// and closes it. Idempotent: closing a session that is already
// not-live still succeeds; only an id that never existed (or was
// evicted) fails.
func (o *Orchestrator) CloseSession(sessionID string) *Failure {
	if _, ok := o.sessions.Get(sessionID); !ok {
		return invalidSession("unknown session")
	}

	released := o.releaseOwnedBy([]string{sessionID})
	o.sessions.Close(sessionID)

	if released > 0 {
		o.logger.Info("session closed with transactions released",
			"session_id", sessionID,
			"released", released,
		)
	}
	return nil
}

// Sweep advances the session lifecycle: idle sessions expire, not-live
// sessions past retention are evicted, and transactions the evicted
// sessions abandoned mid-sale are released from the engine. Without
// the release step a terminal that walks away while Building would
// leak its transaction forever.
func (o *Orchestrator) Sweep() (expired, evicted, released int) {
	expired, evictedIDs := o.sessions.Sweep()
	if len(evictedIDs) > 0 {
		released = o.releaseOwnedBy(evictedIDs)
	}
	return expired, len(evictedIDs), released
}

// releaseOwnedBy removes the ownership mappings of the given sessions
// and releases their transactions from the engine. Returns the number
// of transactions released.
func (o *Orchestrator) releaseOwnedBy(sessionIDs []string) int {
	members := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		members[id] = true
	}

	o.mu.Lock()
	var released []string
	for transactionID, own := range o.owners {
		if members[own.sessionID] {
			released = append(released, transactionID)
			delete(o.owners, transactionID)
		}
	}
	o.mu.Unlock()

	for _, transactionID := range released {
		o.engine.Release(transactionID)
	}
	return len(released)
}

// ListSessions returns the live sessions in creation order.
func (o *Orchestrator) ListSessions() protocol.ListSessionsResult {
	records := o.sessions.ListActive()
	infos := make([]protocol.SessionInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, protocol.SessionInfo{
			SessionID:     record.ID,
			TerminalID:    record.TerminalID,
			OperatorID:    record.OperatorID,
			CreatedAt:     record.CreatedAt.UnixMilli(),
			LastActivity:  record.LastActivity.UnixMilli(),
			TransactionID: record.TransactionID,
		})
	}
	return protocol.ListSessionsResult{Sessions: infos}
}

// validateSession fails unless the session exists and is live.
func (o *Orchestrator) validateSession(sessionID string) *Failure {
	record, ok := o.sessions.Get(sessionID)
	if !ok {
		return invalidSession("unknown session")
	}
	if record.State != session.Live {
		return invalidSession("session is " + strings.ToLower(record.State.String()))
	}
	return nil
}

// authorize validates the session and its ownership of the
// transaction. A transaction owned by a different session reports
// transaction_not_found — the caller learns nothing about other
// sessions' transactions.
func (o *Orchestrator) authorize(sessionID, transactionID string) (owner, *Failure) {
	if failure := o.validateSession(sessionID); failure != nil {
		return owner{}, failure
	}

	o.mu.RLock()
	own, ok := o.owners[transactionID]
	o.mu.RUnlock()
	if !ok || own.sessionID != sessionID {
		return owner{}, &Failure{Code: protocol.ErrTransactionNotFound, Message: "transaction not found"}
	}
	return own, nil
}

// resolveCurrency looks up decimal places in the configured table,
// defaulting for unlisted codes.
func (o *Orchestrator) resolveCurrency(code string) engine.Currency {
	upper := strings.ToUpper(code)
	if places, ok := o.currencies[upper]; ok {
		return engine.Currency{Code: upper, DecimalPlaces: places}
	}
	return engine.Currency{Code: upper, DecimalPlaces: DefaultDecimalPlaces}
}

// wireState renders a state for the wire. Committed transactions
// report "Completed" — the state name clients and receipts use — while
// the engine keeps its ledger-facing name.
func wireState(s engine.State) string {
	if s == engine.Committed {
		return "Completed"
	}
	return s.String()
}

func transactionResult(result engine.Result, currency engine.Currency) protocol.TransactionResult {
	return protocol.TransactionResult{
		TransactionID: result.TransactionID,
		Total:         engine.FormatAmount(result.TotalMinor, currency.DecimalPlaces),
		State:         wireState(result.State),
		LineCount:     result.LineCount,
	}
}

func snapshotResult(snapshot engine.Snapshot) protocol.TransactionSnapshot {
	decimalPlaces := snapshot.Currency.DecimalPlaces
	lines := make([]protocol.LineItem, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		lines = append(lines, protocol.LineItem{
			LineItemID:       line.ID,
			LineNumber:       line.Number,
			ProductID:        line.ProductID,
			Quantity:         line.Quantity,
			UnitPrice:        engine.FormatAmount(line.UnitMinor, decimalPlaces),
			ExtendedPrice:    engine.FormatAmount(line.UnitMinor*int64(line.Quantity), decimalPlaces),
			ParentLineNumber: line.ParentLineNumber,
			Voided:           line.Voided,
		})
	}
	return protocol.TransactionSnapshot{
		TransactionID: snapshot.TransactionID,
		Currency:      snapshot.Currency.Code,
		Store:         snapshot.Store,
		Total:         engine.FormatAmount(snapshot.TotalMinor, decimalPlaces),
		State:         wireState(snapshot.State),
		Tendered:      engine.FormatAmount(snapshot.TenderedMinor, decimalPlaces),
		Change:        engine.FormatAmount(snapshot.ChangeMinor, decimalPlaces),
		Lines:         lines,
	}
}
