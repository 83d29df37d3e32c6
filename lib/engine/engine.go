// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the transaction kernel: line item
// accumulation, tender arithmetic, and the Building→Committed state
// machine. All money is held in int64 minor units scaled by the
// transaction currency's decimal places; the engine is culture-neutral
// and takes the decimal places from the caller rather than consulting
// any currency table of its own.
//
// The engine knows nothing about sessions. Session validity is the
// orchestrator's concern; the engine only guarantees that mutations of
// a single transaction are serialized and that totals are consistent
// at every observation point.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound reports an unknown transaction id.
var ErrNotFound = errors.New("transaction not found")

// Currency identifies the money unit of a transaction. DecimalPlaces
// drives the minor-unit scaling and all amount parsing and formatting.
type Currency struct {
	Code          string `json:"code"`
	DecimalPlaces int    `json:"decimal_places"`
}

// State is the transaction lifecycle state.
type State int

const (
	// Building accepts line and tender mutations.
	Building State = iota
	// Committed is terminal: tendered covered the total.
	Committed
)

func (s State) String() string {
	switch s {
	case Building:
		return "Building"
	case Committed:
		return "Committed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Line is one line item. Voided lines stay in place with their stable
// id and line number; only their contribution to the total is removed.
type Line struct {
	ID               string `json:"id"`
	Number           int    `json:"number"`
	ProductID        string `json:"product_id"`
	Quantity         int    `json:"quantity"`
	UnitMinor        int64  `json:"unit_minor"`
	ParentLineNumber int    `json:"parent_line_number,omitempty"` // 0 for top-level lines
	Voided           bool   `json:"voided,omitempty"`
}

func (l Line) extendedMinor() int64 {
	if l.Voided {
		return 0
	}
	return l.UnitMinor * int64(l.Quantity)
}

// Result is the wire-ready outcome of a successful mutation.
type Result struct {
	TransactionID string
	State         State
	TotalMinor    int64
	TenderedMinor int64
	ChangeMinor   int64
	LineCount     int
}

// Snapshot is a read-only copy of a transaction's full state.
type Snapshot struct {
	TransactionID string   `json:"transaction_id"`
	Store         string   `json:"store,omitempty"`
	Currency      Currency `json:"currency"`
	State         State    `json:"state"`
	TotalMinor    int64    `json:"total_minor"`
	TenderedMinor int64    `json:"tendered_minor"`
	ChangeMinor   int64    `json:"change_minor"`
	Lines         []Line   `json:"lines"`
}

// transaction is engine-owned mutable state. mu serializes all
// mutations and snapshot reads of this transaction; distinct
// transactions never contend.
type transaction struct {
	mu            sync.Mutex
	id            string
	store         string
	currency      Currency
	lines         []Line
	lineIDCounter int
	tenderedMinor int64
	state         State
}

func (t *transaction) totalMinorLocked() int64 {
	var total int64
	for _, line := range t.lines {
		total += line.extendedMinor()
	}
	return total
}

func (t *transaction) changeMinorLocked() int64 {
	change := t.tenderedMinor - t.totalMinorLocked()
	if change < 0 {
		return 0
	}
	return change
}

func (t *transaction) resultLocked() Result {
	return Result{
		TransactionID: t.id,
		State:         t.state,
		TotalMinor:    t.totalMinorLocked(),
		TenderedMinor: t.tenderedMinor,
		ChangeMinor:   t.changeMinorLocked(),
		LineCount:     len(t.lines),
	}
}

// Engine holds all in-flight transactions. Safe for concurrent use:
// the registry lock covers membership only, never a transaction's
// content, so operations on different transactions proceed in
// parallel.
type Engine struct {
	mu           sync.RWMutex
	transactions map[string]*transaction
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{transactions: make(map[string]*transaction)}
}

// Create allocates a new transaction in the Building state and returns
// its id. The id is derived from a random UUID so handles from
// different service instances never collide in downstream audit
// records.
func (e *Engine) Create(store string, currency Currency) string {
	id := "txn_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	t := &transaction{
		id:       id,
		store:    store,
		currency: currency,
		state:    Building,
	}
	e.mu.Lock()
	e.transactions[id] = t
	e.mu.Unlock()
	return id
}

// Release removes a transaction from the engine. Used when the owning
// session closes with the transaction still Building. Releasing an
// unknown id is a no-op.
func (e *Engine) Release(id string) {
	e.mu.Lock()
	delete(e.transactions, id)
	e.mu.Unlock()
}

func (e *Engine) lookup(id string) (*transaction, error) {
	e.mu.RLock()
	t, ok := e.transactions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// AddLine appends a top-level line item. UnitPrice is a major-unit
// decimal string parsed against the transaction currency.
func (e *Engine) AddLine(id, productID string, quantity int, unitPrice string) (Result, error) {
	return e.addLine(id, productID, quantity, unitPrice, 0)
}

// AddChildLine appends a line item linked under parentLineNumber,
// which must reference an existing line.
func (e *Engine) AddChildLine(id, productID string, quantity int, unitPrice string, parentLineNumber int) (Result, error) {
	if parentLineNumber <= 0 {
		return Result{}, fmt.Errorf("invalid parent line number %d", parentLineNumber)
	}
	return e.addLine(id, productID, quantity, unitPrice, parentLineNumber)
}

func (e *Engine) addLine(id, productID string, quantity int, unitPrice string, parentLineNumber int) (Result, error) {
	t, err := e.lookup(id)
	if err != nil {
		return Result{}, err
	}
	if productID == "" {
		return Result{}, fmt.Errorf("empty product id")
	}
	if quantity <= 0 {
		return Result{}, fmt.Errorf("invalid quantity %d (must be > 0)", quantity)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	unitMinor, err := ParseAmount(unitPrice, t.currency.DecimalPlaces)
	if err != nil {
		return Result{}, fmt.Errorf("unit price: %w", err)
	}
	if unitMinor < 0 {
		return Result{}, fmt.Errorf("negative unit price %q", unitPrice)
	}
	if t.state != Building {
		return Result{}, fmt.Errorf("transaction %s is %s, not Building", t.id, t.state)
	}
	if parentLineNumber > len(t.lines) {
		return Result{}, fmt.Errorf("parent line %d not found in transaction %s", parentLineNumber, t.id)
	}

	t.lineIDCounter++
	t.lines = append(t.lines, Line{
		ID:               fmt.Sprintf("%s_LN_%04d", t.id, t.lineIDCounter),
		Number:           len(t.lines) + 1,
		ProductID:        productID,
		Quantity:         quantity,
		UnitMinor:        unitMinor,
		ParentLineNumber: parentLineNumber,
	})
	return t.resultLocked(), nil
}

// VoidLine marks the addressed line void. The line keeps its id and
// number so references held by clients stay valid; only the total
// changes.
func (e *Engine) VoidLine(id, lineItemID string) (Result, error) {
	t, err := e.lookup(id)
	if err != nil {
		return Result{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Building {
		return Result{}, fmt.Errorf("transaction %s is %s, not Building", t.id, t.state)
	}
	for i := range t.lines {
		if t.lines[i].ID == lineItemID {
			if t.lines[i].Voided {
				return Result{}, fmt.Errorf("line item %s is already void", lineItemID)
			}
			t.lines[i].Voided = true
			return t.resultLocked(), nil
		}
	}
	return Result{}, fmt.Errorf("line item %s not found in transaction %s", lineItemID, t.id)
}

// ModifyLineQuantity replaces the quantity of the addressed line.
func (e *Engine) ModifyLineQuantity(id, lineItemID string, quantity int) (Result, error) {
	t, err := e.lookup(id)
	if err != nil {
		return Result{}, err
	}
	if quantity <= 0 {
		return Result{}, fmt.Errorf("invalid quantity %d (must be > 0)", quantity)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Building {
		return Result{}, fmt.Errorf("transaction %s is %s, not Building", t.id, t.state)
	}
	for i := range t.lines {
		if t.lines[i].ID == lineItemID {
			if t.lines[i].Voided {
				return Result{}, fmt.Errorf("line item %s is void", lineItemID)
			}
			t.lines[i].Quantity = quantity
			return t.resultLocked(), nil
		}
	}
	return Result{}, fmt.Errorf("line item %s not found in transaction %s", lineItemID, t.id)
}

// AddTender records a payment. Tendered accumulates across calls; the
// transaction commits the moment tendered covers the total. Whether a
// given tender completes the transaction is decided here and nowhere
// else.
func (e *Engine) AddTender(id, amount string) (Result, error) {
	t, err := e.lookup(id)
	if err != nil {
		return Result{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	amountMinor, err := ParseAmount(amount, t.currency.DecimalPlaces)
	if err != nil {
		return Result{}, fmt.Errorf("tender amount: %w", err)
	}
	if amountMinor <= 0 {
		return Result{}, fmt.Errorf("tender amount %q must be positive", amount)
	}
	if t.state != Building {
		return Result{}, fmt.Errorf("transaction %s is %s, not Building", t.id, t.state)
	}
	if amountMinor > maxInt64-t.tenderedMinor {
		return Result{}, fmt.Errorf("tender amount %q overflows the tendered total", amount)
	}

	t.tenderedMinor += amountMinor
	if t.tenderedMinor >= t.totalMinorLocked() {
		t.state = Committed
	}
	return t.resultLocked(), nil
}

// Snapshot returns a consistent copy of the transaction's full state.
// Repeated snapshots without intervening mutation are identical.
func (e *Engine) Snapshot(id string) (Snapshot, error) {
	t, err := e.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lines := make([]Line, len(t.lines))
	copy(lines, t.lines)
	return Snapshot{
		TransactionID: t.id,
		Store:         t.store,
		Currency:      t.currency,
		State:         t.state,
		TotalMinor:    t.totalMinorLocked(),
		TenderedMinor: t.tenderedMinor,
		ChangeMinor:   t.changeMinorLocked(),
		Lines:         lines,
	}, nil
}
