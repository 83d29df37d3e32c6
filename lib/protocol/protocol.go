// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire types for the kernel's Unix socket
// protocol. Both cmd/poskernel-service and lib/client import this
// package so the envelope and parameter shapes are defined once rather
// than mirrored.
//
// Framing is one JSON envelope per newline-terminated line. JSON lines
// keep the protocol inspectable with socat and a text editor, which
// matters for a protocol whose main consumers are terminal-side
// integrations. Lines are capped at MaxLineLength; an oversized or
// malformed line produces a bad_request response without killing the
// connection loop.
package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Method names. The dispatch table is checked against Methods() at
// startup, so adding a constant here without registering a handler is
// a startup panic, not a runtime surprise.
const (
	MethodCreateSession    = "create_session"
	MethodStartTransaction = "start_transaction"
	MethodAddLineItem      = "add_line_item"
	MethodAddChildLineItem = "add_child_line_item"
	MethodVoidLineItem     = "void_line_item"
	MethodModifyLineItem   = "modify_line_item"
	MethodProcessPayment   = "process_payment"
	MethodGetTransaction   = "get_transaction"
	MethodCloseSession     = "close_session"
	MethodListSessions     = "list_sessions"
	MethodMetrics          = "metrics"
	MethodHealth           = "health"
	MethodVersion          = "version"
)

// Methods returns the canonical list of wire methods. Order is the
// documentation order, not a dispatch order.
func Methods() []string {
	return []string{
		MethodCreateSession,
		MethodStartTransaction,
		MethodAddLineItem,
		MethodAddChildLineItem,
		MethodVoidLineItem,
		MethodModifyLineItem,
		MethodProcessPayment,
		MethodGetTransaction,
		MethodCloseSession,
		MethodListSessions,
		MethodMetrics,
		MethodHealth,
		MethodVersion,
	}
}

// ErrorCode classifies a failure in a response envelope.
type ErrorCode string

const (
	// ErrBadRequest: malformed envelope, unknown method, or missing or
	// invalid parameters. The request never reached the orchestrator.
	ErrBadRequest ErrorCode = "bad_request"

	// ErrInvalidSession: the session id is unknown, expired, or closed.
	ErrInvalidSession ErrorCode = "invalid_session"

	// ErrTransactionNotFound: the transaction id is unknown or is not
	// owned by the supplied session.
	ErrTransactionNotFound ErrorCode = "transaction_not_found"

	// ErrCapacityExceeded: the live session count is at the configured
	// maximum.
	ErrCapacityExceeded ErrorCode = "capacity_exceeded"

	// ErrEngine: the transaction engine rejected the operation. The
	// message carries the engine's diagnostic unmodified.
	ErrEngine ErrorCode = "engine_error"

	// ErrInternal: unexpected server-side failure. Details are logged,
	// never sent to the client.
	ErrInternal ErrorCode = "internal_error"
)

// Request is one client request envelope.
type Request struct {
	// Method selects the operation; one of the Method* constants.
	Method string `json:"method"`

	// ID is an opaque correlation token echoed back unchanged on the
	// response. The server processes requests strictly in order per
	// connection, so the id is for client bookkeeping, not reordering.
	ID string `json:"id,omitempty"`

	// Params carries the method-specific parameter object. Decoded by
	// the handler after dispatch so a bad parameter shape fails only
	// this request.
	Params json.RawMessage `json:"params,omitempty"`
}

// Error is the failure half of a response envelope. It implements the
// error interface so clients can return it unwrapped.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// Response is one server response envelope. Exactly one of Result and
// Error is set.
type Response struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// CreateSessionParams are the parameters for create_session.
type CreateSessionParams struct {
	TerminalID string `json:"terminal_id"`
	OperatorID string `json:"operator_id"`
}

// CreateSessionResult is the result of create_session.
type CreateSessionResult struct {
	SessionID string `json:"session_id"`
}

// StartTransactionParams are the parameters for start_transaction.
// Currency is required; the kernel is culture-neutral and never
// substitutes a default.
type StartTransactionParams struct {
	SessionID string `json:"session_id"`
	Currency  string `json:"currency"`
	Store     string `json:"store,omitempty"`
}

// AddLineItemParams are the parameters for add_line_item. UnitPrice is
// a major-unit decimal string ("1.80"); the engine converts to minor
// units using the transaction currency's decimal places.
type AddLineItemParams struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	UnitPrice     string `json:"unit_price"`
}

// AddChildLineItemParams are the parameters for add_child_line_item.
// The new line is linked under ParentLineNumber, which must reference
// an existing line in the transaction.
type AddChildLineItemParams struct {
	SessionID        string `json:"session_id"`
	TransactionID    string `json:"transaction_id"`
	ProductID        string `json:"product_id"`
	Quantity         int    `json:"quantity"`
	UnitPrice        string `json:"unit_price"`
	ParentLineNumber int    `json:"parent_line_number"`
}

// VoidLineItemParams are the parameters for void_line_item.
type VoidLineItemParams struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
	LineItemID    string `json:"line_item_id"`
}

// ModifyLineItemParams are the parameters for modify_line_item.
// Quantity is the replacement quantity for the addressed line.
type ModifyLineItemParams struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
	LineItemID    string `json:"line_item_id"`
	Quantity      int    `json:"quantity"`
}

// ProcessPaymentParams are the parameters for process_payment. Amount
// is a major-unit decimal string.
type ProcessPaymentParams struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	PaymentType   string `json:"payment_type"`
}

// GetTransactionParams are the parameters for get_transaction.
type GetTransactionParams struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
}

// CloseSessionParams are the parameters for close_session.
type CloseSessionParams struct {
	SessionID string `json:"session_id"`
}

// TransactionResult is the result of the mutating line operations and
// start_transaction. Money fields are major-unit decimal strings.
type TransactionResult struct {
	TransactionID string `json:"transaction_id"`
	Total         string `json:"total"`
	State         string `json:"state"`
	LineCount     int    `json:"line_count"`
}

// PaymentResult is the result of process_payment.
type PaymentResult struct {
	TransactionID string `json:"transaction_id"`
	Total         string `json:"total"`
	State         string `json:"state"`
	Tendered      string `json:"tendered"`
	Change        string `json:"change"`
}

// LineItem is one line in a transaction snapshot.
type LineItem struct {
	LineItemID       string `json:"line_item_id"`
	LineNumber       int    `json:"line_number"`
	ProductID        string `json:"product_id"`
	Quantity         int    `json:"quantity"`
	UnitPrice        string `json:"unit_price"`
	ExtendedPrice    string `json:"extended_price"`
	ParentLineNumber int    `json:"parent_line_number,omitempty"`
	Voided           bool   `json:"voided,omitempty"`
}

// TransactionSnapshot is the result of get_transaction.
type TransactionSnapshot struct {
	TransactionID string     `json:"transaction_id"`
	Currency      string     `json:"currency"`
	Store         string     `json:"store,omitempty"`
	Total         string     `json:"total"`
	State         string     `json:"state"`
	Tendered      string     `json:"tendered"`
	Change        string     `json:"change"`
	Lines         []LineItem `json:"lines"`
}

// SessionInfo is one entry in the list_sessions result, ordered by
// creation time.
type SessionInfo struct {
	SessionID     string `json:"session_id"`
	TerminalID    string `json:"terminal_id"`
	OperatorID    string `json:"operator_id"`
	CreatedAt     int64  `json:"created_at_ms"`
	LastActivity  int64  `json:"last_activity_ms"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ListSessionsResult is the result of list_sessions.
type ListSessionsResult struct {
	Sessions []SessionInfo `json:"sessions"`
}

// VersionResult is the result of version.
type VersionResult struct {
	Version string `json:"version"`
	Kernel  string `json:"kernel"`
}

// MaxLineLength is the maximum accepted envelope size. 1 MiB is
// generous for any transaction operation; the cap prevents a client
// from exhausting server memory with an unterminated line.
const MaxLineLength = 1024 * 1024

// NewLineScanner returns a scanner that yields one envelope line per
// Scan, enforcing MaxLineLength. A line exceeding the cap surfaces as
// bufio.ErrTooLong from Err and ends the scan; clients reading
// server-generated responses never hit the cap, so the scanner's
// simpler surface is fine there. Servers use LineReader instead.
func NewLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineLength)
	return scanner
}

// ErrLineTooLong reports a line exceeding MaxLineLength. A LineReader
// returns it with the oversized line already consumed, so the stream
// stays usable.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// LineReader yields one envelope line per ReadLine, enforcing
// MaxLineLength. Unlike a Scanner it recovers from an oversized line
// by discarding through the terminating newline, so a server can
// answer bad_request and keep serving the connection.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader returns a LineReader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// ReadLine returns the next line without its newline. Oversized lines
// report ErrLineTooLong; transport errors (including io.EOF) pass
// through from the underlying reader.
func (lr *LineReader) ReadLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := lr.reader.ReadSlice('\n')
		line = append(line, chunk...)
		switch {
		case err == nil:
			if len(line)-1 > MaxLineLength {
				return nil, ErrLineTooLong
			}
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(line) > MaxLineLength {
				if err := lr.discardLine(); err != nil {
					return nil, err
				}
				return nil, ErrLineTooLong
			}
		default:
			return nil, err
		}
	}
}

// discardLine consumes input through the next newline.
func (lr *LineReader) discardLine() error {
	for {
		_, err := lr.reader.ReadSlice('\n')
		switch {
		case err == nil:
			return nil
		case errors.Is(err, bufio.ErrBufferFull):
		default:
			return err
		}
	}
}

// WriteEnvelope marshals v and writes it as one newline-terminated
// line.
func WriteEnvelope(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}
