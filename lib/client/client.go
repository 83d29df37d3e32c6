// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is a typed client for the kernel's Unix socket
// protocol. One Client owns one connection; calls on a Client are
// serialized, matching the server's strict per-connection ordering.
// Callers that want parallelism open multiple clients.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pos-kernel/poskernel/lib/health"
	"github.com/pos-kernel/poskernel/lib/metrics"
	"github.com/pos-kernel/poskernel/lib/protocol"
)

// Client is a connection to the kernel service. Safe for concurrent
// use; concurrent calls are serialized onto the single connection.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	scanner *bufio.Scanner

	nextID atomic.Uint64
}

// Dial connects to the kernel service at socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("client: dialing %s: %w", socketPath, err)
	}
	return &Client{conn: conn, scanner: protocol.NewLineScanner(conn)}, nil
}

// Close closes the connection. In-flight calls fail.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one request and waits for its response. Server failures
// are returned as *protocol.Error; transport failures as wrapped
// errors.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	request := protocol.Request{
		Method: method,
		ID:     fmt.Sprintf("c%d", c.nextID.Add(1)),
	}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("client: %s: encoding params: %w", method, err)
		}
		request.Params = encoded
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := protocol.WriteEnvelope(c.conn, request); err != nil {
		return fmt.Errorf("client: %s: %w", method, err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("client: %s: reading response: %w", method, err)
		}
		return fmt.Errorf("client: %s: connection closed by server", method)
	}

	var response protocol.Response
	if err := json.Unmarshal([]byte(c.scanner.Text()), &response); err != nil {
		return fmt.Errorf("client: %s: decoding response: %w", method, err)
	}
	if response.ID != request.ID {
		return fmt.Errorf("client: %s: response id %q does not match request id %q",
			method, response.ID, request.ID)
	}
	if response.Error != nil {
		return response.Error
	}
	if result != nil {
		if err := json.Unmarshal(response.Result, result); err != nil {
			return fmt.Errorf("client: %s: decoding result: %w", method, err)
		}
	}
	return nil
}

// CreateSession opens a new terminal session.
func (c *Client) CreateSession(ctx context.Context, terminalID, operatorID string) (protocol.CreateSessionResult, error) {
	var result protocol.CreateSessionResult
	err := c.call(ctx, protocol.MethodCreateSession, protocol.CreateSessionParams{
		TerminalID: terminalID,
		OperatorID: operatorID,
	}, &result)
	return result, err
}

// StartTransaction begins a transaction in the given session.
func (c *Client) StartTransaction(ctx context.Context, sessionID, currency, store string) (protocol.TransactionResult, error) {
	var result protocol.TransactionResult
	err := c.call(ctx, protocol.MethodStartTransaction, protocol.StartTransactionParams{
		SessionID: sessionID,
		Currency:  currency,
		Store:     store,
	}, &result)
	return result, err
}

// AddLineItem adds a top-level line to a transaction.
func (c *Client) AddLineItem(ctx context.Context, sessionID, transactionID, productID string, quantity int, unitPrice string) (protocol.TransactionResult, error) {
	var result protocol.TransactionResult
	err := c.call(ctx, protocol.MethodAddLineItem, protocol.AddLineItemParams{
		SessionID:     sessionID,
		TransactionID: transactionID,
		ProductID:     productID,
		Quantity:      quantity,
		UnitPrice:     unitPrice,
	}, &result)
	return result, err
}

// AddChildLineItem adds a line linked under an existing parent line.
func (c *Client) AddChildLineItem(ctx context.Context, sessionID, transactionID, productID string, quantity int, unitPrice string, parentLineNumber int) (protocol.TransactionResult, error) {
	var result protocol.TransactionResult
	err := c.call(ctx, protocol.MethodAddChildLineItem, protocol.AddChildLineItemParams{
		SessionID:        sessionID,
		TransactionID:    transactionID,
		ProductID:        productID,
		Quantity:         quantity,
		UnitPrice:        unitPrice,
		ParentLineNumber: parentLineNumber,
	}, &result)
	return result, err
}

// VoidLineItem voids a line by its line-item id.
func (c *Client) VoidLineItem(ctx context.Context, sessionID, transactionID, lineItemID string) (protocol.TransactionResult, error) {
	var result protocol.TransactionResult
	err := c.call(ctx, protocol.MethodVoidLineItem, protocol.VoidLineItemParams{
		SessionID:     sessionID,
		TransactionID: transactionID,
		LineItemID:    lineItemID,
	}, &result)
	return result, err
}

// ModifyLineItem replaces the quantity on a line.
func (c *Client) ModifyLineItem(ctx context.Context, sessionID, transactionID, lineItemID string, quantity int) (protocol.TransactionResult, error) {
	var result protocol.TransactionResult
	err := c.call(ctx, protocol.MethodModifyLineItem, protocol.ModifyLineItemParams{
		SessionID:     sessionID,
		TransactionID: transactionID,
		LineItemID:    lineItemID,
		Quantity:      quantity,
	}, &result)
	return result, err
}

// ProcessPayment applies a tender to a transaction.
func (c *Client) ProcessPayment(ctx context.Context, sessionID, transactionID, amount, paymentType string) (protocol.PaymentResult, error) {
	var result protocol.PaymentResult
	err := c.call(ctx, protocol.MethodProcessPayment, protocol.ProcessPaymentParams{
		SessionID:     sessionID,
		TransactionID: transactionID,
		Amount:        amount,
		PaymentType:   paymentType,
	}, &result)
	return result, err
}

// GetTransaction returns a full snapshot of a transaction.
func (c *Client) GetTransaction(ctx context.Context, sessionID, transactionID string) (protocol.TransactionSnapshot, error) {
	var result protocol.TransactionSnapshot
	err := c.call(ctx, protocol.MethodGetTransaction, protocol.GetTransactionParams{
		SessionID:     sessionID,
		TransactionID: transactionID,
	}, &result)
	return result, err
}

// CloseSession closes a session and releases its transactions.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, protocol.MethodCloseSession, protocol.CloseSessionParams{
		SessionID: sessionID,
	}, nil)
}

// ListSessions returns all live sessions.
func (c *Client) ListSessions(ctx context.Context) (protocol.ListSessionsResult, error) {
	var result protocol.ListSessionsResult
	err := c.call(ctx, protocol.MethodListSessions, nil, &result)
	return result, err
}

// Metrics returns the server's per-method counters.
func (c *Client) Metrics(ctx context.Context) (metrics.Snapshot, error) {
	var result metrics.Snapshot
	err := c.call(ctx, protocol.MethodMetrics, nil, &result)
	return result, err
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (health.Report, error) {
	var result health.Report
	err := c.call(ctx, protocol.MethodHealth, nil, &result)
	return result, err
}

// Version returns the server's version information.
func (c *Client) Version(ctx context.Context) (protocol.VersionResult, error) {
	var result protocol.VersionResult
	err := c.call(ctx, protocol.MethodVersion, nil, &result)
	return result, err
}
