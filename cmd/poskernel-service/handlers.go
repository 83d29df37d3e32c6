// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pos-kernel/poskernel/lib/health"
	"github.com/pos-kernel/poskernel/lib/kernel"
	"github.com/pos-kernel/poskernel/lib/metrics"
	"github.com/pos-kernel/poskernel/lib/protocol"
	"github.com/pos-kernel/poskernel/lib/version"
)

// serviceHandlers binds the wire methods to the orchestrator and the
// observability components.
type serviceHandlers struct {
	orchestrator *kernel.Orchestrator
	collector    *metrics.Collector
	checker      *health.Checker
}

// registerHandlers installs one handler per wire method. Serve panics
// at startup if this list and protocol.Methods() ever disagree.
func registerHandlers(server *Server, h *serviceHandlers) {
	server.Handle(protocol.MethodCreateSession, h.createSession)
	server.Handle(protocol.MethodStartTransaction, h.startTransaction)
	server.Handle(protocol.MethodAddLineItem, h.addLineItem)
	server.Handle(protocol.MethodAddChildLineItem, h.addChildLineItem)
	server.Handle(protocol.MethodVoidLineItem, h.voidLineItem)
	server.Handle(protocol.MethodModifyLineItem, h.modifyLineItem)
	server.Handle(protocol.MethodProcessPayment, h.processPayment)
	server.Handle(protocol.MethodGetTransaction, h.getTransaction)
	server.Handle(protocol.MethodCloseSession, h.closeSession)
	server.Handle(protocol.MethodListSessions, h.listSessions)
	server.Handle(protocol.MethodMetrics, h.metrics)
	server.Handle(protocol.MethodHealth, h.health)
	server.Handle(protocol.MethodVersion, h.version)
}

// decode unmarshals a method's parameter object. A missing or
// malformed object is the client's fault, never an internal error.
func decode[T any](params json.RawMessage) (T, *protocol.Error) {
	var decoded T
	if len(params) == 0 {
		return decoded, &protocol.Error{Code: protocol.ErrBadRequest, Message: "missing params"}
	}
	if err := json.Unmarshal(params, &decoded); err != nil {
		return decoded, &protocol.Error{
			Code:    protocol.ErrBadRequest,
			Message: fmt.Sprintf("invalid params: %v", err),
		}
	}
	return decoded, nil
}

func wireFailure(failure *kernel.Failure) *protocol.Error {
	if failure == nil {
		return nil
	}
	return &protocol.Error{Code: failure.Code, Message: failure.Message}
}

func (h *serviceHandlers) createSession(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	decoded, wireErr := decode[protocol.CreateSessionParams](params)
	if wireErr != nil {
		return nil, wireErr
	}
	result, failure := h.orchestrator.CreateSession(decoded.TerminalID, decoded.OperatorID)
	if failure != nil {
		return nil, wireFailure(failure)
	}
	return result, nil
}

func (h *serviceHandlers) startTransaction(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	decoded, wireErr := decode[protocol.StartTransactionParams](params)
	if wireErr != nil {
		return nil, wireErr
	}
	result, failure := h.orchestrator.StartTransaction(decoded.SessionID, decoded.Currency, decoded.Store)
	if failure != nil {
		return nil, wireFailure(failure)
	}
	return result, nil
}

func (h *serviceHandlers) addLineItem(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	decoded, wireErr := decode[protocol.AddLineItemParams](params)
	if wireErr != nil {
		return nil, wireErr
	}
	result, failure := h.orchestrator.AddLineItem(decoded.SessionID, decoded.TransactionID,
		decoded.ProductID, decoded.Quantity, decoded.UnitPrice)
	if failure != nil {
		return nil, wireFailure(failure)
	}
	return result, nil
}

func (h *serviceHandlers) addChildLineItem(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	decoded, wireErr := decode[protocol.AddChildLineItemParams](params)
	if wireErr != nil {
		return nil, wireErr
	}
	result, failure := h.orchestrator.AddChildLineItem(decoded.SessionID, decoded.TransactionID,
		decoded.ProductID, decoded.Quantity, decoded.UnitPrice, decoded.ParentLineNumber)
	if failure != nil {
		return nil, wireFailure(failure)
	}
	return result, nil
}

func (h *serviceHandlers) voidLineItem(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	decoded, wireErr := decode[protocol.VoidLineItemParams](params)
	if wireErr != nil {
		return nil, wireErr
	}
	result, failure := h.orchestrator.VoidLineItem(decoded.SessionID, decoded.TransactionID, decoded.LineItemID)
	if failure != nil {
		return nil, wireFailure(failure)
	}
	return result, nil
}

func (h *serviceHandlers) modifyLineItem(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	decoded, wireErr := decode[protocol.ModifyLineItemParams](params)
	if wireErr != nil {
		return nil, wireErr
	}
	result, failure := h.orchestrator.ModifyLineItem(decoded.SessionID, decoded.TransactionID,
		decoded.LineItemID, decoded.Quantity)
	if failure != nil {
		return nil, wireFailure(failure)
	}
	return result, nil
}

func (h *serviceHandlers) processPayment(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	decoded, wireErr := decode[protocol.ProcessPaymentParams](params)
	if wireErr != nil {
		return nil, wireErr
	}
	result, failure := h.orchestrator.ProcessPayment(decoded.SessionID, decoded.TransactionID,
		decoded.Amount, decoded.PaymentType)
	if failure != nil {
		return nil, wireFailure(failure)
	}
	return result, nil
}

func (h *serviceHandlers) getTransaction(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	decoded, wireErr := decode[protocol.GetTransactionParams](params)
	if wireErr != nil {
		return nil, wireErr
	}
	result, failure := h.orchestrator.GetTransaction(decoded.SessionID, decoded.TransactionID)
	if failure != nil {
		return nil, wireFailure(failure)
	}
	return result, nil
}

func (h *serviceHandlers) closeSession(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	decoded, wireErr := decode[protocol.CloseSessionParams](params)
	if wireErr != nil {
		return nil, wireErr
	}
	if failure := h.orchestrator.CloseSession(decoded.SessionID); failure != nil {
		return nil, wireFailure(failure)
	}
	return struct{}{}, nil
}

func (h *serviceHandlers) listSessions(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	return h.orchestrator.ListSessions(), nil
}

func (h *serviceHandlers) metrics(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	return h.collector.Snapshot(), nil
}

func (h *serviceHandlers) health(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	return h.checker.Report(), nil
}

func (h *serviceHandlers) version(ctx context.Context, params json.RawMessage) (any, *protocol.Error) {
	return protocol.VersionResult{Version: version.Info(), Kernel: "poskernel"}, nil
}
