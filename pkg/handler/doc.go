// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the interface that links the relay engine to
// logging, metrics and any other observer of connection events.
//
// # Data Flow
//
//	Listener → Accept (admission, connect) → Handler (opened | refused | failed)
//	Slot → Relay handlers (read, write, close) → Handler (done)
//
// # Events
//
// The engine reports one Event per occurrence:
//   - opened: a connection passed admission and an outbound connect was
//     started. Connectivity to the target is not yet confirmed.
//   - done: both sides of a connection have closed. ClosedFirst names the
//     side that ended first and BytesIn/BytesOut carry the totals.
//   - not-allowed, denied: admission rejected the peer.
//   - accept-failed, local-socket-failed, local-bind-failed,
//     local-connect-failed: a socket operation failed.
//
// Handlers run on the engine's loop goroutine and must not block. Errors
// they return are logged by the engine and otherwise ignored.
//
// # Example
//
//	type AuditHandler struct {
//		store AuditStore
//	}
//
//	func (h *AuditHandler) Handle(ctx context.Context, e handler.Event) error {
//		if e.Kind != handler.KindDone {
//			return nil
//		}
//		return h.store.Record(e.SessionID, e.BytesIn, e.BytesOut)
//	}
package handler
