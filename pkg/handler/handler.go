// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/absmach/mrelay/pkg/pool"
	"github.com/absmach/mrelay/pkg/rules"
)

// Kind identifies what happened to a connection or listener.
type Kind string

const (
	KindOpened             Kind = "opened"
	KindDone               Kind = "done"
	KindAcceptFailed       Kind = "accept-failed"
	KindLocalSocketFailed  Kind = "local-socket-failed"
	KindLocalBindFailed    Kind = "local-bind-failed"
	KindLocalConnectFailed Kind = "local-connect-failed"
	KindNotAllowed         Kind = "not-allowed"
	KindDenied             Kind = "denied"
)

// Failure reports whether the kind describes a failed socket operation.
func (k Kind) Failure() bool {
	switch k {
	case KindAcceptFailed, KindLocalSocketFailed, KindLocalBindFailed, KindLocalConnectFailed:
		return true
	default:
		return false
	}
}

// Refusal reports whether the kind describes an admission rejection.
func (k Kind) Refusal() bool {
	return k == KindNotAllowed || k == KindDenied
}

// Event describes one occurrence reported by the relay engine.
type Event struct {
	Kind Kind

	// ClosedFirst is set on done events.
	ClosedFirst pool.Side

	// SessionID is empty for listener events.
	SessionID string
	// Peer is the remote address. It is invalid for events not tied to an
	// accepted connection.
	Peer netip.Addr

	BindHost   string
	BindPort   uint16
	TargetHost string
	TargetPort uint16

	// BytesIn counts bytes received from the peer, BytesOut bytes sent to it.
	BytesIn  int64
	BytesOut int64

	Duration time.Duration
	Err      error
	Time     time.Time
}

// Message returns the log message for the event: the kind, with done
// events tagged by the side that closed first ("done-local-closed").
func (e Event) Message() string {
	if e.Kind == KindDone && e.ClosedFirst != pool.SideNone {
		return string(e.Kind) + "-" + e.ClosedFirst.String() + "-closed"
	}
	return string(e.Kind)
}

// WithRule copies the bind and target descriptors of r into the event.
func (e Event) WithRule(r *rules.Rule) Event {
	if r == nil {
		return e
	}
	e.BindHost = r.BindHost
	e.BindPort = r.BindPort
	e.TargetHost = r.TargetHost
	e.TargetPort = r.TargetPort
	return e
}

// Handler receives relay events.
type Handler interface {
	// Handle is called on the engine's loop goroutine for every event.
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, e Event) error

var _ Handler = HandlerFunc(nil)

// Handle calls f(ctx, e).
func (f HandlerFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// NoopHandler is a Handler implementation that ignores every event.
// Useful for testing or when no logging is needed.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) Handle(ctx context.Context, e Event) error {
	return nil
}

// Multi fans each event out to every handler in order. All handlers are
// called even if some fail; their errors are joined.
type Multi []Handler

var _ Handler = Multi(nil)

func (m Multi) Handle(ctx context.Context, e Event) error {
	var errs []error
	for _, h := range m {
		if h == nil {
			continue
		}
		if err := h.Handle(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
