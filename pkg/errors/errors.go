// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mrelay.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrNotAllowed indicates the peer matched none of the applicable allow patterns.
	ErrNotAllowed = errors.New("not allowed")

	// ErrDenied indicates the peer matched a deny pattern.
	ErrDenied = errors.New("denied")

	// ErrResourceExhausted indicates the connection slot pool could not grow.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrSlotBusy indicates an attempt to release a slot with a side still open.
	ErrSlotBusy = errors.New("slot still in use")

	// ErrInvalidPattern indicates an allow or deny pattern with illegal characters.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidRule indicates a malformed forwarding rule.
	ErrInvalidRule = errors.New("invalid forwarding rule")

	// ErrEngineClosed indicates the relay engine has been shut down.
	ErrEngineClosed = errors.New("engine closed")
)

// RelayError wraps an error with additional context.
type RelayError struct {
	Op   string // Operation that failed (accept, socket, connect, bind, ...)
	Rule string // Forwarding rule descriptor (bind -> target)
	Peer string // Remote peer address, if known
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.Rule, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Rule, e.Err)
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// New creates a new RelayError.
func New(op, rule, peer string, err error) error {
	if err == nil {
		return nil
	}
	return &RelayError{
		Op:   op,
		Rule: rule,
		Peer: peer,
		Err:  err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
