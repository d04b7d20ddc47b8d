// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"testing"
)

func TestRelayError(t *testing.T) {
	err := New("connect", "0.0.0.0:80 -> 10.0.0.1:8080", "192.168.1.7", ErrDenied)

	if !errors.Is(err, ErrDenied) {
		t.Errorf("expected errors.Is to match ErrDenied, got %v", err)
	}

	var re *RelayError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RelayError, got %T", err)
	}
	if re.Op != "connect" {
		t.Errorf("expected op connect, got %s", re.Op)
	}

	want := "connect [0.0.0.0:80 -> 10.0.0.1:8080] 192.168.1.7: denied"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestRelayErrorWithoutPeer(t *testing.T) {
	err := New("bind", "0.0.0.0:80 -> 10.0.0.1:8080", "", ErrInvalidRule)
	want := "bind [0.0.0.0:80 -> 10.0.0.1:8080]: invalid forwarding rule"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestNilErrors(t *testing.T) {
	if New("accept", "r", "p", nil) != nil {
		t.Error("expected nil for nil underlying error")
	}
	if Wrap(nil, "context") != nil {
		t.Error("expected nil wrap of nil error")
	}
}

func TestWrap(t *testing.T) {
	err := Wrap(ErrResourceExhausted, "grow slot pool")
	if !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("expected wrapped sentinel, got %v", err)
	}
	if err.Error() != "grow slot pool: resource exhausted" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
