// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/absmach/mrelay/pkg/pool"
	"github.com/absmach/mrelay/pkg/rules"
)

func TestNoopHandler(t *testing.T) {
	h := &NoopHandler{}
	for _, k := range []Kind{KindOpened, KindDone, KindDenied, KindAcceptFailed} {
		if err := h.Handle(context.Background(), Event{Kind: k}); err != nil {
			t.Errorf("Handle(%s) returned error: %v", k, err)
		}
	}
}

func TestEventMessage(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"opened", Event{Kind: KindOpened}, "opened"},
		{"done local first", Event{Kind: KindDone, ClosedFirst: pool.SideLocal}, "done-local-closed"},
		{"done remote first", Event{Kind: KindDone, ClosedFirst: pool.SideRemote}, "done-remote-closed"},
		{"done untagged", Event{Kind: KindDone}, "done"},
		{"denied", Event{Kind: KindDenied, ClosedFirst: pool.SideRemote}, "denied"},
		{"bind failed", Event{Kind: KindLocalBindFailed}, "local-bind-failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Message(); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindClassification(t *testing.T) {
	failures := []Kind{KindAcceptFailed, KindLocalSocketFailed, KindLocalBindFailed, KindLocalConnectFailed}
	for _, k := range failures {
		if !k.Failure() || k.Refusal() {
			t.Errorf("%s should be a failure only", k)
		}
	}
	for _, k := range []Kind{KindNotAllowed, KindDenied} {
		if !k.Refusal() || k.Failure() {
			t.Errorf("%s should be a refusal only", k)
		}
	}
	for _, k := range []Kind{KindOpened, KindDone} {
		if k.Refusal() || k.Failure() {
			t.Errorf("%s should be neither failure nor refusal", k)
		}
	}
}

func TestEventWithRule(t *testing.T) {
	r := &rules.Rule{BindHost: "0.0.0.0", BindPort: 8080, TargetHost: "backend", TargetPort: 80}
	e := Event{Kind: KindOpened, Peer: netip.MustParseAddr("10.0.0.1")}.WithRule(r)

	if e.BindHost != "0.0.0.0" || e.BindPort != 8080 || e.TargetHost != "backend" || e.TargetPort != 80 {
		t.Errorf("unexpected rule descriptors: %+v", e)
	}
	if e.Peer != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("unexpected peer %s", e.Peer)
	}
	if (Event{}).WithRule(nil).BindHost != "" {
		t.Error("nil rule should leave the event unchanged")
	}
}

// MockHandler is a mock implementation for testing.
type MockHandler struct {
	Err    error
	Events []Event
}

func (m *MockHandler) Handle(ctx context.Context, e Event) error {
	m.Events = append(m.Events, e)
	return m.Err
}

func TestMulti(t *testing.T) {
	errFirst := errors.New("first failed")
	first := &MockHandler{Err: errFirst}
	second := &MockHandler{}

	m := Multi{first, nil, second}
	err := m.Handle(context.Background(), Event{Kind: KindOpened})

	if !errors.Is(err, errFirst) {
		t.Errorf("expected joined error to contain first error, got %v", err)
	}
	if len(first.Events) != 1 || len(second.Events) != 1 {
		t.Errorf("expected every handler to receive the event, got %d and %d", len(first.Events), len(second.Events))
	}
	if err := (Multi{second}).Handle(context.Background(), Event{}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestHandlerFunc(t *testing.T) {
	var got Kind
	h := HandlerFunc(func(ctx context.Context, e Event) error {
		got = e.Kind
		return nil
	})
	if err := h.Handle(context.Background(), Event{Kind: KindDenied}); err != nil {
		t.Fatal(err)
	}
	if got != KindDenied {
		t.Errorf("expected %s, got %s", KindDenied, got)
	}
}
