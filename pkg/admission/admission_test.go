// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"errors"
	"fmt"
	"testing"

	mrerrors "github.com/absmach/mrelay/pkg/errors"
)

func TestPolicyCheck(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		address string
		want    error
	}{
		{
			name:    "no lists admits everything",
			policy:  Policy{},
			address: "203.0.113.9",
			want:    nil,
		},
		{
			name:    "global allow with rule deny rejects denied address",
			policy:  Policy{Global: Lists{Allow: []string{"10.*"}}, Rule: Lists{Deny: []string{"10.0.0.5"}}},
			address: "10.0.0.5",
			want:    mrerrors.ErrDenied,
		},
		{
			name:    "global allow with rule deny admits other address",
			policy:  Policy{Global: Lists{Allow: []string{"10.*"}}, Rule: Lists{Deny: []string{"10.0.0.5"}}},
			address: "10.0.0.6",
			want:    nil,
		},
		{
			name:    "global allow miss",
			policy:  Policy{Global: Lists{Allow: []string{"10.*"}}},
			address: "192.168.0.1",
			want:    mrerrors.ErrNotAllowed,
		},
		{
			name:    "global deny hit",
			policy:  Policy{Global: Lists{Deny: []string{"192.168.*"}}},
			address: "192.168.0.1",
			want:    mrerrors.ErrDenied,
		},
		{
			name:    "rule allow miss",
			policy:  Policy{Rule: Lists{Allow: []string{"172.16.*"}}},
			address: "10.1.1.1",
			want:    mrerrors.ErrNotAllowed,
		},
		{
			name: "global deny short-circuits before rule allow",
			policy: Policy{
				Global: Lists{Deny: []string{"10.0.0.1"}},
				Rule:   Lists{Allow: []string{"10.0.0.1"}},
			},
			address: "10.0.0.1",
			want:    mrerrors.ErrDenied,
		},
		{
			name: "global allow miss reported before global deny",
			policy: Policy{
				Global: Lists{Allow: []string{"10.*"}, Deny: []string{"*"}},
			},
			address: "192.168.1.1",
			want:    mrerrors.ErrNotAllowed,
		},
		{
			name: "rule allow and deny both match",
			policy: Policy{
				Rule: Lists{Allow: []string{"10.0.0.*"}, Deny: []string{"10.0.0.9"}},
			},
			address: "10.0.0.9",
			want:    mrerrors.ErrDenied,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.policy.Check(tc.address)
			if !errors.Is(got, tc.want) || (tc.want == nil && got != nil) {
				t.Errorf("Check(%q) = %v, want %v", tc.address, got, tc.want)
			}
		})
	}
}

func TestCheckIsIndependentOfHistory(t *testing.T) {
	policy := Policy{
		Global: Lists{Allow: []string{"10.*"}},
		Rule:   Lists{Deny: []string{"10.0.0.5"}},
	}
	addresses := []string{"10.0.0.5", "10.0.0.6", "192.168.1.1", "10.0.0.5"}

	first := make([]error, len(addresses))
	for i, addr := range addresses {
		first[i] = policy.Check(addr)
	}
	for i := len(addresses) - 1; i >= 0; i-- {
		if got := policy.Check(addresses[i]); got != first[i] {
			t.Errorf("Check(%q) changed from %v to %v", addresses[i], first[i], got)
		}
	}
}

func TestReason(t *testing.T) {
	if Reason(nil) != "" {
		t.Error("expected empty reason for admitted address")
	}
	if Reason(mrerrors.ErrNotAllowed) != "not-allowed" {
		t.Errorf("unexpected reason %q", Reason(mrerrors.ErrNotAllowed))
	}
	if Reason(mrerrors.ErrDenied) != "denied" {
		t.Errorf("unexpected reason %q", Reason(mrerrors.ErrDenied))
	}

	wrapped := mrerrors.New("admit", "0.0.0.0:22 -> ssh:22", "10.1.1.1", mrerrors.ErrDenied)
	if got := Reason(wrapped); got != "denied" {
		t.Errorf("expected wrapped denial to map to denied, got %q", got)
	}
	if got := Reason(fmt.Errorf("rule 3: %w", mrerrors.ErrNotAllowed)); got != "not-allowed" {
		t.Errorf("expected wrapped rejection to map to not-allowed, got %q", got)
	}
}
