// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package rules holds the immutable forwarding rule table handed to the relay
// engine: the ordered forwarding rules and the allow and deny pattern lists
// they index into.
package rules

import (
	"fmt"
	"net/netip"

	"github.com/absmach/mrelay/pkg/admission"
	mrerrors "github.com/absmach/mrelay/pkg/errors"
)

// Segment locates a contiguous run of patterns in a pattern list.
type Segment struct {
	Offset int
	Count  int
}

func (s Segment) end() int { return s.Offset + s.Count }

// Rule is one forwarding rule. The host and port fields are kept for logging
// exactly as written in the configuration; Bind and Target hold the resolved
// numeric addresses.
type Rule struct {
	BindHost   string
	BindPort   uint16
	TargetHost string
	TargetPort uint16

	Bind   netip.AddrPort
	Target netip.AddrPort

	// Allow and Deny locate this rule's own patterns in Table.Allow and
	// Table.Deny.
	Allow Segment
	Deny  Segment
}

// String returns "bindhost:port -> targethost:port".
func (r *Rule) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", r.BindHost, r.BindPort, r.TargetHost, r.TargetPort)
}

// Table is an ordered rule set plus its pattern lists. Allow[:GlobalAllow]
// and Deny[:GlobalDeny] are global; the remainder is partitioned into
// per-rule segments in rule order.
type Table struct {
	Rules []Rule
	Allow []string
	Deny  []string

	GlobalAllow int
	GlobalDeny  int
}

// Policy returns the admission policy for rule i.
func (t *Table) Policy(i int) admission.Policy {
	r := &t.Rules[i]
	return admission.Policy{
		Global: admission.Lists{
			Allow: t.Allow[:t.GlobalAllow],
			Deny:  t.Deny[:t.GlobalDeny],
		},
		Rule: admission.Lists{
			Allow: t.Allow[r.Allow.Offset:r.Allow.end()],
			Deny:  t.Deny[r.Deny.Offset:r.Deny.end()],
		},
	}
}

// Validate checks the table invariants: global segments lie within their
// lists, every rule segment is in range, segments follow rule order without
// overlapping, and every rule has a valid target.
func (t *Table) Validate() error {
	if t.GlobalAllow < 0 || t.GlobalAllow > len(t.Allow) {
		return fmt.Errorf("%w: global allow count %d out of range", mrerrors.ErrInvalidRule, t.GlobalAllow)
	}
	if t.GlobalDeny < 0 || t.GlobalDeny > len(t.Deny) {
		return fmt.Errorf("%w: global deny count %d out of range", mrerrors.ErrInvalidRule, t.GlobalDeny)
	}

	nextAllow, nextDeny := t.GlobalAllow, t.GlobalDeny
	for i := range t.Rules {
		r := &t.Rules[i]
		if !r.Target.IsValid() || r.Target.Port() == 0 {
			return fmt.Errorf("%w: rule %d (%s) has no target", mrerrors.ErrInvalidRule, i, r)
		}
		if err := checkSegment(r.Allow, nextAllow, len(t.Allow)); err != nil {
			return fmt.Errorf("%w: rule %d allow %v", mrerrors.ErrInvalidRule, i, err)
		}
		if err := checkSegment(r.Deny, nextDeny, len(t.Deny)); err != nil {
			return fmt.Errorf("%w: rule %d deny %v", mrerrors.ErrInvalidRule, i, err)
		}
		if r.Allow.Count > 0 {
			nextAllow = r.Allow.end()
		}
		if r.Deny.Count > 0 {
			nextDeny = r.Deny.end()
		}
	}
	return nil
}

func checkSegment(s Segment, min, total int) error {
	if s.Count < 0 || s.Offset < 0 {
		return fmt.Errorf("segment %+v is negative", s)
	}
	if s.Count == 0 {
		return nil
	}
	if s.Offset < min {
		return fmt.Errorf("segment %+v overlaps an earlier segment", s)
	}
	if s.end() > total {
		return fmt.Errorf("segment %+v exceeds list length %d", s, total)
	}
	return nil
}
