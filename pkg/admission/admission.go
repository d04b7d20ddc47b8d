// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package admission decides whether a peer address may use a forwarding rule.
//
// A Policy combines the global allow and deny lists, which apply to every
// forwarding rule, with the lists that belong to one rule. Check evaluates
// them in a fixed order and stops at the first rejection:
//
//  1. global allow: if non-empty the address must match one pattern
//  2. global deny: the address must match no pattern
//  3. rule allow: if non-empty the address must match one pattern
//  4. rule deny: the address must match no pattern
//
// The decision depends only on the address and the lists; a Policy holds no
// state and is safe to share.
package admission

import (
	"errors"

	mrerrors "github.com/absmach/mrelay/pkg/errors"
	"github.com/absmach/mrelay/pkg/match"
)

// Lists is an allow list and a deny list of glob patterns.
type Lists struct {
	Allow []string
	Deny  []string
}

// Policy is the full set of patterns consulted for one forwarding rule.
type Policy struct {
	Global Lists
	Rule   Lists
}

// Check returns nil if address is admitted, errors.ErrNotAllowed if an allow
// list is non-empty and nothing in it matches, or errors.ErrDenied if a deny
// pattern matches.
func (p Policy) Check(address string) error {
	if err := p.Global.check(address); err != nil {
		return err
	}
	return p.Rule.check(address)
}

func (l Lists) check(address string) error {
	if len(l.Allow) > 0 && !match.Any(address, l.Allow) {
		return mrerrors.ErrNotAllowed
	}
	if len(l.Deny) > 0 && match.Any(address, l.Deny) {
		return mrerrors.ErrDenied
	}
	return nil
}

// Reason maps a Check result to the event name used in logs: "not-allowed",
// "denied", or "" for an admitted address.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, mrerrors.ErrNotAllowed):
		return "not-allowed"
	case errors.Is(err, mrerrors.ErrDenied):
		return "denied"
	default:
		return err.Error()
	}
}
