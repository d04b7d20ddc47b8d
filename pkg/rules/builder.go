// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rules

// Builder assembles a Table in declaration order. Patterns added before the
// first rule are global; patterns added after a rule belong to that rule.
// Segments are therefore contiguous by construction.
type Builder struct {
	table Table
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddRule appends a forwarding rule. Its pattern segments are reset and
// filled by subsequent Allow and Deny calls.
func (b *Builder) AddRule(r Rule) {
	r.Allow = Segment{Offset: len(b.table.Allow)}
	r.Deny = Segment{Offset: len(b.table.Deny)}
	b.table.Rules = append(b.table.Rules, r)
}

// Allow appends an allow pattern to the current scope.
func (b *Builder) Allow(pattern string) {
	b.table.Allow = append(b.table.Allow, pattern)
	if n := len(b.table.Rules); n > 0 {
		b.table.Rules[n-1].Allow.Count++
		return
	}
	b.table.GlobalAllow++
}

// Deny appends a deny pattern to the current scope.
func (b *Builder) Deny(pattern string) {
	b.table.Deny = append(b.table.Deny, pattern)
	if n := len(b.table.Rules); n > 0 {
		b.table.Rules[n-1].Deny.Count++
		return
	}
	b.table.GlobalDeny++
}

// Table returns the assembled table. The builder must not be used afterwards.
func (b *Builder) Table() *Table {
	t := b.table
	return &t
}
