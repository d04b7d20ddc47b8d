// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package match implements the glob matcher used by allow and deny patterns.
package match

// Match reports whether address matches pattern. In a pattern, '?' matches
// exactly one character, '*' matches any run of characters including the
// empty one, and every other character matches itself.
func Match(address, pattern string) bool {
	a, p := 0, 0
	// Position of the most recent '*' and the address offset it is
	// currently assumed to cover up to.
	star, mark := -1, 0

	for a < len(address) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == address[a]):
			a++
			p++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = a
			p++
		case star >= 0:
			// Let the last '*' swallow one more character and retry.
			mark++
			a = mark
			p = star + 1
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// Any reports whether address matches at least one of patterns.
func Any(address string, patterns []string) bool {
	for _, pattern := range patterns {
		if Match(address, pattern) {
			return true
		}
	}
	return false
}
