// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package buffer provides the fixed-capacity byte queue used for each relay
// direction.
//
// A Queue is filled at its fill cursor and drained at its drain cursor, with
// 0 <= drain <= fill <= capacity at all times. It is not a ring: once every
// queued byte has been drained both cursors return to zero, so free space is
// always the single tail region after the fill cursor.
package buffer

import "fmt"

// DefaultCapacity is the per-direction buffer size.
const DefaultCapacity = 1024

// Queue is a fill-then-drain byte buffer. The zero value is unusable; use New.
type Queue struct {
	data  []byte
	fill  int
	drain int
}

// New allocates a queue holding up to capacity bytes.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{data: make([]byte, capacity)}
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.data) }

// Len returns the number of queued bytes not yet drained.
func (q *Queue) Len() int { return q.fill - q.drain }

// Full reports whether no free space remains.
func (q *Queue) Full() bool { return q.fill == len(q.data) }

// Empty reports whether every queued byte has been drained.
func (q *Queue) Empty() bool { return q.fill == q.drain }

// Cursors returns the fill and drain positions.
func (q *Queue) Cursors() (fill, drain int) { return q.fill, q.drain }

// Free returns the writable tail of the queue. Receive into it, then call
// Fill with the number of bytes received.
func (q *Queue) Free() []byte { return q.data[q.fill:] }

// Fill commits n bytes written into Free.
func (q *Queue) Fill(n int) {
	if n < 0 || n > len(q.data)-q.fill {
		panic(fmt.Sprintf("buffer: fill %d with %d bytes free", n, len(q.data)-q.fill))
	}
	q.fill += n
}

// Pending returns the queued bytes awaiting delivery. Send from it, then
// call Drain with the number of bytes sent.
func (q *Queue) Pending() []byte { return q.data[q.drain:q.fill] }

// Drain consumes n bytes from Pending. When the queue becomes empty both
// cursors reset to zero.
func (q *Queue) Drain(n int) {
	if n < 0 || n > q.fill-q.drain {
		panic(fmt.Sprintf("buffer: drain %d with %d bytes pending", n, q.fill-q.drain))
	}
	q.drain += n
	if q.drain == q.fill {
		q.drain = 0
		q.fill = 0
	}
}

// Reset empties the queue and zeroes its storage.
func (q *Queue) Reset() {
	clear(q.data)
	q.fill = 0
	q.drain = 0
}
