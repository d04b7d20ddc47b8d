// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pool provides the reusable connection slots of the relay engine.
//
// A Pool owns every Slot for the lifetime of the engine. Slots are never
// freed: a finished connection marks its slot Closed and a later accept
// reuses it. When no Closed slot is left the pool doubles, keeping existing
// slots at their index. The pool is not safe for concurrent mutation; only
// Stats may be called from other goroutines.
package pool

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/absmach/mrelay/pkg/buffer"
	mrerrors "github.com/absmach/mrelay/pkg/errors"
	"github.com/absmach/mrelay/pkg/rules"
)

// DefaultSize is the initial number of slots.
const DefaultSize = 64

// NoSocket marks a socket handle that is not open.
const NoSocket = -1

// Side names one end of a relayed connection.
type Side int

const (
	// SideNone means neither side has closed.
	SideNone Side = iota
	// SideLocal is the connection to the forwarding target.
	SideLocal
	// SideRemote is the accepted client connection.
	SideRemote
)

// String returns a string representation of the side.
func (s Side) String() string {
	switch s {
	case SideLocal:
		return "local"
	case SideRemote:
		return "remote"
	default:
		return "none"
	}
}

// Config holds slot pool configuration.
type Config struct {
	// InitialSize is the number of slots allocated up front.
	// If 0, DefaultSize is used.
	InitialSize int
	// MaxSize caps growth. A doubling that would exceed it fails with
	// errors.ErrResourceExhausted. If 0, there is no limit.
	MaxSize int
	// BufferSize is the capacity of each direction's buffer.
	// If 0, buffer.DefaultCapacity is used.
	BufferSize int
	// CloseSocket releases a socket handle. Defaults to closing the file
	// descriptor.
	CloseSocket func(fd int) error
}

// Slot is one relayed connection, or a reusable record of a finished one.
type Slot struct {
	// Index is the slot's stable position in the pool.
	Index int

	Remote int
	Local  int

	// In carries remote -> local bytes, Out carries local -> remote bytes.
	In  *buffer.Queue
	Out *buffer.Queue

	Closing      bool
	RemoteClosed bool
	LocalClosed  bool
	Closed       bool

	// ClosedFirst records which side ended first once Closing is set.
	ClosedFirst Side
	// Reported is set once a terminal event has been emitted for the slot.
	Reported bool

	// BytesIn counts bytes received from the remote peer, BytesOut bytes
	// sent to it.
	BytesIn  int64
	BytesOut int64

	Peer      netip.Addr
	Rule      *rules.Rule
	SessionID string
	Opened    time.Time
}

func newSlot(index, bufferSize int) *Slot {
	return &Slot{
		Index:  index,
		Remote: NoSocket,
		Local:  NoSocket,
		In:     buffer.New(bufferSize),
		Out:    buffer.New(bufferSize),
		Closed: true,
	}
}

// reset returns the slot to its freshly acquired state.
func (s *Slot) reset() {
	s.Remote = NoSocket
	s.Local = NoSocket
	s.In.Reset()
	s.Out.Reset()
	s.Closing = false
	s.RemoteClosed = false
	s.LocalClosed = false
	s.Closed = false
	s.ClosedFirst = SideNone
	s.Reported = false
	s.BytesIn = 0
	s.BytesOut = 0
	s.Peer = netip.Addr{}
	s.Rule = nil
	s.SessionID = ""
	s.Opened = time.Time{}
}

// Done reports whether both sides have closed.
func (s *Slot) Done() bool {
	return s.RemoteClosed && s.LocalClosed
}

// Pool is a growable table of connection slots.
type Pool struct {
	slots  []*Slot
	config Config

	size   atomic.Int64
	active atomic.Int64
	grown  atomic.Int64
}

// New creates a new slot pool with InitialSize closed slots.
func New(config Config) *Pool {
	if config.InitialSize <= 0 {
		config.InitialSize = DefaultSize
	}
	if config.MaxSize > 0 && config.MaxSize < config.InitialSize {
		config.MaxSize = config.InitialSize
	}
	if config.BufferSize <= 0 {
		config.BufferSize = buffer.DefaultCapacity
	}
	if config.CloseSocket == nil {
		config.CloseSocket = closeSocket
	}

	p := &Pool{
		slots:  make([]*Slot, config.InitialSize),
		config: config,
	}
	for i := range p.slots {
		p.slots[i] = newSlot(i, config.BufferSize)
	}
	p.size.Store(int64(len(p.slots)))

	return p
}

// Acquire returns a closed slot reset for a new connection, doubling the
// pool if none is free. It returns errors.ErrResourceExhausted when growth
// is not possible; the pool is unchanged in that case.
func (p *Pool) Acquire() (*Slot, error) {
	for _, s := range p.slots {
		if s.Closed {
			return p.take(s), nil
		}
	}

	old := len(p.slots)
	if err := p.grow(); err != nil {
		return nil, err
	}
	return p.take(p.slots[old]), nil
}

func (p *Pool) take(s *Slot) *Slot {
	s.reset()
	p.active.Add(1)
	return s
}

// grow doubles the pool. The new table is fully built before it replaces
// the old one, so a failure leaves existing slots untouched.
func (p *Pool) grow() error {
	old := len(p.slots)
	size := old * 2
	if p.config.MaxSize > 0 && size > p.config.MaxSize {
		return mrerrors.ErrResourceExhausted
	}

	slots := make([]*Slot, size)
	copy(slots, p.slots)
	for i := old; i < size; i++ {
		slots[i] = newSlot(i, p.config.BufferSize)
	}

	p.slots = slots
	p.size.Store(int64(size))
	p.grown.Add(1)
	return nil
}

// Release reclaims a slot whose sides have both closed. Any socket handle
// still held is closed, buffers are zeroed and the slot is marked Closed.
func (p *Pool) Release(s *Slot) error {
	if s.Closed {
		return nil
	}
	if !s.Done() {
		return mrerrors.ErrSlotBusy
	}

	if s.Remote != NoSocket {
		p.config.CloseSocket(s.Remote)
		s.Remote = NoSocket
	}
	if s.Local != NoSocket {
		p.config.CloseSocket(s.Local)
		s.Local = NoSocket
	}
	s.In.Reset()
	s.Out.Reset()
	s.Closed = true
	p.active.Add(-1)

	return nil
}

// Slots returns the slot table for iteration. The slice is replaced, not
// modified, when the pool grows.
func (p *Pool) Slots() []*Slot {
	return p.slots
}

// Len returns the number of slots.
func (p *Pool) Len() int {
	return len(p.slots)
}

// MaxSize returns the growth ceiling, 0 if unlimited.
func (p *Pool) MaxSize() int {
	return p.config.MaxSize
}

// Stats returns pool statistics. It is safe to call from any goroutine.
func (p *Pool) Stats() (size, active int) {
	return int(p.size.Load()), int(p.active.Load())
}

// Growths returns how many times the pool has doubled.
func (p *Pool) Growths() int {
	return int(p.grown.Load())
}
