// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/mrelay/pkg/buffer"
	"github.com/absmach/mrelay/pkg/handler"
	"github.com/absmach/mrelay/pkg/pool"
)

// end is one side of a slot as seen by the relay handlers. recv is filled by
// reading this side, send is drained by writing to it.
type end struct {
	side   pool.Side
	fd     *int
	closed *bool
	recv   *buffer.Queue
	send   *buffer.Queue

	// Counted for the remote side only.
	read    *int64
	written *int64
}

func remoteEnd(s *pool.Slot) end {
	return end{
		side:    pool.SideRemote,
		fd:      &s.Remote,
		closed:  &s.RemoteClosed,
		recv:    s.In,
		send:    s.Out,
		read:    &s.BytesIn,
		written: &s.BytesOut,
	}
}

func localEnd(s *pool.Slot) end {
	return end{
		side:   pool.SideLocal,
		fd:     &s.Local,
		closed: &s.LocalClosed,
		recv:   s.Out,
		send:   s.In,
	}
}

// handleRead receives from this side into its buffer.
func (e *Engine) handleRead(ctx context.Context, s *pool.Slot, this, other end) {
	if this.recv.Full() {
		return
	}

	n, err := e.sockets.Read(*this.fd, this.recv.Free())
	switch {
	case err != nil:
		if isTemporary(err) {
			return
		}
		e.closeFrom(s, this, other)
	case n == 0:
		e.closeFrom(s, this, other)
	default:
		this.recv.Fill(n)
		if this.read != nil {
			*this.read += int64(n)
		}
	}
}

// handleWrite sends this side's pending bytes. Once the connection is
// Closing and nothing is left to send, this side is closed and the
// connection is done.
func (e *Engine) handleWrite(ctx context.Context, s *pool.Slot, this, other end) {
	if s.Closing && this.send.Empty() {
		e.finish(ctx, s, this)
		return
	}
	if this.send.Empty() {
		return
	}

	n, err := e.sockets.Write(*this.fd, this.send.Pending())
	if err != nil {
		if isTemporary(err) {
			return
		}
		e.closeFrom(s, this, other)
		return
	}
	this.send.Drain(n)
	if this.written != nil {
		*this.written += int64(n)
	}
}

// closeFrom ends this side after EOF or an error. The other side is left
// open to drain what is queued toward it.
func (e *Engine) closeFrom(s *pool.Slot, this, other end) {
	e.closeSocket(this)
	s.Closing = true
	if *other.closed {
		return
	}
	s.ClosedFirst = this.side
	if err := setLowWater(*other.fd, this.recv.Cap()); err != nil {
		e.logger.Debug("failed to set send low-water mark",
			slog.String("session", s.SessionID),
			slog.String("error", err.Error()))
	}
}

// finish closes the last open side and reports the connection as done.
func (e *Engine) finish(ctx context.Context, s *pool.Slot, this end) {
	e.closeSocket(this)
	if s.Reported {
		return
	}
	s.Reported = true
	e.emit(ctx, doneEvent(s))
}

func (e *Engine) closeSocket(this end) {
	*this.closed = true
	if *this.fd == pool.NoSocket {
		return
	}
	if err := e.sockets.Close(*this.fd); err != nil {
		e.logger.Debug("failed to close socket",
			slog.Int("fd", *this.fd),
			slog.String("error", err.Error()))
	}
	*this.fd = pool.NoSocket
}

func doneEvent(s *pool.Slot) handler.Event {
	now := time.Now()
	ev := handler.Event{
		Kind:        handler.KindDone,
		ClosedFirst: s.ClosedFirst,
		SessionID:   s.SessionID,
		Peer:        s.Peer,
		BytesIn:     s.BytesIn,
		BytesOut:    s.BytesOut,
		Time:        now,
	}
	if !s.Opened.IsZero() {
		ev.Duration = now.Sub(s.Opened)
	}
	return ev.WithRule(s.Rule)
}
