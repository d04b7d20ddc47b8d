// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"log/slog"

	"github.com/absmach/mrelay/pkg/pool"
	"golang.org/x/sys/unix"
)

const errorEvents = unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

// polledSlot maps a slot to its entries in the poll set; -1 if a side is
// not polled this pass.
type polledSlot struct {
	slot   *pool.Slot
	remote int
	local  int
}

// interest returns the poll events wanted on each side of a slot.
func interest(s *pool.Slot) (remote, local int16) {
	if !s.RemoteClosed {
		if !s.In.Full() {
			remote |= unix.POLLIN
		}
		if !s.Out.Empty() || s.Closing {
			remote |= unix.POLLOUT
		}
	}
	if !s.LocalClosed {
		if !s.Out.Full() {
			local |= unix.POLLIN
		}
		if !s.In.Empty() || s.Closing {
			local |= unix.POLLOUT
		}
	}
	return remote, local
}

// ready reports whether a requested direction fired. Hang-up and error
// conditions count as readiness for every requested direction so the
// handler observes them.
func ready(fd unix.PollFd, dir int16) bool {
	return fd.Events&dir != 0 && fd.Revents&(dir|errorEvents) != 0
}

func poll(fds []unix.PollFd) error {
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// buildPollSet lays out the wake pipe, then listeners, then slot sockets.
func (e *Engine) buildPollSet() {
	e.fds = e.fds[:0]
	e.polled = e.polled[:0]

	e.fds = append(e.fds, unix.PollFd{Fd: int32(e.wakeR), Events: unix.POLLIN})
	for _, l := range e.listeners {
		e.fds = append(e.fds, unix.PollFd{Fd: int32(l.fd), Events: unix.POLLIN})
	}

	for _, s := range e.pool.Slots() {
		if s.Closed {
			continue
		}
		remote, local := interest(s)
		ps := polledSlot{slot: s, remote: -1, local: -1}
		if remote != 0 {
			ps.remote = len(e.fds)
			e.fds = append(e.fds, unix.PollFd{Fd: int32(s.Remote), Events: remote})
		}
		if local != 0 {
			ps.local = len(e.fds)
			e.fds = append(e.fds, unix.PollFd{Fd: int32(s.Local), Events: local})
		}
		if ps.remote >= 0 || ps.local >= 0 {
			e.polled = append(e.polled, ps)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context) {
	if e.fds[0].Revents != 0 {
		e.drainWake()
	}

	for i := range e.listeners {
		if ready(e.fds[1+i], unix.POLLIN) {
			e.accept(ctx, &e.listeners[i])
		}
	}

	for _, ps := range e.polled {
		s := ps.slot
		if ps.remote >= 0 {
			fd := e.fds[ps.remote]
			if !s.RemoteClosed && ready(fd, unix.POLLIN) {
				e.handleRead(ctx, s, remoteEnd(s), localEnd(s))
			}
			if !s.RemoteClosed && ready(fd, unix.POLLOUT) {
				e.handleWrite(ctx, s, remoteEnd(s), localEnd(s))
			}
		}
		if ps.local >= 0 {
			fd := e.fds[ps.local]
			if !s.LocalClosed && ready(fd, unix.POLLIN) {
				e.handleRead(ctx, s, localEnd(s), remoteEnd(s))
			}
			if !s.LocalClosed && ready(fd, unix.POLLOUT) {
				e.handleWrite(ctx, s, localEnd(s), remoteEnd(s))
			}
		}
	}

	e.reap(ctx)
}

// reap finishes and releases every slot whose sides have both closed.
func (e *Engine) reap(ctx context.Context) {
	for _, s := range e.pool.Slots() {
		if s.Closed || !s.Done() {
			continue
		}
		if !s.Reported {
			s.Reported = true
			e.emit(ctx, doneEvent(s))
		}
		if err := e.pool.Release(s); err != nil {
			e.logger.Error("failed to release slot",
				slog.Int("slot", s.Index),
				slog.String("error", err.Error()))
		}
	}
}
