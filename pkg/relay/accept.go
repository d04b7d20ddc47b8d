// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/mrelay/pkg/admission"
	mrerrors "github.com/absmach/mrelay/pkg/errors"
	"github.com/absmach/mrelay/pkg/handler"
	"github.com/absmach/mrelay/pkg/pool"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// accept takes one pending connection from l, checks admission and starts
// the outbound connect to the rule's target.
func (e *Engine) accept(ctx context.Context, l *listener) {
	fd, sa, err := unix.Accept(l.fd)
	if err != nil {
		if isTemporary(err) || errors.Is(err, unix.ECONNABORTED) {
			return
		}
		e.emit(ctx, handler.Event{
			Kind: handler.KindAcceptFailed,
			Err:  mrerrors.New("accept", l.rule.String(), "", err),
		}.WithRule(l.rule))
		return
	}
	if err := setSocketDefaults(fd); err != nil {
		e.logger.Debug("failed to set socket options", slog.String("error", err.Error()))
	}

	peer := addrPort(sa).Addr()
	s, err := e.pool.Acquire()
	if err != nil {
		e.logger.Warn("connection dropped, slot pool exhausted",
			slog.String("rule", l.rule.String()),
			slog.String("peer", peer.String()),
			slog.Int("slots", e.pool.Len()),
			slog.String("error", err.Error()))
		e.sockets.Close(fd)
		return
	}

	s.Remote = fd
	s.Peer = peer
	s.Rule = l.rule
	s.SessionID = uuid.NewString()
	s.Opened = time.Now()

	if err := l.policy.Check(peer.String()); err != nil {
		e.refuse(ctx, s, handler.Kind(admission.Reason(err)), nil)
		return
	}

	if kind, err := e.openLocal(s); err != nil {
		e.refuse(ctx, s, kind, mrerrors.New(string(kind), l.rule.String(), peer.String(), err))
		return
	}

	e.emit(ctx, slotEvent(handler.KindOpened, s, nil))
}

// openLocal creates the target socket and starts a non-blocking connect.
// An in-progress connect is not an error; failure surfaces on the first
// read or write. On error the returned kind names the failed step.
func (e *Engine) openLocal(s *pool.Slot) (handler.Kind, error) {
	sa, err := sockaddr(s.Rule.Target)
	if err != nil {
		return handler.KindLocalConnectFailed, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return handler.KindLocalSocketFailed, err
	}
	if err := setSocketDefaults(fd); err != nil {
		unix.Close(fd)
		return handler.KindLocalSocketFailed, err
	}

	if err := unix.Connect(fd, sa); err != nil && !isTemporary(err) {
		unix.Close(fd)
		return handler.KindLocalConnectFailed, err
	}
	s.Local = fd

	return "", nil
}

// refuse ends a freshly accepted connection before any data is relayed. No
// done event follows.
func (e *Engine) refuse(ctx context.Context, s *pool.Slot, kind handler.Kind, err error) {
	if s.Remote != pool.NoSocket {
		e.sockets.Close(s.Remote)
		s.Remote = pool.NoSocket
	}
	s.RemoteClosed = true
	s.LocalClosed = true
	s.Reported = true
	e.emit(ctx, slotEvent(kind, s, err))
}

func slotEvent(kind handler.Kind, s *pool.Slot, err error) handler.Event {
	return handler.Event{
		Kind:      kind,
		SessionID: s.SessionID,
		Peer:      s.Peer,
		Err:       err,
		Time:      s.Opened,
	}.WithRule(s.Rule)
}
