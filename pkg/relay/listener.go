// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/absmach/mrelay/pkg/admission"
	mrerrors "github.com/absmach/mrelay/pkg/errors"
	"github.com/absmach/mrelay/pkg/handler"
	"github.com/absmach/mrelay/pkg/rules"
	"golang.org/x/sys/unix"
)

const backlog = 128

type listener struct {
	fd     int
	rule   *rules.Rule
	policy admission.Policy
	addr   netip.AddrPort
}

// apply replaces the listener table with one built from t. A rule that
// cannot be bound is skipped and reported as local-bind-failed.
func (e *Engine) apply(ctx context.Context, t *rules.Table) {
	e.closeListeners()
	e.table = t

	addrs := make([]netip.AddrPort, len(t.Rules))
	for i := range t.Rules {
		r := &t.Rules[i]
		fd, addr, err := listen(r.Bind)
		if err != nil {
			e.logger.Error("failed to bind forwarding rule",
				slog.String("rule", r.String()),
				slog.String("error", err.Error()))
			e.emit(ctx, handler.Event{
				Kind: handler.KindLocalBindFailed,
				Err:  mrerrors.New("bind", r.String(), "", err),
			}.WithRule(r))
			continue
		}

		e.listeners = append(e.listeners, listener{
			fd:     fd,
			rule:   r,
			policy: t.Policy(i),
			addr:   addr,
		})
		addrs[i] = addr
		e.logger.Info("forwarding rule listening",
			slog.String("rule", r.String()),
			slog.String("address", addr.String()))
	}

	e.addrs.Store(&addrs)
	e.bound.Store(int64(len(e.listeners)))
	e.ruleCount.Store(int64(len(t.Rules)))
}

func (e *Engine) closeListeners() {
	for _, l := range e.listeners {
		unix.Close(l.fd)
	}
	e.listeners = e.listeners[:0]
	e.bound.Store(0)
}

// listen opens a non-blocking IPv4 listening socket on bind.
func listen(bind netip.AddrPort) (int, netip.AddrPort, error) {
	sa, err := sockaddr(bind)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	unix.CloseOnExec(fd)

	if err := configureListener(fd, sa); err != nil {
		unix.Close(fd)
		return -1, netip.AddrPort{}, err
	}

	addr := bind
	if bound, err := unix.Getsockname(fd); err == nil {
		addr = addrPort(bound)
	}

	return fd, addr, nil
}

func configureListener(fd int, sa unix.Sockaddr) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return err
	}
	return unix.SetNonblock(fd, true)
}
