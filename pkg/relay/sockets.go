// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Sockets performs the data-path operations on connection sockets.
type Sockets interface {
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	Close(fd int) error
}

type sysSockets struct{}

var _ Sockets = sysSockets{}

func (sysSockets) Read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func (sysSockets) Write(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

func (sysSockets) Close(fd int) error {
	return unix.Close(fd)
}

// isTemporary reports whether err means "try again later".
func isTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.EINPROGRESS) ||
		errors.Is(err, unix.EALREADY)
}

// setSocketDefaults makes fd non-blocking, close-on-exec, with lingering off.
func setSocketDefaults(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	unix.CloseOnExec(fd)
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 0})
}

func sockaddr(ap netip.AddrPort) (*unix.SockaddrInet4, error) {
	addr := ap.Addr().Unmap()
	if !addr.Is4() {
		return nil, fmt.Errorf("%s is not an IPv4 address", ap.Addr())
	}
	return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}, nil
}

func addrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}
