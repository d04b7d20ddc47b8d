// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build unix && !linux

package relay

import "golang.org/x/sys/unix"

// setLowWater asks the kernel to report the socket writable only once size
// bytes of send space are free.
func setLowWater(fd, size int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDLOWAT, size)
}
