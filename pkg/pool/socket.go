// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pool

import "golang.org/x/sys/unix"

func closeSocket(fd int) error {
	return unix.Close(fd)
}
