// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the connection-multiplexing engine of mrelay.
//
// # Architecture
//
// An Engine owns every listener, connection slot and buffer. A single
// goroutine, the one calling Run, drives them with one poll(2) wait per pass:
//
//	build poll set → poll (no timeout) → accept → relay handlers → reap
//
// Interest is recomputed from slot state on every pass, so the relay
// handlers only mutate their own slot and never block.
//
// # Connection Lifecycle
//
// Each accepted connection occupies a pool.Slot holding the client socket
// (remote), the target socket (local) and one buffer per direction:
//
//	remote ──read──▶ In  ──write──▶ local
//	remote ◀─write── Out ◀──read─── local
//
// When one side ends, its socket is closed and the slot enters Closing. The
// other side keeps writing until the buffer toward it is drained, then its
// socket is closed and a done event names the side that closed first.
//
// # Reconfiguration
//
// Reload and Close may be called from any goroutine. Both hand data to the
// loop under a mutex and wake it through a self-pipe kept in every poll set.
// A reloaded rule table replaces every listener at the next pass boundary.
// Connections in flight keep their original rule and target.
//
// # Example
//
//	engine, err := relay.New(relay.Config{Logger: logger}, table, handler)
//	if err != nil {
//		return err
//	}
//	g.Go(func() error { return engine.Run(ctx) })
//	...
//	engine.Reload(newTable)
package relay
