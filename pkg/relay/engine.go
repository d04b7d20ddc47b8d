// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	mrerrors "github.com/absmach/mrelay/pkg/errors"
	"github.com/absmach/mrelay/pkg/handler"
	"github.com/absmach/mrelay/pkg/pool"
	"github.com/absmach/mrelay/pkg/rules"
	"golang.org/x/sys/unix"
)

// ErrRunning is returned by Run when the engine loop is already running.
var ErrRunning = errors.New("engine already running")

// Config holds the relay engine configuration.
type Config struct {
	// InitialSlots is the initial size of the connection slot pool.
	// If 0, pool.DefaultSize is used.
	InitialSlots int

	// MaxSlots caps slot pool growth. If 0, the pool grows without limit.
	MaxSlots int

	// BufferSize is the capacity of each per-direction buffer.
	// If 0, buffer.DefaultCapacity is used.
	BufferSize int

	// Logger for engine diagnostics. Relay events go to the Handler.
	Logger *slog.Logger

	// Sockets performs reads, writes and closes on connection sockets.
	// Defaults to the operating system.
	Sockets Sockets
}

// Stats is a snapshot of engine state.
type Stats struct {
	// Listeners is the number of rules currently bound.
	Listeners int
	// Rules is the number of rules in the active table.
	Rules int
	// Slots is the slot pool size, Active the slots in use.
	Slots  int
	Active int
	// MaxSlots is the pool ceiling, 0 if unlimited.
	MaxSlots int
	// Reloads counts applied rule tables after the first.
	Reloads int
	// Growths counts how many times the slot pool has doubled.
	Growths int
}

// Engine is a single-threaded TCP relay.
type Engine struct {
	config  Config
	logger  *slog.Logger
	handler handler.Handler
	sockets Sockets
	pool    *pool.Pool

	// Owned by the loop goroutine.
	table     *rules.Table
	listeners []listener
	fds       []unix.PollFd
	polled    []polledSlot

	mu      sync.Mutex
	pending *rules.Table
	running bool
	closed  bool
	wakeR   int
	wakeW   int

	ready     chan struct{}
	readyOnce sync.Once
	addrs     atomic.Pointer[[]netip.AddrPort]
	bound     atomic.Int64
	ruleCount atomic.Int64
	reloads   atomic.Int64
}

// New creates a relay engine for the given rule table. Listeners are bound
// when Run starts.
func New(cfg Config, table *rules.Table, h handler.Handler) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sockets == nil {
		cfg.Sockets = sysSockets{}
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}
	if table == nil {
		table = &rules.Table{}
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, mrerrors.Wrap(err, "failed to create wake pipe")
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, mrerrors.Wrap(err, "failed to configure wake pipe")
		}
	}

	e := &Engine{
		config:  cfg,
		logger:  cfg.Logger,
		handler: h,
		sockets: cfg.Sockets,
		pool: pool.New(pool.Config{
			InitialSize: cfg.InitialSlots,
			MaxSize:     cfg.MaxSlots,
			BufferSize:  cfg.BufferSize,
			CloseSocket: cfg.Sockets.Close,
		}),
		table: table,
		wakeR: p[0],
		wakeW: p[1],
		ready: make(chan struct{}),
	}
	e.ruleCount.Store(int64(len(table.Rules)))

	return e, nil
}

// Run binds the listeners and relays connections until ctx is cancelled or
// Close is called. On return every socket owned by the engine is closed.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		e.markReady()
		return mrerrors.ErrEngineClosed
	case e.running:
		e.mu.Unlock()
		return ErrRunning
	}
	e.running = true
	e.mu.Unlock()

	defer e.shutdown(ctx)

	stop := context.AfterFunc(ctx, e.wake)
	defer stop()

	e.apply(ctx, e.table)
	e.markReady()

	for {
		if e.stopping(ctx) {
			return nil
		}
		if t := e.takePending(); t != nil {
			e.apply(ctx, t)
			e.reloads.Add(1)
		}

		e.buildPollSet()
		if err := poll(e.fds); err != nil {
			return mrerrors.Wrap(err, "poll failed")
		}
		e.dispatch(ctx)
	}
}

// Ready returns a channel that is closed once Run has bound the initial
// listeners, or once Run has refused to start on a closed engine.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

func (e *Engine) markReady() {
	e.readyOnce.Do(func() { close(e.ready) })
}

// Reload replaces the rule table. The loop rebinds every listener at its
// next pass; connections in flight are not affected.
func (e *Engine) Reload(table *rules.Table) error {
	if table == nil {
		table = &rules.Table{}
	}
	if err := table.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return mrerrors.ErrEngineClosed
	}
	e.pending = table
	e.wakeLocked()

	return nil
}

// Close stops the engine. It is safe to call more than once and from any
// goroutine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.running {
		e.wakeLocked()
		return nil
	}
	e.closePipeLocked()

	return nil
}

// Stats returns a snapshot of engine state. It is safe to call from any
// goroutine.
func (e *Engine) Stats() Stats {
	size, active := e.pool.Stats()
	return Stats{
		Listeners: int(e.bound.Load()),
		Rules:     int(e.ruleCount.Load()),
		Slots:     size,
		Active:    active,
		MaxSlots:  e.pool.MaxSize(),
		Reloads:   int(e.reloads.Load()),
		Growths:   e.pool.Growths(),
	}
}

// Addrs returns the bound address of each rule in table order. Rules that
// failed to bind have an invalid address.
func (e *Engine) Addrs() []netip.AddrPort {
	if p := e.addrs.Load(); p != nil {
		return slices.Clone(*p)
	}
	return nil
}

func (e *Engine) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) takePending() *rules.Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.pending
	e.pending = nil
	return t
}

var wakeByte = []byte{0}

func (e *Engine) wake() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wakeLocked()
}

func (e *Engine) wakeLocked() {
	if e.wakeW == pool.NoSocket {
		return
	}
	// EAGAIN means a wake-up is already pending.
	unix.Write(e.wakeW, wakeByte)
}

func (e *Engine) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(e.wakeR, buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}

func (e *Engine) closePipeLocked() {
	if e.wakeR != pool.NoSocket {
		unix.Close(e.wakeR)
		e.wakeR = pool.NoSocket
	}
	if e.wakeW != pool.NoSocket {
		unix.Close(e.wakeW)
		e.wakeW = pool.NoSocket
	}
}

// shutdown closes every listener and connection. Connections still in
// flight are reported done before their slots are released.
func (e *Engine) shutdown(ctx context.Context) {
	e.closeListeners()
	for _, s := range e.pool.Slots() {
		if s.Closed {
			continue
		}
		s.RemoteClosed = true
		s.LocalClosed = true
		if !s.Reported {
			s.Reported = true
			e.emit(context.WithoutCancel(ctx), doneEvent(s))
		}
		e.pool.Release(s)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.running = false
	e.closePipeLocked()
	e.logger.Info("relay engine stopped")
}

func (e *Engine) emit(ctx context.Context, ev handler.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if err := e.handler.Handle(ctx, ev); err != nil {
		e.logger.Warn("event handler failed",
			slog.String("event", ev.Message()),
			slog.String("error", err.Error()))
	}
}
