// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package eventlog provides handler.Handler sinks that record relay events:
// a structured slog sink and an append-only file sink writing the classic
// tab-separated or common web-log line formats.
package eventlog

import (
	"context"
	"log/slog"

	"github.com/absmach/mrelay/pkg/handler"
)

var _ handler.Handler = (*SlogHandler)(nil)

// SlogHandler logs every event through a slog.Logger.
type SlogHandler struct {
	logger *slog.Logger
}

// NewSlogHandler creates a new slog event handler.
func NewSlogHandler(logger *slog.Logger) *SlogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogHandler{
		logger: logger,
	}
}

// Handle logs the event. Failures are logged at error level, refusals at
// warn level and connection lifecycle events at info level.
func (h *SlogHandler) Handle(ctx context.Context, e handler.Event) error {
	attrs := []slog.Attr{
		slog.String("bind", hostPort(e.BindHost, e.BindPort)),
		slog.String("target", hostPort(e.TargetHost, e.TargetPort)),
	}
	if e.SessionID != "" {
		attrs = append(attrs, slog.String("session", e.SessionID))
	}
	if e.Peer.IsValid() {
		attrs = append(attrs, slog.String("peer", e.Peer.String()))
	}

	level := slog.LevelInfo
	switch {
	case e.Kind.Failure():
		level = slog.LevelError
		if e.Err != nil {
			attrs = append(attrs, slog.String("error", e.Err.Error()))
		}
	case e.Kind.Refusal():
		level = slog.LevelWarn
	case e.Kind == handler.KindDone:
		attrs = append(attrs,
			slog.Int64("bytes_in", e.BytesIn),
			slog.Int64("bytes_out", e.BytesOut),
			slog.Duration("duration", e.Duration))
	}

	h.logger.LogAttrs(ctx, level, e.Message(), attrs...)
	return nil
}
