// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/absmach/mrelay/pkg/eventlog"
	"github.com/absmach/mrelay/pkg/handler"
)

var _ handler.Handler = (*logSink)(nil)

// logSink forwards events to the configured event log file, if any. Reset
// switches files on reload.
type logSink struct {
	mu     sync.Mutex
	path   string
	format eventlog.Format
	file   *eventlog.FileHandler
	logger *slog.Logger
}

func (s *logSink) Handle(ctx context.Context, e handler.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Handle(ctx, e)
}

// Reset reopens the current file if path and format are unchanged, so an
// externally rotated log is replaced. Otherwise the old file is closed and
// path is opened. An empty path disables the file log.
func (s *logSink) Reset(path string, format eventlog.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil && path == s.path && format == s.format {
		return s.file.Reopen()
	}

	s.closeLocked()
	s.path, s.format = path, format
	if path == "" {
		return nil
	}
	f, err := eventlog.OpenFile(path, format)
	if err != nil {
		return err
	}
	s.file = f
	if s.logger != nil {
		s.logger.Info("writing event log", slog.String("path", path))
	}
	return nil
}

func (s *logSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *logSink) closeLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
