// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/absmach/mrelay/pkg/eventlog"
	"github.com/absmach/mrelay/pkg/handler"
)

func testEvent() handler.Event {
	return handler.Event{
		Kind:       handler.KindOpened,
		Peer:       netip.MustParseAddr("10.0.0.1"),
		BindHost:   "0.0.0.0",
		BindPort:   8080,
		TargetHost: "backend",
		TargetPort: 80,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestLogSinkDisabled(t *testing.T) {
	s := &logSink{}
	if err := s.Reset("", eventlog.FormatTab); err != nil {
		t.Fatal(err)
	}
	if err := s.Handle(context.Background(), testEvent()); err != nil {
		t.Errorf("disabled sink should drop events, got %v", err)
	}
}

func TestLogSinkSwitchAndRotate(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")
	ctx := context.Background()

	s := &logSink{}
	defer s.Close()

	if err := s.Reset(first, eventlog.FormatTab); err != nil {
		t.Fatal(err)
	}
	if err := s.Handle(ctx, testEvent()); err != nil {
		t.Fatal(err)
	}

	// Same path: the file is reopened after an external rename.
	rotated := first + ".1"
	if err := os.Rename(first, rotated); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(first, eventlog.FormatTab); err != nil {
		t.Fatal(err)
	}
	if err := s.Handle(ctx, testEvent()); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(second, eventlog.FormatCommon); err != nil {
		t.Fatal(err)
	}
	if err := s.Handle(ctx, testEvent()); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{rotated, first, second} {
		if lines := readLines(t, path); len(lines) != 1 {
			t.Errorf("%s: expected 1 line, got %d", path, len(lines))
		}
	}
	if line := readLines(t, second)[0]; !strings.HasPrefix(line, "10.0.0.1 - - [") {
		t.Errorf("expected common format in %s, got %q", second, line)
	}
}

func TestLogSinkOpenError(t *testing.T) {
	s := &logSink{}
	if err := s.Reset(filepath.Join(t.TempDir(), "missing", "relay.log"), eventlog.FormatTab); err == nil {
		t.Fatal("expected open error")
	}
	if err := s.Handle(context.Background(), testEvent()); err != nil {
		t.Errorf("sink should be disabled after a failed open, got %v", err)
	}
}
