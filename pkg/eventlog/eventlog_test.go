// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/absmach/mrelay/pkg/handler"
	"github.com/absmach/mrelay/pkg/pool"
)

var eventTime = time.Date(2024, time.March, 5, 14, 7, 9, 0, time.FixedZone("CET", 3600))

func doneEvent() handler.Event {
	return handler.Event{
		Kind:        handler.KindDone,
		ClosedFirst: pool.SideLocal,
		SessionID:   "6c1f",
		Peer:        netip.MustParseAddr("192.168.1.20"),
		BindHost:    "0.0.0.0",
		BindPort:    8080,
		TargetHost:  "backend",
		TargetPort:  80,
		BytesIn:     120,
		BytesOut:    4096,
		Duration:    3 * time.Second,
		Time:        eventTime,
	}
}

func TestFormatLine(t *testing.T) {
	bindFailed := handler.Event{
		Kind:       handler.KindLocalBindFailed,
		BindHost:   "10.0.0.1",
		BindPort:   25,
		TargetHost: "mail",
		TargetPort: 2525,
		Err:        errors.New("address in use"),
		Time:       eventTime,
	}

	tests := []struct {
		name   string
		event  handler.Event
		format Format
		want   string
	}{
		{
			name:   "tab done",
			event:  doneEvent(),
			format: FormatTab,
			want:   "05/Mar/2024:14:07:09\t192.168.1.20\t0.0.0.0\t8080\tbackend\t80\t120\t4096\tdone-local-closed\n",
		},
		{
			name:   "common done",
			event:  doneEvent(),
			format: FormatCommon,
			want:   "192.168.1.20 - - [05/Mar/2024:14:07:09 +0100] \"GET /rinetd-services/0.0.0.0/8080/backend/80/done-local-closed HTTP/1.0\" 200 4096 - - - 120\n",
		},
		{
			name:   "tab bind failure",
			event:  bindFailed,
			format: FormatTab,
			want:   "05/Mar/2024:14:07:09\t0.0.0.0\t10.0.0.1\t25\tmail\t2525\t0\t0\tlocal-bind-failed -\n",
		},
		{
			name:   "common denied",
			event:  handler.Event{Kind: handler.KindDenied, Peer: netip.MustParseAddr("10.1.1.1"), BindHost: "0.0.0.0", BindPort: 22, TargetHost: "ssh", TargetPort: 22, Time: eventTime},
			format: FormatCommon,
			want:   "10.1.1.1 - - [05/Mar/2024:14:07:09 +0100] \"GET /rinetd-services/0.0.0.0/22/ssh/22/denied HTTP/1.0\" 200 0 - - - 0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatLine(tt.event, tt.format); got != tt.want {
				t.Errorf("FormatLine() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestFileHandlerReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.log")

	h, err := OpenFile(path, FormatTab)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer h.Close()

	ctx := context.Background()
	if err := h.Handle(ctx, doneEvent()); err != nil {
		t.Fatal(err)
	}

	rotated := filepath.Join(dir, "relay.log.1")
	if err := os.Rename(path, rotated); err != nil {
		t.Fatal(err)
	}
	if err := h.Reopen(); err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	if err := h.Handle(ctx, handler.Event{Kind: handler.KindOpened, Time: eventTime}); err != nil {
		t.Fatal(err)
	}

	old, err := os.ReadFile(rotated)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(old), "done-local-closed\n") || strings.Count(string(old), "\n") != 1 {
		t.Errorf("unexpected rotated content %q", old)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(current), "\topened\n") || strings.Count(string(current), "\n") != 1 {
		t.Errorf("unexpected current content %q", current)
	}

	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Handle(ctx, doneEvent()); !errors.Is(err, os.ErrClosed) {
		t.Errorf("expected os.ErrClosed after close, got %v", err)
	}
}

func TestOpenFileError(t *testing.T) {
	if _, err := OpenFile(filepath.Join(t.TempDir(), "missing", "relay.log"), FormatTab); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestNewWriter(t *testing.T) {
	var buf bytes.Buffer
	h := NewWriter(&buf, FormatCommon)
	if err := h.Reopen(); err != nil {
		t.Fatal(err)
	}
	if err := h.Handle(context.Background(), doneEvent()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "192.168.1.20 - - [") {
		t.Errorf("unexpected line %q", buf.String())
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewSlogHandler(logger)
	ctx := context.Background()

	events := []handler.Event{
		doneEvent(),
		{Kind: handler.KindLocalConnectFailed, BindHost: "0.0.0.0", BindPort: 1, TargetHost: "t", TargetPort: 2, Err: errors.New("refused")},
		{Kind: handler.KindNotAllowed, Peer: netip.MustParseAddr("10.0.0.9")},
	}
	for _, e := range events {
		if err := h.Handle(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		records = append(records, rec)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	if records[0]["msg"] != "done-local-closed" || records[0]["level"] != "INFO" {
		t.Errorf("unexpected done record %v", records[0])
	}
	if records[0]["bytes_out"] != float64(4096) || records[0]["target"] != "backend:80" {
		t.Errorf("unexpected done attributes %v", records[0])
	}
	if records[1]["level"] != "ERROR" || records[1]["error"] != "refused" {
		t.Errorf("unexpected failure record %v", records[1])
	}
	if records[2]["level"] != "WARN" || records[2]["peer"] != "10.0.0.9" {
		t.Errorf("unexpected refusal record %v", records[2])
	}
}
