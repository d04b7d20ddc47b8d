// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/absmach/mrelay/pkg/handler"
)

const (
	timeLayout   = "02/Jan/2006:15:04:05"
	commonLayout = timeLayout + " -0700"
	unknownPeer  = "0.0.0.0"
)

// Format selects the line layout of a FileHandler.
type Format int

const (
	// FormatTab writes TIME PEER BINDHOST BINDPORT TARGETHOST TARGETPORT
	// BYTESIN BYTESOUT MESSAGE, separated by tabs.
	FormatTab Format = iota
	// FormatCommon fakes a web server common log line so that web log
	// analyzers can summarize relay traffic.
	FormatCommon
)

var _ handler.Handler = (*FileHandler)(nil)

// FileHandler appends one line per event to a file.
type FileHandler struct {
	mu     sync.Mutex
	path   string
	format Format
	file   *os.File
	w      io.Writer
}

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string, format Format) (*FileHandler, error) {
	h := &FileHandler{path: path, format: format}
	if err := h.Reopen(); err != nil {
		return nil, err
	}
	return h, nil
}

// NewWriter creates a handler writing to w. Reopen is a no-op for it.
func NewWriter(w io.Writer, format Format) *FileHandler {
	return &FileHandler{format: format, w: w}
}

// Reopen closes and reopens the log file so that an externally rotated file
// is replaced.
func (h *FileHandler) Reopen() error {
	if h.path == "" {
		return nil
	}
	f, err := os.OpenFile(h.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", h.path, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file != nil {
		h.file.Close()
	}
	h.file = f
	h.w = f

	return nil
}

// Close closes the log file.
func (h *FileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	h.w = nil
	return err
}

// Handle writes the event as one line.
func (h *FileHandler) Handle(ctx context.Context, e handler.Event) error {
	line := FormatLine(e, h.format)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.w == nil {
		return os.ErrClosed
	}
	_, err := io.WriteString(h.w, line)
	return err
}

// FormatLine renders e in the given format, newline included.
func FormatLine(e handler.Event, format Format) string {
	peer := unknownPeer
	if e.Peer.IsValid() {
		peer = e.Peer.String()
	}

	if format == FormatCommon {
		return fmt.Sprintf("%s - - [%s] \"GET /rinetd-services/%s/%d/%s/%d/%s HTTP/1.0\" 200 %d - - - %d\n",
			peer,
			e.Time.Format(commonLayout),
			e.BindHost, e.BindPort,
			e.TargetHost, e.TargetPort,
			message(e),
			e.BytesOut,
			e.BytesIn)
	}

	return fmt.Sprintf("%s\t%s\t%s\t%d\t%s\t%d\t%d\t%d\t%s\n",
		e.Time.Format(timeLayout),
		peer,
		e.BindHost, e.BindPort,
		e.TargetHost, e.TargetPort,
		e.BytesIn,
		e.BytesOut,
		message(e))
}

// message marks failures with a trailing " -" as the classic log does.
func message(e handler.Event) string {
	if e.Kind.Failure() {
		return e.Message() + " -"
	}
	return e.Message()
}

func hostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
