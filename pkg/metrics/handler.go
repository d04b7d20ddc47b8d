// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"net"
	"strconv"

	"github.com/absmach/mrelay/pkg/handler"
)

var _ handler.Handler = (*Handler)(nil)

// Handler records relay events as metrics.
type Handler struct {
	metrics *Metrics
}

// NewHandler creates a handler that updates m.
func NewHandler(m *Metrics) *Handler {
	return &Handler{metrics: m}
}

// Handle implements handler.Handler.
func (h *Handler) Handle(ctx context.Context, e handler.Event) error {
	rule := net.JoinHostPort(e.BindHost, strconv.Itoa(int(e.BindPort)))

	switch {
	case e.Kind == handler.KindOpened:
		h.metrics.ActiveConnections.Inc()
		h.metrics.ConnectionsTotal.WithLabelValues(rule, "opened").Inc()
	case e.Kind == handler.KindDone:
		h.metrics.ActiveConnections.Dec()
		h.metrics.BytesTotal.WithLabelValues(rule, "in").Add(float64(e.BytesIn))
		h.metrics.BytesTotal.WithLabelValues(rule, "out").Add(float64(e.BytesOut))
		h.metrics.ConnectionDuration.WithLabelValues(rule, e.ClosedFirst.String()).Observe(e.Duration.Seconds())
	case e.Kind.Refusal():
		h.metrics.ConnectionsTotal.WithLabelValues(rule, "refused").Inc()
		h.metrics.RefusalsTotal.WithLabelValues(rule, string(e.Kind)).Inc()
	case e.Kind.Failure():
		if e.Kind == handler.KindLocalSocketFailed || e.Kind == handler.KindLocalConnectFailed {
			h.metrics.ConnectionsTotal.WithLabelValues(rule, "failed").Inc()
		}
		h.metrics.FailuresTotal.WithLabelValues(rule, string(e.Kind)).Inc()
	}

	return nil
}
