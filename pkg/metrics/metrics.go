// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for mrelay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for mrelay.
type Metrics struct {
	// Connection metrics
	ActiveConnections  prometheus.Gauge
	ConnectionsTotal   *prometheus.CounterVec
	ConnectionDuration *prometheus.HistogramVec

	// Admission and failure metrics
	RefusalsTotal *prometheus.CounterVec
	FailuresTotal *prometheus.CounterVec

	// Traffic metrics
	BytesTotal *prometheus.CounterVec

	registerer prometheus.Registerer
	namespace  string
}

// New creates a new Metrics instance registered with reg. A nil reg uses
// the default Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mrelay"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently relayed connections",
			},
		),
		ConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of accepted connections by outcome",
			},
			[]string{"rule", "status"},
		),
		ConnectionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Relayed connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"rule", "closed_first"},
		),
		RefusalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refusals_total",
				Help:      "Total number of connections refused by admission control",
			},
			[]string{"rule", "reason"},
		),
		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Total number of socket operation failures",
			},
			[]string{"rule", "kind"},
		),
		BytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_total",
				Help:      "Total bytes relayed, in from and out to clients",
			},
			[]string{"rule", "direction"},
		),
		registerer: reg,
		namespace:  namespace,
	}

	return m
}

// EngineStats is the engine state sampled at scrape time.
type EngineStats struct {
	Listeners int
	Slots     int
	Active    int
	Reloads   int
	Growths   int
}

// RegisterEngine exports engine state read from stats on every scrape.
// stats must be safe to call from any goroutine.
func (m *Metrics) RegisterEngine(stats func() EngineStats) {
	factory := promauto.With(m.registerer)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "listeners",
			Help:      "Number of bound forwarding rules",
		},
		func() float64 { return float64(stats().Listeners) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "slot_pool_size",
			Help:      "Number of connection slots allocated",
		},
		func() float64 { return float64(stats().Slots) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "slots_active",
			Help:      "Number of connection slots in use",
		},
		func() float64 { return float64(stats().Active) },
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "reloads_total",
			Help:      "Total number of applied configuration reloads",
		},
		func() float64 { return float64(stats().Reloads) },
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "slot_pool_growths_total",
			Help:      "Total number of times the connection slot pool doubled",
		},
		func() float64 { return float64(stats().Growths) },
	)
}
