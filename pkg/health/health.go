// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health provides health check and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check result.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Critical    bool          `json:"critical"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) error

type registration struct {
	check    CheckFunc
	critical bool
}

// Checker manages health checks. A failing critical check makes the service
// unhealthy; any other failing check makes it degraded.
type Checker struct {
	mu     sync.Mutex
	checks map[string]registration
	cache  map[string]*Check
	ttl    time.Duration
}

// NewChecker creates a new health checker. Results are cached for cacheTTL.
func NewChecker(cacheTTL time.Duration) *Checker {
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Second
	}
	return &Checker{
		checks: make(map[string]registration),
		cache:  make(map[string]*Check),
		ttl:    cacheTTL,
	}
}

// Register adds a non-critical health check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.register(name, check, false)
}

// RegisterCritical adds a health check whose failure makes the service
// unhealthy.
func (c *Checker) RegisterCritical(name string, check CheckFunc) {
	c.register(name, check, true)
}

func (c *Checker) register(name string, check CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registration{check: check, critical: critical}
	delete(c.cache, name)
}

// Health runs every check, or reuses a cached result, and returns the
// overall status with the checks sorted by name.
func (c *Checker) Health(ctx context.Context) (Status, []Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	slices.Sort(names)

	overall := StatusHealthy
	checks := make([]Check, 0, len(names))
	for _, name := range names {
		check := c.run(ctx, name)
		checks = append(checks, *check)

		switch {
		case check.Status == StatusHealthy:
		case check.Critical:
			overall = StatusUnhealthy
		case overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return overall, checks
}

func (c *Checker) run(ctx context.Context, name string) *Check {
	if cached, ok := c.cache[name]; ok && time.Since(cached.LastChecked) < c.ttl {
		return cached
	}

	reg := c.checks[name]
	start := time.Now()
	err := reg.check(ctx)

	check := &Check{
		Name:        name,
		Status:      StatusHealthy,
		Critical:    reg.critical,
		LastChecked: time.Now(),
		Duration:    time.Since(start),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	c.cache[name] = check

	return check
}

// HTTPHandler returns an HTTP handler for health checks. Degraded services
// still report 200.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return c.respond(func(s Status) bool { return s != StatusUnhealthy })
}

// ReadinessHandler returns a readiness probe handler. Only a healthy
// service is ready.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return c.respond(func(s Status) bool { return s == StatusHealthy })
}

func (c *Checker) respond(ok func(Status) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, checks := c.Health(ctx)

		response := map[string]any{
			"status": status,
			"checks": checks,
		}

		w.Header().Set("Content-Type", "application/json")
		if ok(status) {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(response)
	}
}

// LivenessHandler returns a simple liveness probe.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
		})
	}
}

// Mux serves /health, /ready and /live.
func (c *Checker) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", c.HTTPHandler())
	mux.Handle("/ready", c.ReadinessHandler())
	mux.Handle("/live", LivenessHandler())
	return mux
}
