// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads forwarding rules and log settings from a
// configuration file.
//
// Two formats are accepted. The classic text format has one directive per
// line; blank lines and lines starting with # are ignored:
//
//	logfile /var/log/mrelay.log
//	pidlogfile /var/run/mrelay.pid
//	logcommon
//	allow 192.168.*
//	deny 192.168.1.13
//	0.0.0.0 8080 10.0.0.5 http
//	deny 192.168.1.99
//
// Files ending in .yaml or .yml use the same settings as YAML (see File).
// In both formats allow and deny patterns before the first rule are global
// and patterns after a rule belong to that rule. Malformed lines, rules and
// patterns are skipped with a warning.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/absmach/mrelay/pkg/rules"
	"gopkg.in/yaml.v3"
)

// File is the unresolved content of a configuration file.
type File struct {
	LogFile   string       `yaml:"logfile"`
	PIDFile   string       `yaml:"pidlogfile"`
	LogCommon bool         `yaml:"logcommon"`
	Allow     []string     `yaml:"allow"`
	Deny      []string     `yaml:"deny"`
	Rules     []RuleConfig `yaml:"rules"`
}

// RuleConfig is one forwarding rule as written.
type RuleConfig struct {
	Bind        string   `yaml:"bind"`
	BindPort    Port     `yaml:"bind_port"`
	Connect     string   `yaml:"connect"`
	ConnectPort Port     `yaml:"connect_port"`
	Allow       []string `yaml:"allow"`
	Deny        []string `yaml:"deny"`

	// Line is the source line in the text format, 0 otherwise.
	Line int `yaml:"-"`
}

// Port is a port number or a TCP service name.
type Port string

// UnmarshalYAML accepts both numeric and string scalars.
func (p *Port) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: port must be a number or service name", value.Line)
	}
	*p = Port(value.Value)
	return nil
}

// Warning describes a skipped line, rule or pattern.
type Warning struct {
	Line int
	Msg  string
}

func (w Warning) String() string {
	if w.Line > 0 {
		return fmt.Sprintf("line %d: %s", w.Line, w.Msg)
	}
	return w.Msg
}

// Config is a loaded configuration.
type Config struct {
	Table     *rules.Table
	LogFile   string
	PIDFile   string
	LogCommon bool
	Warnings  []Warning
}

var errMissing = errors.New("missing")

// Resolver looks up host names. *net.Resolver implements it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Loader reads and resolves configuration files.
type Loader struct {
	// Resolver resolves host names. Defaults to net.DefaultResolver.
	Resolver Resolver
	// LookupPort maps a port number or service name to a port. Defaults to
	// net.LookupPort.
	LookupPort func(network, service string) (int, error)
	// Logger receives one warning per skipped line.
	Logger *slog.Logger
}

// NewLoader creates a loader using the system resolver.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{Logger: logger}
}

// Load reads path, parses it in the format implied by its extension and
// resolves every rule. Only an unreadable or unparsable file is an error.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var (
		file     *File
		warnings []Warning
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		file, err = ParseYAML(data)
	default:
		file, warnings, err = ParseText(strings.NewReader(string(data)))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := l.Resolve(ctx, file)
	cfg.Warnings = append(warnings, cfg.Warnings...)

	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, w := range cfg.Warnings {
		logger.Warn("skipped configuration entry",
			slog.String("file", path),
			slog.String("warning", w.String()))
	}

	return cfg, nil
}

// ParseYAML decodes a YAML configuration.
func ParseYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Resolve validates patterns and ports, resolves hosts and builds the rule
// table. Invalid patterns are dropped; an invalid rule is dropped together
// with its patterns.
func (l *Loader) Resolve(ctx context.Context, f *File) *Config {
	cfg := &Config{
		LogFile:   f.LogFile,
		PIDFile:   f.PIDFile,
		LogCommon: f.LogCommon,
	}
	warn := func(line int, format string, args ...any) {
		cfg.Warnings = append(cfg.Warnings, Warning{Line: line, Msg: fmt.Sprintf(format, args...)})
	}

	b := rules.NewBuilder()
	addPatterns := func(line int, allow, deny []string) {
		for _, p := range allow {
			if err := ValidatePattern(p); err != nil {
				warn(line, "allow: %v", err)
				continue
			}
			b.Allow(p)
		}
		for _, p := range deny {
			if err := ValidatePattern(p); err != nil {
				warn(line, "deny: %v", err)
				continue
			}
			b.Deny(p)
		}
	}

	addPatterns(0, f.Allow, f.Deny)
	for _, rc := range f.Rules {
		r, err := l.rule(ctx, rc)
		if err != nil {
			warn(rc.Line, "rule %s %s %s %s skipped: %v", rc.Bind, rc.BindPort, rc.Connect, rc.ConnectPort, err)
			continue
		}
		b.AddRule(r)
		addPatterns(rc.Line, rc.Allow, rc.Deny)
	}
	cfg.Table = b.Table()

	return cfg
}

func (l *Loader) rule(ctx context.Context, rc RuleConfig) (rules.Rule, error) {
	bindPort, err := l.port(rc.BindPort)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("bind port: %w", err)
	}
	connectPort, err := l.port(rc.ConnectPort)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("connect port: %w", err)
	}
	bindAddr, err := l.resolve(ctx, rc.Bind)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("bind address: %w", err)
	}
	connectAddr, err := l.resolve(ctx, rc.Connect)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("connect address: %w", err)
	}

	return rules.Rule{
		BindHost:   rc.Bind,
		BindPort:   bindPort,
		TargetHost: rc.Connect,
		TargetPort: connectPort,
		Bind:       netip.AddrPortFrom(bindAddr, bindPort),
		Target:     netip.AddrPortFrom(connectAddr, connectPort),
	}, nil
}

func (l *Loader) port(p Port) (uint16, error) {
	if p == "" {
		return 0, errMissing
	}
	lookup := l.LookupPort
	if lookup == nil {
		lookup = net.LookupPort
	}
	n, err := lookup("tcp", string(p))
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("%s out of range", p)
	}
	return uint16(n), nil
}

// resolve returns the IPv4 address of host. Dotted quads are parsed
// directly; anything else is looked up once.
func (l *Loader) resolve(ctx context.Context, host string) (netip.Addr, error) {
	if host == "" {
		return netip.Addr{}, errMissing
	}
	if numeric(host) {
		addr, err := netip.ParseAddr(host)
		if err != nil || !addr.Is4() {
			return netip.Addr{}, fmt.Errorf("%s is not a valid IPv4 address", host)
		}
		return addr, nil
	}

	resolver := l.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("host %s could not be resolved: %w", host, err)
	}
	for _, a := range addrs {
		if a = a.Unmap(); a.Is4() {
			return a, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("host %s has no IPv4 address", host)
}

func numeric(host string) bool {
	for _, c := range host {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}
