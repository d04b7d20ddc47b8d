// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mrelay

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the prefix of every daemon environment variable.
const EnvPrefix = "MRELAY_"

// Config holds the daemon settings that do not live in the rules file.
type Config struct {
	ConfFile string `env:"CONF_FILE" envDefault:"/etc/mrelay.conf"`

	// Observability
	LogLevel       string `env:"LOG_LEVEL"       envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT"      envDefault:"json"`
	MetricsAddress string `env:"METRICS_ADDRESS" envDefault:":9090"`
	HealthAddress  string `env:"HEALTH_ADDRESS"  envDefault:":8080"`

	// Engine
	InitialSlots int `env:"INITIAL_SLOTS" envDefault:"64"`
	MaxSlots     int `env:"MAX_SLOTS"     envDefault:"0"`
	BufferSize   int `env:"BUFFER_SIZE"   envDefault:"1024"`

	DefaultPIDFile  string        `env:"PID_FILE"         envDefault:"/var/run/mrelay.pid"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// NewConfig parses Config from the environment. An empty opts.Prefix means
// EnvPrefix.
func NewConfig(opts env.Options) (Config, error) {
	if opts.Prefix == "" {
		opts.Prefix = EnvPrefix
	}
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}
