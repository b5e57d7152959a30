// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads cmd/coreconf-server's environment-driven
// configuration.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds cmd/coreconf-server's runtime configuration.
type Config struct {
	// Schema and seed data
	SidFile  string `env:"CORECONF_SID_FILE,required"`
	SeedFile string `env:"CORECONF_SEED_FILE"`

	// Transport
	CoAPAddress string `env:"CORECONF_COAP_ADDRESS" envDefault:":5683"`
	WSAddress   string `env:"CORECONF_WS_ADDRESS"   envDefault:":8683"`

	// Admin/observability HTTP surfaces
	HTTPPort    int `env:"CORECONF_HTTP_PORT"    envDefault:"8080"`
	MetricsPort int `env:"CORECONF_METRICS_PORT" envDefault:"9090"`

	LogLevel  string `env:"CORECONF_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"CORECONF_LOG_FORMAT" envDefault:"json"`

	// Persistence
	PersistPath string `env:"CORECONF_PERSIST_PATH" envDefault:"coreconf.db"`

	// Rate limiting (iPATCH/POST)
	RateLimitEnabled  bool  `env:"CORECONF_RATE_LIMIT_ENABLED"  envDefault:"true"`
	RateLimitCapacity int64 `env:"CORECONF_RATE_LIMIT_CAPACITY" envDefault:"100"`
	RateLimitRefill   int64 `env:"CORECONF_RATE_LIMIT_REFILL"   envDefault:"20"`

	ShutdownTimeout time.Duration `env:"CORECONF_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// MaxGoroutines is the threshold the "goroutines" health check fails
	// above, catching a runaway request-handling leak before it exhausts
	// the process.
	MaxGoroutines int `env:"CORECONF_MAX_GOROUTINES" envDefault:"10000"`
}

// Load reads a .env file if present (optional, silently ignored when
// absent) and parses environment variables into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
