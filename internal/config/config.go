// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

// Package config loads runtime configuration from a YAML file, ZENITH_*
// environment variables, and command-line flags, merged in that order.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// envPrefix namespaces the environment variables this process reads.
const envPrefix = "ZENITH_"

// envKeyFixes restores compound key names that the generic underscore-to-dot
// mapping would split. ZENITH_HTTP_SECURE_COOKIES must land on
// http.secure_cookies, not http.secure.cookies.
var envKeyFixes = strings.NewReplacer(
	"secure.cookies", "secure_cookies",
	"sweep.interval", "sweep_interval",
	"send.buffer", "send_buffer",
	"allowed.origins", "allowed_origins",
)

// Config is the full runtime configuration.
type Config struct {
	HTTP struct {
		// Addr is the main site listener (HTTP + WebSocket upgrade).
		Addr string `koanf:"addr"`

		// SecureCookies sets the Secure flag on session cookies. Disable
		// only for local development over plain HTTP.
		SecureCookies bool `koanf:"secure_cookies"`
	} `koanf:"http"`

	Metrics struct {
		// Addr is the observability listener (metrics + health probes).
		Addr string `koanf:"addr"`
	} `koanf:"metrics"`

	Database struct {
		// URL is the PostgreSQL DSN. Empty selects the in-memory store,
		// which loses all state on restart.
		URL string `koanf:"url"`
	} `koanf:"database"`

	Session struct {
		TTL time.Duration `koanf:"ttl"`

		// SweepInterval is how often the janitor removes expired entries
		// from the backing store.
		SweepInterval time.Duration `koanf:"sweep_interval"`
	} `koanf:"session"`

	Realtime struct {
		// SendBuffer is the per-connection outbound queue size. A slow
		// consumer whose buffer fills misses events.
		SendBuffer int `koanf:"send_buffer"`

		// AllowedOrigins are extra origins accepted for WebSocket
		// upgrades. Empty means same-origin only.
		AllowedOrigins []string `koanf:"allowed_origins"`
	} `koanf:"realtime"`

	Log struct {
		// Format is "json" or "text".
		Format string `koanf:"format"`
		Level  string `koanf:"level"`
	} `koanf:"log"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.SecureCookies = true
	cfg.Metrics.Addr = "127.0.0.1:9100"
	cfg.Session.TTL = 24 * time.Hour
	cfg.Session.SweepInterval = 5 * time.Minute
	cfg.Realtime.SendBuffer = 100
	cfg.Log.Format = "json"
	cfg.Log.Level = "info"
	return cfg
}

// Load merges configuration sources over the defaults: the YAML file at
// path (skipped when path is empty or missing), then ZENITH_* environment
// variables, then flags. Flag names use dots (e.g. --log.level) and map
// directly onto config keys.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.Code("CONFIG_FILE_LOAD_FAILED").
					With("path", path).
					Wrap(err)
			}
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			// ZENITH_DATABASE_URL -> database.url
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			key = strings.ReplaceAll(key, "_", ".")
			return envKeyFixes.Replace(key), value
		},
	}), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_LOAD_FAILED").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAG_LOAD_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the servers cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("http.addr cannot be empty")
	}
	if c.Metrics.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("metrics.addr cannot be empty")
	}
	if c.Session.TTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("session.ttl must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("session.sweep_interval must be positive")
	}
	if c.Realtime.SendBuffer <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("realtime.send_buffer must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").
			With("format", c.Log.Format).
			Errorf("log.format must be json or text")
	}
	return nil
}
