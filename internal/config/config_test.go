// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "zenith.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.SecureCookies)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, 100, cfg.Realtime.SendBuffer)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
http:
  addr: ":9090"
  secure_cookies: false
database:
  url: postgres://localhost/zenith
session:
  ttl: 1h
log:
  format: text
  level: debug
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.False(t, cfg.HTTP.SecureCookies)
	assert.Equal(t, "postgres://localhost/zenith", cfg.Database.URL)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Equal(t, 100, cfg.Realtime.SendBuffer)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
database:
  url: postgres://from-file/zenith
`)

	t.Setenv("ZENITH_DATABASE_URL", "postgres://from-env/zenith")
	t.Setenv("ZENITH_LOG_LEVEL", "warn")
	t.Setenv("ZENITH_HTTP_SECURE_COOKIES", "false")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres://from-env/zenith", cfg.Database.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.HTTP.SecureCookies)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("ZENITH_LOG_LEVEL", "warn")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log.level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log.level=error"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := writeConfigFile(t, "http: [not a map")

	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "empty http addr", mutate: func(c *Config) { c.HTTP.Addr = "" }, wantErr: true},
		{name: "empty metrics addr", mutate: func(c *Config) { c.Metrics.Addr = "" }, wantErr: true},
		{name: "zero session ttl", mutate: func(c *Config) { c.Session.TTL = 0 }, wantErr: true},
		{name: "zero sweep interval", mutate: func(c *Config) { c.Session.SweepInterval = 0 }, wantErr: true},
		{name: "zero send buffer", mutate: func(c *Config) { c.Realtime.SendBuffer = 0 }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
