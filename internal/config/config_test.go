package config

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func load(t *testing.T, args ...string) *Config {
	t.Helper()
	cfg := &Config{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return cfg
}

func TestRegisterFlags_Defaults(t *testing.T) {
	cfg := load(t)

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want %d", cfg.Port, 8080)
	}
	if cfg.Bind != "0.0.0.0" {
		t.Errorf("Bind = %q, want %q", cfg.Bind, "0.0.0.0")
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "./data")
	}
	if cfg.DatabaseURL != "" || cfg.RelayURL != "" {
		t.Errorf("DatabaseURL = %q, RelayURL = %q, want empty", cfg.DatabaseURL, cfg.RelayURL)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %s, want 10s", cfg.ConnectTimeout)
	}
	if cfg.RetryInterval != 30*time.Second {
		t.Errorf("RetryInterval = %s, want 30s", cfg.RetryInterval)
	}
	if cfg.Level() != zerolog.InfoLevel {
		t.Errorf("Level() = %v, want info", cfg.Level())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestRegisterFlags_Env(t *testing.T) {
	t.Setenv("KNIFFEL_PORT", "3000")
	t.Setenv("KNIFFEL_RELAY_URL", "wss://relay.example/ws")
	t.Setenv("KNIFFEL_CONNECT_TIMEOUT", "5s")
	t.Setenv("KNIFFEL_LOG_LEVEL", "debug")

	cfg := load(t)

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want %d", cfg.Port, 3000)
	}
	if cfg.RelayURL != "wss://relay.example/ws" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %s, want 5s", cfg.ConnectTimeout)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Errorf("Level() = %v, want debug", cfg.Level())
	}
}

func TestRegisterFlags_FlagBeatsEnv(t *testing.T) {
	t.Setenv("KNIFFEL_PORT", "3000")

	cfg := load(t, "--port", "4000", "--data_dir", "/tmp/k")

	if cfg.Port != 4000 {
		t.Errorf("Port = %d, want %d", cfg.Port, 4000)
	}
	if cfg.DataDir != "/tmp/k" {
		t.Errorf("DataDir = %q, want /tmp/k", cfg.DataDir)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"port too low":      {func(c *Config) { c.Port = 0 }, "invalid port"},
		"port too high":     {func(c *Config) { c.Port = 70000 }, "invalid port"},
		"zero timeout":      {func(c *Config) { c.ConnectTimeout = 0 }, "connect timeout"},
		"negative retry":    {func(c *Config) { c.RetryInterval = -time.Second }, "retry interval"},
		"bad log level":     {func(c *Config) { c.LogLevel = "loud" }, "log level"},
		"no storage at all": {func(c *Config) { c.DataDir = "" }, "data-dir"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := load(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}

	cfg := load(t)
	cfg.RetryInterval = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with retries disabled = %v, want nil", err)
	}
}
