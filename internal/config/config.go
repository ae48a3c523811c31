// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

// Package config loads server configuration from defaults, an optional
// YAML file, and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Default values applied when neither a config file nor a flag sets a key.
const (
	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultBaseURL     = "http://127.0.0.1:8080"
	DefaultRedisAddr   = "127.0.0.1:6379"
	DefaultSessionTTL  = 24 * time.Hour
	DefaultSMTPPort    = 587
	DefaultLogFormat   = "json"
)

// SMTP holds outbound mail settings.
type SMTP struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// Config holds the full server configuration.
type Config struct {
	HTTPAddr    string        `koanf:"http-addr"`
	MetricsAddr string        `koanf:"metrics-addr"`
	BaseURL     string        `koanf:"base-url"`
	DatabaseURL string        `koanf:"database-url"`
	RedisAddr   string        `koanf:"redis-addr"`
	RedisDB     int           `koanf:"redis-db"`
	SessionTTL  time.Duration `koanf:"session-ttl"`
	LogFormat   string        `koanf:"log-format"`
	SMTP        SMTP          `koanf:"smtp"`
}

// RegisterFlags declares every config key as a flag on fs. Flag defaults
// double as configuration defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", DefaultHTTPAddr, "HTTP listen address")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("base-url", DefaultBaseURL, "external base URL used in reset links")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("redis-addr", DefaultRedisAddr, "Redis address for session storage")
	fs.Int("redis-db", 0, "Redis database number")
	fs.Duration("session-ttl", DefaultSessionTTL, "session lifetime")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("smtp.host", "", "SMTP server host")
	fs.Int("smtp.port", DefaultSMTPPort, "SMTP server port")
	fs.String("smtp.username", "", "SMTP username")
	fs.String("smtp.password", "", "SMTP password")
	fs.String("smtp.from", "", "From address for outbound mail")
}

// Load merges the optional YAML file at path, CYBERNET_* environment
// variables, and the flag set, later sources winning. Flag defaults fill
// any key no source sets.
//
// Environment variables map onto keys by lowercasing, turning "__" into
// the section separator and "_" into "-": CYBERNET_DATABASE_URL becomes
// database-url, CYBERNET_SMTP__HOST becomes smtp.host.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrapf(err, "loading config file")
		}
	}

	if err := k.Load(env.Provider("CYBERNET_", ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "loading environment")
	}

	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "loading flags")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "unmarshaling config")
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "CYBERNET_"))
	s = strings.ReplaceAll(s, "__", ".")
	return strings.ReplaceAll(s, "_", "-")
}

// Validate checks that the configuration is complete enough to start the
// server. Mail settings are optional; password reset email delivery fails
// at request time if they are absent.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http-addr is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database-url is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session-ttl must be positive, got %s", c.SessionTTL)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base-url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base-url must start with http:// or https://, got %q", c.BaseURL)
	}
	return nil
}

// MailConfigured reports whether enough SMTP settings are present to send
// password reset mail.
func (c *Config) MailConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.From != ""
}
