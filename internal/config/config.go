// Package config loads bzrpc settings. Values come from defaults, then an
// optional YAML file, then BZRPC_* environment variables. Command-line flags
// are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/bzrpc/internal/logging"
	"gopkg.in/yaml.v3"
)

// Cookie backends.
const (
	BackendMozilla = "mozilla"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"
)

// Environment variables overlaid by Load.
const (
	EnvURL        = "BZRPC_URL"
	EnvUser       = "BZRPC_USER"
	EnvPassword   = "BZRPC_PASSWORD"
	EnvCookieFile = "BZRPC_COOKIE_FILE"
)

// Config holds runtime settings.
type Config struct {
	URL           string        `yaml:"url"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	CookieFile    string        `yaml:"cookie_file"`
	CookieBackend string        `yaml:"cookie_backend"`
	Timeout       time.Duration `yaml:"timeout"`
	LogLevel      string        `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CookieFile:    "~/.bugzillacookies",
		CookieBackend: BackendMozilla,
		Timeout:       30 * time.Second,
		LogLevel:      "warn",
	}
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return "~/.config/bzrpc/config.yaml"
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. An empty path reads DefaultPath if it exists; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", expanded, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overlays values found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvURL); ok && v != "" {
		c.URL = v
	}
	if v, ok := lookup(EnvUser); ok && v != "" {
		c.User = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Password = v
	}
	if v, ok := lookup(EnvCookieFile); ok && v != "" {
		c.CookieFile = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid url %q: scheme must be http or https", c.URL)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid url %q: missing host", c.URL)
		}
	}
	switch c.CookieBackend {
	case BackendMozilla, BackendSQLite:
		if c.CookieFile == "" {
			return fmt.Errorf("cookie backend %s requires a cookie file", c.CookieBackend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown cookie backend %q", c.CookieBackend)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", c.Timeout)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// CookiePath returns CookieFile with a leading ~ expanded.
func (c *Config) CookiePath() (string, error) {
	return ExpandPath(c.CookieFile)
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
