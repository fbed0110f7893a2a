package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dialdeck/pkg/profile"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultServiceName     = "dialdeck"
)

// minReloadInterval is the shortest accepted polling interval.
const minReloadInterval = 100 * time.Millisecond

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset values in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Saver.Kind == "" {
		cfg.Saver.Kind = SaverLog
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Bootstrap
	b := cfg.Bootstrap
	if missing := b.Missing(); len(missing) == 5 {
		errs = append(errs, errors.New("bootstrap: either bundle or the per-section paths are required"))
	} else if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("bootstrap: without a bundle every section needs a path; missing %s", strings.Join(missing, ", ")))
	}
	if b.Bundle != "" && (b.Config != "" || b.Models != "" || b.Languages != "" || b.Voices != "" || b.Styles != "") {
		slog.Warn("bootstrap.bundle is set; per-section paths are ignored", "bundle", b.Bundle)
	}
	if b.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("bootstrap.reload_interval %s must not be negative", b.ReloadInterval))
	} else if b.ReloadInterval > 0 && b.ReloadInterval < minReloadInterval {
		errs = append(errs, fmt.Errorf("bootstrap.reload_interval %s is below the minimum of %s", b.ReloadInterval, minReloadInterval))
	}

	// Dashboard
	if cfg.Dashboard.InitialProfile != "" {
		if _, err := profile.ParseChannel(cfg.Dashboard.InitialProfile); err != nil {
			errs = append(errs, fmt.Errorf("dashboard.initial_profile: %w", err))
		}
	}

	// Saver
	if cfg.Saver.Kind != "" && !cfg.Saver.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("saver.kind %q is invalid; valid values: log, file", cfg.Saver.Kind))
	}
	if cfg.Saver.Kind == SaverFile && cfg.Saver.Dir == "" {
		errs = append(errs, errors.New("saver.dir is required when saver.kind is file"))
	}
	if cfg.Saver.Breaker.MaxFailures < 0 || cfg.Saver.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("saver.breaker values must not be negative"))
	}

	return errors.Join(errs...)
}
