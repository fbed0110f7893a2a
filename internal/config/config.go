// Package config provides the process configuration schema and loader for the
// dialdeck server.
package config

import (
	"time"

	"github.com/MrWong99/dialdeck/internal/bootstrap"
)

// LogLevel controls log verbosity for the dialdeck server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SaverKind selects where saved profiles go.
type SaverKind string

const (
	// SaverLog only logs the payload. It is the default.
	SaverLog SaverKind = "log"

	// SaverFile writes one JSON document per channel into a directory.
	SaverFile SaverKind = "file"
)

// IsValid reports whether k is a recognised saver kind.
func (k SaverKind) IsValid() bool {
	return k == SaverLog || k == SaverFile
}

// Config is the root configuration structure for dialdeck.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Saver     SaverConfig     `yaml:"saver"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Zero means 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// BootstrapConfig names the snapshot and catalog files a session starts from.
type BootstrapConfig struct {
	bootstrap.Sources `yaml:",inline"`

	// ReloadInterval is how often the files are polled for changes. Zero
	// disables reloading.
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// DashboardConfig sets the initial view.
type DashboardConfig struct {
	// InitialProfile is browser, twilio, or telnyx. Empty means browser.
	InitialProfile string `yaml:"initial_profile"`

	// InitialTab is the tab shown first. Empty means "model".
	InitialTab string `yaml:"initial_tab"`
}

// SaverConfig selects the save collaborator.
type SaverConfig struct {
	Kind SaverKind `yaml:"kind"`

	// Dir is the output directory for [SaverFile].
	Dir string `yaml:"dir"`

	// Breaker tunes the circuit breaker in front of the saver.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker. Zero values select the defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TelemetryConfig configures the OpenTelemetry resource.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Empty means "dialdeck".
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is reported as service.version.
	ServiceVersion string `yaml:"service_version"`

	// Environment is reported as deployment.environment, e.g. "staging".
	Environment string `yaml:"environment"`
}
