// Package config loads the daemon configuration from YAML and builds the
// concrete pieces it names: the transport backend, the coordination
// config, and the logger.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/avolaere/syncmesh/pkg/coordination"
	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/transport"
	"github.com/avolaere/syncmesh/pkg/transport/inproc"
	"github.com/avolaere/syncmesh/pkg/transport/mqtt"
	"github.com/avolaere/syncmesh/pkg/transport/nng"
)

// File is the top-level daemon configuration.
type File struct {
	Session   SessionConfig   `yaml:"session" validate:"required"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SessionConfig names the session this node joins and its timing.
type SessionConfig struct {
	Name         string            `yaml:"name" validate:"required"`
	NodeID       string            `yaml:"node_id" validate:"required"`
	Strategy     string            `yaml:"strategy" validate:"omitempty,oneof=random first_started"`
	Capabilities []string          `yaml:"capabilities,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`

	HeartbeatInterval Duration `yaml:"heartbeat_interval,omitempty"`
	DiscoveryInterval Duration `yaml:"discovery_interval,omitempty"`
	NodeTimeout       Duration `yaml:"node_timeout,omitempty"`
	JoinTimeout       Duration `yaml:"join_timeout,omitempty"`
	ReadyTimeout      Duration `yaml:"ready_timeout,omitempty"`
}

// Duration is a time.Duration that unmarshals from the usual "500ms"
// notation in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// TransportConfig selects and parameterizes the transport backend.
type TransportConfig struct {
	Backend string     `yaml:"backend" validate:"omitempty,oneof=inproc nng mqtt"`
	NNG     NNGConfig  `yaml:"nng,omitempty"`
	MQTT    MQTTConfig `yaml:"mqtt,omitempty"`
}

// NNGConfig mirrors the nng backend's knobs.
type NNGConfig struct {
	Host          string   `yaml:"host,omitempty"`
	DiscoveryPort int      `yaml:"discovery_port,omitempty" validate:"omitempty,min=1,max=65535"`
	DataPortStart int      `yaml:"data_port_start,omitempty" validate:"omitempty,min=1,max=65535"`
	Peers         []string `yaml:"peers,omitempty"`
}

// MQTTConfig mirrors the mqtt backend's knobs.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url,omitempty"`
	ClientID  string `yaml:"client_id,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Listen  string `yaml:"listen,omitempty"`
}

// Default returns the configuration a bare daemon starts with.
func Default() File {
	return File{
		Session: SessionConfig{
			Name:     "default",
			NodeID:   hostnameOr("node"),
			Strategy: "random",
		},
		Transport: TransportConfig{Backend: "nng"},
		Logging:   LoggingConfig{Level: "info"},
		Metrics:   MetricsConfig{Listen: ":9090"},
	}
}

func hostnameOr(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}

// Load reads and validates a YAML configuration file. Missing fields
// keep their defaults.
func Load(path string) (File, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks if configuration is valid
func (f *File) Validate() error {
	if err := validator.New().Struct(f); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Coordination translates the session section into a controller config.
func (f *File) Coordination() coordination.Config {
	cfg := coordination.DefaultConfig(f.Session.Name, f.Session.NodeID)
	cfg.Capabilities = f.Session.Capabilities
	cfg.Metadata = f.Session.Metadata
	if f.Session.Strategy == "first_started" {
		cfg.Strategy = coordination.StrategyFirstStarted
	}
	if f.Session.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = time.Duration(f.Session.HeartbeatInterval)
	}
	if f.Session.DiscoveryInterval > 0 {
		cfg.DiscoveryInterval = time.Duration(f.Session.DiscoveryInterval)
	}
	if f.Session.NodeTimeout > 0 {
		cfg.NodeTimeout = time.Duration(f.Session.NodeTimeout)
	}
	if f.Session.JoinTimeout > 0 {
		cfg.JoinTimeout = time.Duration(f.Session.JoinTimeout)
	}
	if f.Session.ReadyTimeout > 0 {
		cfg.ReadyTimeout = time.Duration(f.Session.ReadyTimeout)
	}
	return cfg
}

// NewLogger builds the daemon logger at the configured level.
func (f *File) NewLogger() logging.Logger {
	return logging.NewJSONLogger(os.Stderr, logging.ParseLevel(f.Logging.Level))
}

// NewTransport builds the configured transport backend.
func (f *File) NewTransport(log logging.Logger) (transport.Transport, error) {
	switch f.Transport.Backend {
	case "inproc":
		return inproc.NewNetwork().Node(), nil
	case "mqtt":
		cfg := mqtt.DefaultConfig()
		if f.Transport.MQTT.BrokerURL != "" {
			cfg.BrokerURL = f.Transport.MQTT.BrokerURL
		}
		if f.Transport.MQTT.ClientID != "" {
			cfg.ClientID = f.Transport.MQTT.ClientID
		}
		if f.Transport.MQTT.Namespace != "" {
			cfg.Namespace = f.Transport.MQTT.Namespace
		}
		cfg.Username = f.Transport.MQTT.Username
		cfg.Password = f.Transport.MQTT.Password
		cfg.Logger = log
		return mqtt.New(cfg)
	case "nng", "":
		cfg := nng.DefaultConfig()
		if f.Transport.NNG.Host != "" {
			cfg.Host = f.Transport.NNG.Host
		}
		if f.Transport.NNG.DiscoveryPort > 0 {
			cfg.DiscoveryPort = f.Transport.NNG.DiscoveryPort
		}
		if f.Transport.NNG.DataPortStart > 0 {
			cfg.DataPortStart = f.Transport.NNG.DataPortStart
		}
		cfg.Peers = f.Transport.NNG.Peers
		cfg.Logger = log
		return nng.New(cfg)
	default:
		return nil, fmt.Errorf("unknown transport backend %q", f.Transport.Backend)
	}
}
