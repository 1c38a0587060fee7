package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the SC linac setup service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Hierarchy HierarchyConfig `yaml:"hierarchy"`
	Setup     SetupConfig     `yaml:"setup"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// ServiceConfig contains service-level identification.
type ServiceConfig struct {
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker carries setup results and quench events to external
// displays; the orchestrator itself does not depend on it.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
//
// Host restricts which interfaces the control surface (and the simulated
// backend's diagnostics) are reachable on. On the accelerator network this
// is typically a specific interface address rather than 0.0.0.0.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HierarchyConfig describes the machine topology.
//
// The default layout matches LCLS-II: L0B holds CM01, L1B holds CM02-CM03
// plus the high-level modules H1/H2, L2B holds CM04-CM15 and L3B holds
// CM16-CM35. Every cryomodule contains exactly eight cavities.
type HierarchyConfig struct {
	Linacs []LinacConfig `yaml:"linacs"`

	// HighLevel names the cryomodules that machine-wide bulk operations
	// may exclude (the harmonic linearizer modules H1/H2).
	HighLevel []string `yaml:"high_level"`
}

// LinacConfig describes one linac section and its cryomodules.
type LinacConfig struct {
	Name        string   `yaml:"name"`
	Cryomodules []string `yaml:"cryomodules"`
}

// SetupConfig contains orchestrator timing and retry policy.
type SetupConfig struct {
	// TransitionTimeoutMS bounds the readback poll for a single leaf
	// transition (milliseconds).
	TransitionTimeoutMS int `yaml:"transition_timeout_ms"`

	// PollIntervalMS is the readback polling interval (milliseconds).
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// MaxRetries bounds retries of a transition after a connection
	// failure. Quench faults are never retried.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoffMS is the base backoff between retries (milliseconds),
	// doubled per attempt.
	RetryBackoffMS int `yaml:"retry_backoff_ms"`

	// QuenchMachineWide escalates a cavity quench to every active
	// invocation instead of only the quenched cavity's ancestor chain.
	QuenchMachineWide bool `yaml:"quench_machine_wide"`
}

// SimulatorConfig contains simulated PV backend settings.
type SimulatorConfig struct {
	// TickIntervalMS is the background physics loop period (milliseconds).
	TickIntervalMS int `yaml:"tick_interval_ms"`

	// AmplitudeSlewRate is how far AACT moves toward ADES per tick (MV).
	AmplitudeSlewRate float64 `yaml:"amplitude_slew_rate"`

	// DetuneDriftRate is the detune random-walk step per tick (Hz).
	DetuneDriftRate float64 `yaml:"detune_drift_rate"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SCLINAC_SECTION_KEY
// For example: SCLINAC_DATABASE_PATH, SCLINAC_API_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
// Used by tests and by development deployments with no config file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "sclinac",
		},
		Database: DatabaseConfig{
			Path:        "./data/sclinac.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sclinac-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Hierarchy: HierarchyConfig{
			Linacs: []LinacConfig{
				{Name: "L0B", Cryomodules: []string{"01"}},
				{Name: "L1B", Cryomodules: []string{"02", "03", "H1", "H2"}},
				{Name: "L2B", Cryomodules: cmRange(4, 15)},
				{Name: "L3B", Cryomodules: cmRange(16, 35)},
			},
			HighLevel: []string{"H1", "H2"},
		},
		Setup: SetupConfig{
			TransitionTimeoutMS: 5000,
			PollIntervalMS:      50,
			MaxRetries:          3,
			RetryBackoffMS:      100,
			QuenchMachineWide:   false,
		},
		Simulator: SimulatorConfig{
			TickIntervalMS:    100,
			AmplitudeSlewRate: 2.0,
			DetuneDriftRate:   5.0,
		},
	}
}

// cmRange builds zero-padded cryomodule names for a contiguous range.
func cmRange(first, last int) []string {
	names := make([]string, 0, last-first+1)
	for i := first; i <= last; i++ {
		names = append(names, fmt.Sprintf("%02d", i))
	}
	return names
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SCLINAC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SCLINAC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SCLINAC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SCLINAC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SCLINAC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SCLINAC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SCLINAC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("SCLINAC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(c.Hierarchy.Linacs) == 0 {
		errs = append(errs, "hierarchy.linacs must not be empty")
	}
	seen := make(map[string]bool)
	for _, linac := range c.Hierarchy.Linacs {
		if linac.Name == "" {
			errs = append(errs, "hierarchy.linacs entries require a name")
			continue
		}
		for _, cm := range linac.Cryomodules {
			if seen[cm] {
				errs = append(errs, fmt.Sprintf("cryomodule %q appears in more than one linac", cm))
			}
			seen[cm] = true
		}
	}
	for _, hl := range c.Hierarchy.HighLevel {
		if !seen[hl] {
			errs = append(errs, fmt.Sprintf("high_level cryomodule %q is not in any linac", hl))
		}
	}

	if c.Setup.TransitionTimeoutMS <= 0 {
		errs = append(errs, "setup.transition_timeout_ms must be positive")
	}
	if c.Setup.PollIntervalMS <= 0 {
		errs = append(errs, "setup.poll_interval_ms must be positive")
	}
	if c.Setup.MaxRetries < 0 {
		errs = append(errs, "setup.max_retries must not be negative")
	}

	if c.Simulator.TickIntervalMS <= 0 {
		errs = append(errs, "simulator.tick_interval_ms must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// TransitionTimeout returns the leaf transition readback timeout.
func (s SetupConfig) TransitionTimeout() time.Duration {
	return time.Duration(s.TransitionTimeoutMS) * time.Millisecond
}

// PollInterval returns the readback polling interval.
func (s SetupConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

// RetryBackoff returns the base retry backoff.
func (s SetupConfig) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffMS) * time.Millisecond
}

// TickInterval returns the simulator physics loop period.
func (s SimulatorConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMS) * time.Millisecond
}
