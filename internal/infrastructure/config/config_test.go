package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
service:
  name: "sclinac-test"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
api:
  host: "0.0.0.0"
  port: 9090
setup:
  transition_timeout_ms: 2000
  poll_interval_ms: 20
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.Name != "sclinac-test" {
		t.Errorf("Service.Name = %q, want %q", cfg.Service.Name, "sclinac-test")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Setup.TransitionTimeoutMS != 2000 {
		t.Errorf("Setup.TransitionTimeoutMS = %d, want 2000", cfg.Setup.TransitionTimeoutMS)
	}

	// Unspecified sections keep their defaults.
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Setup.MaxRetries != 3 {
		t.Errorf("Setup.MaxRetries = %d, want default 3", cfg.Setup.MaxRetries)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCLINAC_DATABASE_PATH", "/env/override.db")
	t.Setenv("SCLINAC_API_PORT", "7070")
	t.Setenv("SCLINAC_MQTT_PASSWORD", "hunter2")
	t.Setenv("SCLINAC_INFLUXDB_TOKEN", "tok-123")

	content := `
database:
  path: "/file/value.db"
api:
  port: 8080
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/env/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("API.Port = %d, want 7070", cfg.API.Port)
	}
	if cfg.MQTT.Auth.Password != "hunter2" {
		t.Errorf("MQTT.Auth.Password = %q, want env override", cfg.MQTT.Auth.Password)
	}
	if cfg.InfluxDB.Token != "tok-123" {
		t.Errorf("InfluxDB.Token = %q, want env override", cfg.InfluxDB.Token)
	}
}

func TestDefaultHierarchy(t *testing.T) {
	cfg := Default()

	if len(cfg.Hierarchy.Linacs) != 4 {
		t.Fatalf("default linac count = %d, want 4", len(cfg.Hierarchy.Linacs))
	}

	total := 0
	for _, l := range cfg.Hierarchy.Linacs {
		total += len(l.Cryomodules)
	}
	// 35 numbered cryomodules plus H1/H2.
	if total != 37 {
		t.Errorf("default cryomodule count = %d, want 37", total)
	}

	l3b := cfg.Hierarchy.Linacs[3]
	if l3b.Name != "L3B" {
		t.Fatalf("fourth linac = %q, want L3B", l3b.Name)
	}
	if l3b.Cryomodules[0] != "16" || l3b.Cryomodules[len(l3b.Cryomodules)-1] != "35" {
		t.Errorf("L3B range = %s..%s, want 16..35",
			l3b.Cryomodules[0], l3b.Cryomodules[len(l3b.Cryomodules)-1])
	}

	if len(cfg.Hierarchy.HighLevel) != 2 {
		t.Errorf("high-level modules = %v, want H1 and H2", cfg.Hierarchy.HighLevel)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			"missing database path",
			func(c *Config) { c.Database.Path = "" },
			"database.path",
		},
		{
			"bad qos",
			func(c *Config) { c.MQTT.QoS = 3 },
			"mqtt.qos",
		},
		{
			"bad port",
			func(c *Config) { c.API.Port = 0 },
			"api.port",
		},
		{
			"no linacs",
			func(c *Config) { c.Hierarchy.Linacs = nil },
			"hierarchy.linacs",
		},
		{
			"duplicate cryomodule",
			func(c *Config) {
				c.Hierarchy.Linacs[0].Cryomodules = append(c.Hierarchy.Linacs[0].Cryomodules, "02")
			},
			"more than one linac",
		},
		{
			"unknown high-level module",
			func(c *Config) { c.Hierarchy.HighLevel = []string{"H9"} },
			"high_level",
		},
		{
			"zero transition timeout",
			func(c *Config) { c.Setup.TransitionTimeoutMS = 0 },
			"transition_timeout_ms",
		},
		{
			"zero tick interval",
			func(c *Config) { c.Simulator.TickIntervalMS = 0 },
			"tick_interval_ms",
		},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: Validate() = nil, want error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.wantMsg) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.wantMsg)
		}
	}
}

func TestDurationHelpers(t *testing.T) {
	s := SetupConfig{TransitionTimeoutMS: 5000, PollIntervalMS: 50, RetryBackoffMS: 100}
	if s.TransitionTimeout() != 5*time.Second {
		t.Errorf("TransitionTimeout = %v", s.TransitionTimeout())
	}
	if s.PollInterval() != 50*time.Millisecond {
		t.Errorf("PollInterval = %v", s.PollInterval())
	}
	if s.RetryBackoff() != 100*time.Millisecond {
		t.Errorf("RetryBackoff = %v", s.RetryBackoff())
	}

	sim := SimulatorConfig{TickIntervalMS: 100}
	if sim.TickInterval() != 100*time.Millisecond {
		t.Errorf("TickInterval = %v", sim.TickInterval())
	}
}
