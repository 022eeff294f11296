package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/alarm-monitor/internal/registry"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alarm-monitor.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
	if cfg.Source != "Mastercomm" {
		t.Errorf("Source: got %q, want Mastercomm", cfg.Source)
	}
	if cfg.ScanInterval != time.Second {
		t.Errorf("ScanInterval: got %s, want 1s", cfg.ScanInterval)
	}
	ep, err := cfg.Fieldbus.Endpoint()
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if ep.Host != "192.168.1.100" || ep.Port != 502 {
		t.Errorf("Endpoint: got %s:%d, want 192.168.1.100:502", ep.Host, ep.Port)
	}
}

func TestLoadNoPathUsesDefaults(t *testing.T) {
	t.Setenv("ALARM_MONITOR_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "alarm_history.db" {
		t.Errorf("DSN: got %q", cfg.Database.DSN)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
source: Plant2
scan_interval: 250ms
fieldbus:
  mode: sim
  timeout: 1s
database:
  driver: sqlite
  dsn: /tmp/alarms.db
log:
  level: debug
  format: json
points:
  - item: "1"
    description: Pump 3 Overheat
    address: 5
    read_function: "01"
    active_status: HIGH_TEMP
  - item: "2"
    description: Door Open
    address: 1
    read_function: discrete
    active_status: OPEN
    enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != "Plant2" {
		t.Errorf("Source: got %q", cfg.Source)
	}
	if cfg.ScanInterval != 250*time.Millisecond {
		t.Errorf("ScanInterval: got %s", cfg.ScanInterval)
	}
	if cfg.StopTimeout != 5*time.Second {
		t.Errorf("StopTimeout: default lost, got %s", cfg.StopTimeout)
	}

	mb, err := cfg.Fieldbus.Modbus()
	if err != nil {
		t.Fatalf("Modbus: %v", err)
	}
	if mb.Host != "localhost" || mb.Port != 1502 {
		t.Errorf("sim endpoint: got %s:%d, want localhost:1502", mb.Host, mb.Port)
	}
	if mb.Timeout != time.Second || mb.Retries != 3 || mb.UnitID != 1 {
		t.Errorf("unexpected modbus config %+v", mb)
	}

	if len(cfg.Points) != 2 {
		t.Fatalf("Points: got %d, want 2", len(cfg.Points))
	}
	if cfg.Points[0].ReadFunction != registry.ReadCoil || !cfg.Points[0].Enabled {
		t.Errorf("point 1: got %+v", cfg.Points[0])
	}
	if cfg.Points[1].Enabled {
		t.Error("point 2: expected disabled")
	}
}

func TestLoadFromEnvPath(t *testing.T) {
	path := writeConfig(t, "source: FromEnv\n")
	t.Setenv("ALARM_MONITOR_CONFIG", path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != "FromEnv" {
		t.Errorf("Source: got %q, want FromEnv", cfg.Source)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ALARM_MONITOR_CONFIG", "")
	t.Setenv("ALARM_DB_DSN", "/var/lib/alarms.db")
	t.Setenv("ALARM_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("ALARM_FIELDBUS_MODE", "sim")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "/var/lib/alarms.db" {
		t.Errorf("DSN: got %q", cfg.Database.DSN)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("Broker: got %q", cfg.MQTT.Broker)
	}
	if cfg.Fieldbus.Mode != "sim" {
		t.Errorf("Mode: got %q", cfg.Fieldbus.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "source: [unterminated\n")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty source", func(c *Config) { c.Source = " " }, "source"},
		{"zero scan interval", func(c *Config) { c.ScanInterval = 0 }, "scan_interval"},
		{"negative stop timeout", func(c *Config) { c.StopTimeout = -time.Second }, "stop_timeout"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"unknown driver", func(c *Config) { c.Fieldbus.Driver = "canbus" }, "fieldbus.driver"},
		{"unknown mode", func(c *Config) { c.Fieldbus.Mode = "lab" }, "fieldbus.mode"},
		{"bad port", func(c *Config) { c.Fieldbus.Hosts["real"] = Endpoint{Host: "plc", Port: 70000} }, "invalid port"},
		{"zero fieldbus timeout", func(c *Config) { c.Fieldbus.Timeout = 0 }, "fieldbus.timeout"},
		{"negative retries", func(c *Config) { c.Fieldbus.Retries = -1 }, "fieldbus.retries"},
		{"empty gpio chip", func(c *Config) { c.Fieldbus.Driver = DriverGPIO; c.Fieldbus.GPIOChip = "" }, "gpio_chip"},
		{"unknown database", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"negative max rows", func(c *Config) { c.Database.MaxRows = -5 }, "max_rows"},
		{"unknown level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
		{"unknown format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"duplicate points", func(c *Config) {
			p := registry.Point{Item: "1", ReadFunction: registry.ReadCoil, Enabled: true}
			c.Points = []registry.Point{p, p}
		}, "points"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateGPIOIgnoresHosts(t *testing.T) {
	cfg := Default()
	cfg.Fieldbus.Driver = DriverGPIO
	cfg.Fieldbus.Mode = "nowhere"
	if err := cfg.Validate(); err != nil {
		t.Errorf("gpio driver should not need a modbus host: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.ScanInterval = 0
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "scan_interval") || !strings.Contains(err.Error(), "log.format") {
		t.Errorf("expected both problems reported, got %q", err)
	}
}

func TestLocation(t *testing.T) {
	cfg := Default()
	if cfg.Location() != time.Local {
		t.Error("empty timezone should use local time")
	}
	cfg.Timezone = "UTC"
	if cfg.Location().String() != "UTC" {
		t.Errorf("Location: got %s, want UTC", cfg.Location())
	}
}
