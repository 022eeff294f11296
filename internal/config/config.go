// Package config defines the monitor configuration, its defaults and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/alarm-monitor/internal/fieldbus"
	"github.com/sweeney/alarm-monitor/internal/logging"
	"github.com/sweeney/alarm-monitor/internal/mqtt"
	"github.com/sweeney/alarm-monitor/internal/registry"
	"github.com/sweeney/alarm-monitor/internal/store"
)

// Fieldbus drivers.
const (
	DriverModbus = "modbus"
	DriverGPIO   = "gpio"
)

// Endpoint is one fieldbus host.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// FieldbusConfig selects and addresses the device.
type FieldbusConfig struct {
	Driver        string              `yaml:"driver"`
	Mode          string              `yaml:"mode"` // key into Hosts
	Hosts         map[string]Endpoint `yaml:"hosts"`
	UnitID        uint8               `yaml:"unit_id"`
	Timeout       time.Duration       `yaml:"timeout"`
	Retries       int                 `yaml:"retries"`
	GPIOChip      string              `yaml:"gpio_chip"`
	GPIOActiveLow bool                `yaml:"gpio_active_low"`
}

// DatabaseConfig selects the transition store.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"` // sqlite | postgres
	DSN     string `yaml:"dsn"`
	MaxRows int    `yaml:"max_rows"`
}

// MQTTConfig enables notifications; an empty broker disables them.
type MQTTConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

// HTTPConfig configures the status server; an empty addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Config is the complete monitor configuration.
type Config struct {
	Source       string           `yaml:"source"`
	ScanInterval time.Duration    `yaml:"scan_interval"`
	StopTimeout  time.Duration    `yaml:"stop_timeout"`
	Timezone     string           `yaml:"timezone"` // log-number hour buckets; empty = local
	Fieldbus     FieldbusConfig   `yaml:"fieldbus"`
	Database     DatabaseConfig   `yaml:"database"`
	MQTT         MQTTConfig       `yaml:"mqtt"`
	HTTP         HTTPConfig       `yaml:"http"`
	Log          LogConfig        `yaml:"log"`
	Points       []registry.Point `yaml:"points"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Source:       "Mastercomm",
		ScanInterval: time.Second,
		StopTimeout:  5 * time.Second,
		Fieldbus: FieldbusConfig{
			Driver: DriverModbus,
			Mode:   "real",
			Hosts: map[string]Endpoint{
				"sim":  {Host: "localhost", Port: 1502},
				"real": {Host: "192.168.1.100", Port: 502},
			},
			UnitID:   1,
			Timeout:  3 * time.Second,
			Retries:  3,
			GPIOChip: "gpiochip0",
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			DSN:     "alarm_history.db",
			MaxRows: store.DefaultLimit,
		},
		MQTT: MQTTConfig{Topic: mqtt.DefaultTopic},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path uses ALARM_MONITOR_CONFIG, or defaults only if that is unset too.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("ALARM_MONITOR_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.DSN = getenvDefault("ALARM_DB_DSN", c.Database.DSN)
	c.Database.Driver = getenvDefault("ALARM_DB_DRIVER", c.Database.Driver)
	c.MQTT.Broker = getenvDefault("ALARM_MQTT_BROKER", c.MQTT.Broker)
	c.Fieldbus.Mode = getenvDefault("ALARM_FIELDBUS_MODE", c.Fieldbus.Mode)
}

// Validate rejects unknown enum values and non-positive durations.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Source) == "" {
		errs = append(errs, errors.New("source must not be empty"))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("scan_interval must be positive, got %s", c.ScanInterval))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}

	switch c.Fieldbus.Driver {
	case DriverModbus:
		if _, err := c.Fieldbus.Endpoint(); err != nil {
			errs = append(errs, err)
		}
		if c.Fieldbus.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("fieldbus.timeout must be positive, got %s", c.Fieldbus.Timeout))
		}
		if c.Fieldbus.Retries < 0 {
			errs = append(errs, fmt.Errorf("fieldbus.retries must not be negative, got %d", c.Fieldbus.Retries))
		}
	case DriverGPIO:
		if c.Fieldbus.GPIOChip == "" {
			errs = append(errs, errors.New("fieldbus.gpio_chip must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("fieldbus.driver: unknown value %q (want modbus or gpio)", c.Fieldbus.Driver))
	}

	if _, err := store.DialectFor(c.Database.Driver); err != nil {
		errs = append(errs, fmt.Errorf("database.driver: %w", err))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn must not be empty"))
	}
	if c.Database.MaxRows < 0 {
		errs = append(errs, fmt.Errorf("database.max_rows must not be negative, got %d", c.Database.MaxRows))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format: unknown value %q (want json or console)", c.Log.Format))
	}

	if len(c.Points) > 0 {
		if _, err := registry.New(c.Points); err != nil {
			errs = append(errs, fmt.Errorf("points: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Endpoint returns the host selected by Mode.
func (f FieldbusConfig) Endpoint() (Endpoint, error) {
	ep, ok := f.Hosts[f.Mode]
	if !ok {
		return Endpoint{}, fmt.Errorf("fieldbus.mode: no host configured for mode %q", f.Mode)
	}
	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("fieldbus.hosts.%s: empty host", f.Mode)
	}
	if ep.Port <= 0 || ep.Port > 65535 {
		return Endpoint{}, fmt.Errorf("fieldbus.hosts.%s: invalid port %d", f.Mode, ep.Port)
	}
	return ep, nil
}

// Modbus returns the client settings for the selected host.
func (f FieldbusConfig) Modbus() (fieldbus.ModbusConfig, error) {
	ep, err := f.Endpoint()
	if err != nil {
		return fieldbus.ModbusConfig{}, err
	}
	return fieldbus.ModbusConfig{
		Host:    ep.Host,
		Port:    ep.Port,
		UnitID:  f.UnitID,
		Timeout: f.Timeout,
		Retries: f.Retries,
	}, nil
}

// Location returns the log-number time zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
