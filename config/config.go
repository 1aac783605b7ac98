// Package config loads the bridge's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/opd-ai/hcibridge/bufpool"
	"github.com/opd-ai/hcibridge/synctimer"
)

// Config is the root of the bridge configuration.
type Config struct {
	LogLevel string `toml:"log_level"`

	Host       SerialConfig    `toml:"host"`
	Controller SerialConfig    `toml:"controller"`
	Bridge     BridgeConfig    `toml:"bridge"`
	Sync       SyncConfig      `toml:"sync"`
	Telemetry  TelemetryConfig `toml:"telemetry"`
}

// SerialConfig names one serial port of the bridge.
type SerialConfig struct {
	Device string `toml:"device"`
	Baud   int    `toml:"baud"`
}

// BridgeConfig tunes the packet path.
type BridgeConfig struct {
	// RawH4 keeps the type indicator inside locally composed event
	// buffers, matching a host that consumes raw H4 images.
	RawH4 bool `toml:"raw_h4"`
	// WaitNOP delays traffic until the host is announced ready with a
	// NOP command complete.
	WaitNOP bool `toml:"wait_nop"`

	PoolCount    int `toml:"pool_count"`
	PoolCapacity int `toml:"pool_capacity"`
}

// SyncConfig tunes the timestamp correlation hardware path.
type SyncConfig struct {
	// Timesync enables the vendor timestamp-exchange command.
	Timesync bool `toml:"timesync"`
	// JitterBound is the max disagreement in microseconds between two
	// consecutive counter readings for a capture to be accepted.
	JitterBound uint32 `toml:"jitter_bound_us"`
	// PresentationWindow is the offset in microseconds from a sync
	// reference to the scheduled output toggle.
	PresentationWindow uint32 `toml:"presentation_window_us"`
	// TriggerDelay arms the first reference toggle this many
	// microseconds after startup.
	TriggerDelay uint32 `toml:"trigger_delay_us"`
	// Rearm selects what the toggle scheduler does after an output
	// toggle fires: "none" stays parked, "idle" accepts a new cycle.
	Rearm string `toml:"rearm"`

	// Pin names, as reported in the pin activity log. MeasurePin
	// defaults to TimesyncPin: measurement toggles and the timesync
	// command edge share one physical line, so a single analyzer
	// channel correlates both.
	TimesyncPin string `toml:"timesync_pin"`
	TogglePin   string `toml:"toggle_pin"`
	MeasurePin  string `toml:"measure_pin"`
}

// TelemetryConfig selects where latency records go.
type TelemetryConfig struct {
	// Mode is one of "none", "writer" or "mqtt".
	Mode string `toml:"mode"`

	MQTTBroker   string `toml:"mqtt_broker"`
	MQTTClientID string `toml:"mqtt_client_id"`
	MQTTTopic    string `toml:"mqtt_topic"`
}

// DefaultTriggerDelay arms the reference toggle 100ms after startup.
const DefaultTriggerDelay = 100000

// Load reads, defaults and validates the configuration at path.
func Load(path string) (Config, error) {
	var cfg Config
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Host.Baud == 0 {
		cfg.Host.Baud = 1000000
	}
	if cfg.Controller.Baud == 0 {
		cfg.Controller.Baud = 1000000
	}
	if cfg.Bridge.PoolCount == 0 {
		cfg.Bridge.PoolCount = bufpool.DefaultCount
	}
	if cfg.Bridge.PoolCapacity == 0 {
		cfg.Bridge.PoolCapacity = bufpool.DefaultCapacity
	}
	if cfg.Sync.JitterBound == 0 {
		cfg.Sync.JitterBound = synctimer.DefaultJitterBound
	}
	if cfg.Sync.PresentationWindow == 0 {
		cfg.Sync.PresentationWindow = synctimer.DefaultPresentationWindow
	}
	if cfg.Sync.TriggerDelay == 0 {
		cfg.Sync.TriggerDelay = DefaultTriggerDelay
	}
	if cfg.Sync.Rearm == "" {
		cfg.Sync.Rearm = "none"
	}
	if cfg.Sync.TimesyncPin == "" {
		cfg.Sync.TimesyncPin = "timesync"
	}
	if cfg.Sync.TogglePin == "" {
		cfg.Sync.TogglePin = "sync-toggle"
	}
	if cfg.Sync.MeasurePin == "" {
		cfg.Sync.MeasurePin = cfg.Sync.TimesyncPin
	}
	if cfg.Telemetry.Mode == "" {
		cfg.Telemetry.Mode = "writer"
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Validate rejects configurations the bridge cannot run with.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Host.Device) == "" {
		return fmt.Errorf("host serial device is required")
	}
	if strings.TrimSpace(cfg.Controller.Device) == "" {
		return fmt.Errorf("controller serial device is required")
	}
	if cfg.Host.Device == cfg.Controller.Device {
		return fmt.Errorf("host and controller cannot share device %s", cfg.Host.Device)
	}
	if cfg.Bridge.PoolCount < 2 {
		return fmt.Errorf("pool_count %d too small, need at least 2", cfg.Bridge.PoolCount)
	}
	if _, err := cfg.Sync.RearmPolicy(); err != nil {
		return err
	}
	switch cfg.Telemetry.Mode {
	case "none", "writer":
	case "mqtt":
		if strings.TrimSpace(cfg.Telemetry.MQTTBroker) == "" {
			return fmt.Errorf("telemetry mode mqtt requires mqtt_broker")
		}
		if strings.TrimSpace(cfg.Telemetry.MQTTTopic) == "" {
			return fmt.Errorf("telemetry mode mqtt requires mqtt_topic")
		}
	default:
		return fmt.Errorf("unknown telemetry mode %q", cfg.Telemetry.Mode)
	}
	return nil
}

// RearmPolicy maps the configured rearm name onto the scheduler policy.
func (c SyncConfig) RearmPolicy() (synctimer.RearmPolicy, error) {
	switch c.Rearm {
	case "none":
		return synctimer.RearmNone, nil
	case "idle":
		return synctimer.RearmIdle, nil
	default:
		return synctimer.RearmNone, fmt.Errorf("unknown rearm policy %q", c.Rearm)
	}
}
