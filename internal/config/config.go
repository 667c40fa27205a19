// Package config loads the scanner's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/internal/backoff"
	"github.com/e7canasta/orion-care-sensor/modules/chime"
	"github.com/e7canasta/orion-care-sensor/modules/emitter"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
	"github.com/e7canasta/orion-care-sensor/modules/wakelock"
)

// Config represents the complete scanner configuration
type Config struct {
	InstanceID      string               `yaml:"instance_id"`
	ShutdownTimeout time.Duration        `yaml:"shutdown_timeout"` // Graceful shutdown timeout (default: 5s)
	Log             LogConfig            `yaml:"log"`
	Camera          streamcapture.Config `yaml:"camera"`
	Scan            ScanConfig           `yaml:"scan"`
	Decoder         DecoderConfig        `yaml:"decoder"`
	Chime           ChimeConfig          `yaml:"chime"`
	WakeLock        WakeLockConfig       `yaml:"wake_lock"`
	MQTT            MQTTConfig           `yaml:"mqtt"`
	HTTP            HTTPConfig           `yaml:"http"`
	Output          OutputConfig         `yaml:"output"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ScanConfig contains the scan loop settings
type ScanConfig struct {
	Formats    []string      `yaml:"formats"`     // empty = upc_a, upc_e, qr_code
	Delay      time.Duration `yaml:"delay"`       // settle delay after a non-empty batch
	FrameRate  float64       `yaml:"frame_rate"`  // ideal frame rate
	FacingMode string        `yaml:"facing_mode"` // ideal facing mode
	Width      int           `yaml:"width"`       // ideal width (0 = camera default)
	Height     int           `yaml:"height"`      // ideal height (0 = camera default)
	DeviceID   string        `yaml:"device_id"`   // exact device (empty = by facing mode)
	Preload    bool          `yaml:"preload"`     // bootstrap the decoder before opening the camera
	// DecodeErrorThreshold reports a degraded decoder after N consecutive
	// failures (0 = never)
	DecodeErrorThreshold int `yaml:"decode_error_threshold"`
	// StopAfter ends the scan after N delivered barcodes (0 = never)
	StopAfter int `yaml:"stop_after"`
	// DetectInterval detects on a fixed interval instead of on every new
	// frame (0 = every frame)
	DetectInterval time.Duration `yaml:"detect_interval"`
}

// DecoderConfig locates the decoder profile
type DecoderConfig struct {
	Profile   string         `yaml:"profile"`   // path or URL, empty = embedded
	Integrity string         `yaml:"integrity"` // blake3-<hex> or sha256-<hex>
	Retry     backoff.Config `yaml:"retry"`
}

// ChimeConfig contains the confirmation tone settings
type ChimeConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Sink        string        `yaml:"sink"`         // GStreamer audio sink element
	MinInterval time.Duration `yaml:"min_interval"` // 0 = tone duration, negative = no throttle
	Tone        chime.Tone    `yaml:"tone"`
}

// WakeLockConfig contains the sleep inhibitor settings
type WakeLockConfig struct {
	Enabled bool `yaml:"enabled"`

	wakelock.Config `yaml:",inline"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled bool `yaml:"enabled"`

	emitter.MQTTConfig `yaml:",inline"`
}

// HTTPConfig contains the control server settings
type HTTPConfig struct {
	Addr       string `yaml:"addr"`        // empty = disabled
	MaxClients int    `yaml:"max_clients"` // WebSocket client limit (0 = unlimited)
}

// OutputConfig selects the local detection output
type OutputConfig struct {
	NDJSON string `yaml:"ndjson"` // "-" = stdout, path = append to file, empty = off
	Buffer int    `yaml:"buffer"` // per-emitter event buffer
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		InstanceID:      "orion-scanner",
		ShutdownTimeout: 5 * time.Second,
		Log:             LogConfig{Level: "info", Format: "text"},
		Camera:          streamcapture.Config{Kind: streamcapture.KindV4L2},
		Scan: ScanConfig{
			Delay:      time.Second,
			FrameRate:  12,
			FacingMode: streamcapture.FacingEnvironment,
		},
		Decoder:  DecoderConfig{Retry: backoff.DefaultConfig()},
		Chime:    ChimeConfig{Enabled: true, Tone: chime.DefaultTone()},
		WakeLock: WakeLockConfig{Enabled: true},
		Output:   OutputConfig{NDJSON: "-", Buffer: 32},
	}
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default() and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
