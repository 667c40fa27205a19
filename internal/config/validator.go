package config

import (
	"fmt"
	"regexp"

	"github.com/e7canasta/orion-care-sensor/internal/logging"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/format"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills derived defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = Default().ShutdownTimeout
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	if cfg.Camera.Kind == "" {
		cfg.Camera.Kind = Default().Camera.Kind
	}
	if err := cfg.Camera.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	if err := validateScan(cfg.Scan); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	if cfg.Chime.Enabled {
		if err := cfg.Chime.Tone.Validate(); err != nil {
			return fmt.Errorf("chime.tone: %w", err)
		}
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = fmt.Sprintf("care/barcodes/%s", cfg.InstanceID)
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = cfg.InstanceID
		}
		if err := cfg.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if cfg.HTTP.MaxClients < 0 {
		return fmt.Errorf("http.max_clients must be >= 0")
	}
	if cfg.Output.Buffer <= 0 {
		cfg.Output.Buffer = Default().Output.Buffer
	}

	return nil
}

func validateScan(s ScanConfig) error {
	if _, err := format.ParseList(s.Formats); err != nil {
		return err
	}
	if s.Delay < 0 {
		return fmt.Errorf("delay must be >= 0")
	}
	if s.FrameRate < 0 {
		return fmt.Errorf("frame_rate must be >= 0")
	}
	if s.Width < 0 || s.Height < 0 {
		return fmt.Errorf("width and height must be >= 0")
	}
	if s.DecodeErrorThreshold < 0 {
		return fmt.Errorf("decode_error_threshold must be >= 0")
	}
	if s.StopAfter < 0 {
		return fmt.Errorf("stop_after must be >= 0")
	}
	if s.DetectInterval < 0 {
		return fmt.Errorf("detect_interval must be >= 0")
	}
	return nil
}
