package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-care-sensor/internal/config"
	barcodescan "github.com/e7canasta/orion-care-sensor/modules/barcode-scan"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/format"
	"github.com/e7canasta/orion-care-sensor/modules/chime"
	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
	"github.com/e7canasta/orion-care-sensor/modules/wakelock"
)

// sessionCell returns the decode session for cfg. The embedded profile uses
// the shared default cell.
func sessionCell(cfg config.DecoderConfig) *decode.SessionCell {
	if cfg.Profile == "" && cfg.Integrity == "" {
		return decode.DefaultCell
	}
	return decode.NewSessionCell(decode.NewZXingLoader(decode.LoaderConfig{
		Location:  cfg.Profile,
		Integrity: cfg.Integrity,
		Retry:     cfg.Retry,
	}))
}

// scanOptions maps the configuration onto barcodescan.Options. The camera is
// left to the caller. A fixed detect interval starts a TickerClock the caller
// must stop.
func scanOptions(cfg *config.Config) (barcodescan.Options, error) {
	formats, err := format.ParseList(cfg.Scan.Formats)
	if err != nil {
		return barcodescan.Options{}, err
	}

	opts := barcodescan.Options{
		SessionCell:          sessionCell(cfg.Decoder),
		Formats:              formats,
		Delay:                cfg.Scan.Delay,
		FrameRate:            cfg.Scan.FrameRate,
		FacingMode:           cfg.Scan.FacingMode,
		Tone:                 cfg.Chime.Tone,
		ChimeInterval:        cfg.Chime.MinInterval,
		Preload:              cfg.Scan.Preload,
		DecodeErrorThreshold: cfg.Scan.DecodeErrorThreshold,
	}

	// A configured delay of zero means "no settle delay", not "default".
	if opts.Delay == 0 {
		opts.Delay = -1
	}
	if cfg.Scan.FrameRate == 0 {
		opts.FrameRate = true
	}
	if cfg.Scan.FacingMode == "" {
		opts.FacingMode = true
	}
	if cfg.Scan.Width > 0 {
		opts.Width = cfg.Scan.Width
	}
	if cfg.Scan.Height > 0 {
		opts.Height = cfg.Scan.Height
	}
	if cfg.Scan.DeviceID != "" {
		opts.DeviceID = map[string]any{"exact": cfg.Scan.DeviceID}
	}

	if cfg.Scan.DetectInterval > 0 {
		opts.Clock = framesupplier.NewTickerClock(cfg.Scan.DetectInterval)
	}

	if cfg.WakeLock.Enabled {
		opts.WakeLock = barcodescan.Inhibitor(wakelock.New(cfg.WakeLock.Config))
	} else {
		opts.WakeLock = barcodescan.NoWakeLock
	}

	switch {
	case !cfg.Chime.Enabled:
		opts.Chime = chime.Nop
	case cfg.Chime.Sink != "":
		emitter, err := chime.NewGStreamerEmitter(cfg.Chime.Sink)
		if err != nil {
			slog.Warn("barcode-scan: chime disabled", "sink", cfg.Chime.Sink, "error", err)
			opts.Chime = chime.Nop
			break
		}
		opts.Chime = emitter
	}

	return opts, nil
}

// overrides are command-line values applied over the configuration file.
type overrides struct {
	Formats    []string
	Delay      string
	Device     string
	Kind       string
	Facing     string
	FrameRate  float64
	HTTP       string
	MQTT       string
	NDJSON     string
	StopAfter  int
	Interval   time.Duration
	Preload    bool
	NoChime    bool
	NoWakeLock bool
}

func (o overrides) apply(cfg *config.Config) error {
	if len(o.Formats) > 0 {
		cfg.Scan.Formats = o.Formats
	}
	if o.Delay != "" {
		d, err := time.ParseDuration(o.Delay)
		if err != nil {
			return fmt.Errorf("--delay: %w", err)
		}
		cfg.Scan.Delay = d
	}
	if o.Kind != "" {
		cfg.Camera.Kind = streamcapture.Kind(o.Kind)
	}
	if o.Device != "" {
		cfg.Camera.Device = o.Device
	}
	if o.Facing != "" {
		cfg.Scan.FacingMode = o.Facing
	}
	if o.FrameRate > 0 {
		cfg.Scan.FrameRate = o.FrameRate
	}
	if o.HTTP != "" {
		cfg.HTTP.Addr = o.HTTP
	}
	if o.MQTT != "" {
		cfg.MQTT.Enabled = true
		cfg.MQTT.Broker = o.MQTT
	}
	if o.Interval > 0 {
		cfg.Scan.DetectInterval = o.Interval
	}
	if o.NDJSON != "" {
		cfg.Output.NDJSON = o.NDJSON
	}
	if o.StopAfter > 0 {
		cfg.Scan.StopAfter = o.StopAfter
	}
	if o.Preload {
		cfg.Scan.Preload = true
	}
	if o.NoChime {
		cfg.Chime.Enabled = false
	}
	if o.NoWakeLock {
		cfg.WakeLock.Enabled = false
	}

	return config.Validate(cfg)
}
