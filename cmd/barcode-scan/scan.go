package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/internal/server"
	barcodescan "github.com/e7canasta/orion-care-sensor/modules/barcode-scan"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
	"github.com/e7canasta/orion-care-sensor/modules/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

// ScanCmd runs a scan until interrupted.
type ScanCmd struct {
	Formats    []string      `help:"Barcode formats to detect (comma separated)" sep:","`
	Delay      string        `help:"Settle delay after a detection (e.g. 500ms, 0 disables)"`
	Kind       string        `help:"Camera kind: v4l2, rtsp, test"`
	Device     string        `help:"Camera device path or RTSP URL"`
	Facing     string        `help:"Preferred facing mode: user, environment"`
	FrameRate  float64       `name:"frame-rate" help:"Ideal frame rate"`
	HTTP       string        `name:"http" help:"Control server address (e.g. :8080)"`
	MQTT       string        `name:"mqtt" help:"MQTT broker (host:port)"`
	NDJSON     string        `name:"ndjson" help:"JSON lines output: - for stdout, a path, or empty for the config value"`
	StopAfter  int           `name:"stop-after" help:"Stop after N barcodes (0 = never)"`
	Interval   time.Duration `name:"detect-interval" help:"Detect on a fixed interval instead of every frame (e.g. 200ms)"`
	Preload    bool          `help:"Load the decoder before opening the camera"`
	NoChime    bool          `name:"no-chime" help:"Disable the confirmation tone"`
	NoWakeLock bool          `name:"no-wake-lock" help:"Do not inhibit system sleep"`
	Stats      time.Duration `name:"stats-interval" help:"Interval between stats reports (0 disables)" default:"30s"`
}

func (c *ScanCmd) overrides() overrides {
	return overrides{
		Formats:    c.Formats,
		Delay:      c.Delay,
		Device:     c.Device,
		Kind:       c.Kind,
		Facing:     c.Facing,
		FrameRate:  c.FrameRate,
		HTTP:       c.HTTP,
		MQTT:       c.MQTT,
		NDJSON:     c.NDJSON,
		StopAfter:  c.StopAfter,
		Interval:   c.Interval,
		Preload:    c.Preload,
		NoChime:    c.NoChime,
		NoWakeLock: c.NoWakeLock,
	}
}

func (c *ScanCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if err := c.overrides().apply(cfg); err != nil {
		return err
	}
	if err := g.initLogging(cfg); err != nil {
		return err
	}

	slog.Info("barcode-scan: starting",
		"version", version,
		"instance_id", cfg.InstanceID,
		"camera", cfg.Camera.Kind,
		"device", cfg.Camera.Device,
		"formats", cfg.Scan.Formats,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, c.Stats)
}

// run wires the bus, emitters, server and scan, and blocks until the scan
// ends or ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, statsInterval time.Duration) error {
	bus := framebus.New()
	defer bus.Close()

	fwdCtx, stopForwarding := context.WithCancel(context.Background())
	defer stopForwarding()
	fwd, fwdCtx := errgroup.WithContext(fwdCtx)

	forward := func(id string, sink emitter.Sink) {
		fwd.Go(func() error {
			return emitter.Forward(fwdCtx, bus, id, sink, cfg.Output.Buffer)
		})
	}

	if cfg.Output.NDJSON != "" {
		w, closeOut, err := openOutput(cfg.Output.NDJSON)
		if err != nil {
			return err
		}
		defer closeOut()
		forward("ndjson", emitter.NewNDJSON(w))
	}

	var mqttSink *emitter.MQTT
	if cfg.MQTT.Enabled {
		m, err := emitter.NewMQTT(cfg.MQTT.MQTTConfig)
		if err != nil {
			return err
		}
		if err := m.Connect(ctx); err != nil {
			return err
		}
		defer m.Disconnect()
		mqttSink = m
		forward("mqtt", m)
	}

	var srv *server.Server
	if cfg.HTTP.Addr != "" {
		ws := emitter.NewBroadcaster(cfg.HTTP.MaxClients)
		defer ws.Close()
		forward("websocket", ws)

		srv = server.New(bus, ws)
		if err := srv.Start(cfg.HTTP.Addr); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("barcode-scan: server shutdown failed", "error", err)
			}
		}()
	}

	opts, err := scanOptions(cfg)
	if err != nil {
		return err
	}
	if clock, ok := opts.Clock.(*framesupplier.TickerClock); ok {
		defer clock.Stop()
	}
	camera, err := streamcapture.NewCamera(cfg.Camera)
	if err != nil {
		return err
	}
	opts.Camera = camera
	source := camera.Config().Name

	var (
		handle    *barcodescan.Handle
		started   = make(chan struct{})
		delivered atomic.Int64
	)
	callback := func(cbCtx context.Context, code decode.Barcode) error {
		// The loop can deliver before Start returns the handle.
		select {
		case <-started:
		case <-cbCtx.Done():
			return nil
		}

		bus.Publish(framebus.Event{
			ScanID:    handle.ID,
			Timestamp: time.Now(),
			Source:    source,
			Barcode:   code,
		})

		if n := delivered.Add(1); cfg.Scan.StopAfter > 0 && n >= int64(cfg.Scan.StopAfter) {
			return fmt.Errorf("%d barcodes delivered: %w", n, barcodescan.ErrStop)
		}
		return nil
	}

	handle, err = barcodescan.Start(ctx, callback, opts)
	if err != nil {
		return err
	}
	close(started)

	if srv != nil {
		srv.Attach(handle.ID, handle)
	}

	slog.Info("barcode-scan: scanning",
		"scan_id", handle.ID,
		"width", handle.Settings.Width,
		"height", handle.Settings.Height,
		"frame_rate", handle.Settings.FrameRate,
		"facing_mode", handle.Settings.FacingMode,
	)

	report := func() {
		printStats(os.Stderr, handle, bus.Stats(), mqttSink)
	}

	var ticker <-chan time.Time
	if statsInterval > 0 {
		t := time.NewTicker(statsInterval)
		defer t.Stop()
		ticker = t.C
	}

	for waiting := true; waiting; {
		select {
		case <-handle.Done():
			waiting = false
		case <-ticker:
			report()
		}
	}

	report()
	stopForwarding()
	if err := fwd.Wait(); err != nil {
		slog.Warn("barcode-scan: emitter stopped", "error", err)
	}

	err = handle.Err()
	switch {
	case errors.Is(err, barcodescan.ErrStop), errors.Is(err, context.Canceled), errors.Is(err, barcodescan.ErrCancelled):
		slog.Info("barcode-scan: scan finished", "scan_id", handle.ID, "reason", err)
		return nil
	default:
		return err
	}
}

// openOutput opens the NDJSON destination. "-" is stdout.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open ndjson output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func printStats(w io.Writer, h *barcodescan.Handle, bus framebus.BusStats, mqtt *emitter.MQTT) {
	st := h.Stats()

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "╭─────────────────────────────────────────────────────────╮\n")
	fmt.Fprintf(w, "│ Scan %s (%s)\n", h.ID, st.State)
	if cs := st.Stream; cs != nil {
		fmt.Fprintf(w, "├─────────────────────────────────────────────────────────┤\n")
		fmt.Fprintf(w, "│ Camera:             %s (%s)\n", cs.SourceStream, cs.Resolution)
		fmt.Fprintf(w, "│ FPS:                %6.1f (target %.1f)\n", cs.FPSReal, cs.FPSTarget)
		fmt.Fprintf(w, "│ Captured:           %6d (%d dropped, %d reconnects)\n", cs.FrameCount, cs.FramesDropped, cs.Reconnects)
	}
	if ss := st.Surface; ss != nil {
		fmt.Fprintf(w, "│ Surface:            %6d published, %d overwritten\n", ss.Published, ss.Overwritten)
		if ss.Cadence != nil {
			fmt.Fprintf(w, "│ Cadence:            %6.1f fps (stable: %v)\n", ss.Cadence.FPSMean, ss.Cadence.IsStable)
		}
	}
	fmt.Fprintf(w, "├─────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(w, "│ Frames:             %6d\n", st.Frames)
	fmt.Fprintf(w, "│ Detects:            %6d\n", st.Detects)
	fmt.Fprintf(w, "│ Batches:            %6d\n", st.Batches)
	fmt.Fprintf(w, "│ Delivered:          %6d barcodes\n", st.Delivered)
	if ds := st.Decoder; ds != nil {
		fmt.Fprintf(w, "│ Decoded:            %6d (%d failing in a row)\n", ds.Decoded, ds.ConsecutiveFailures)
	}
	fmt.Fprintf(w, "│ Chimes:             %6d (%d throttled)\n", st.Chime.Triggered, st.Chime.Throttled)
	if st.CallbackErrors > 0 || st.LoopErrors > 0 {
		fmt.Fprintf(w, "│ Callback Errors:    %6d\n", st.CallbackErrors)
		fmt.Fprintf(w, "│ Loop Errors:        %6d\n", st.LoopErrors)
	}
	fmt.Fprintf(w, "├─────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(w, "│ Events Published:   %6d\n", bus.TotalPublished)
	fmt.Fprintf(w, "│ Events Dropped:     %6d (%.1f%%)\n", bus.TotalDropped, framebus.CalculateDropRate(bus)*100)
	if sink, rate := framebus.SlowestSink(bus); sink != "" {
		fmt.Fprintf(w, "│ Slowest Sink:       %s (%.1f%% dropped)\n", sink, rate*100)
	}
	if mqtt != nil {
		ms := mqtt.Stats()
		fmt.Fprintf(w, "│ MQTT:               %6d sent, %d errors (connected: %v)\n", ms.Published, ms.Errors, ms.Connected)
	}
	fmt.Fprintf(w, "╰─────────────────────────────────────────────────────────╯\n")
}
