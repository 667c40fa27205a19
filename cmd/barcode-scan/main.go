// Command barcode-scan scans barcodes from a camera and publishes every
// detection to stdout, MQTT and WebSocket clients.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/e7canasta/orion-care-sensor/internal/config"
	"github.com/e7canasta/orion-care-sensor/internal/logging"
)

// Version information
const version = "v0.2.0"

// Globals are flags shared by every command.
type Globals struct {
	Config string `short:"c" help:"Path to configuration file" type:"existingfile"`
	Debug  bool   `help:"Enable debug logging"`
}

// CLI defines the command-line interface.
var CLI struct {
	Globals

	Scan    ScanCmd    `cmd:"" help:"Scan barcodes from the camera"`
	Decode  DecodeCmd  `cmd:"" help:"Decode barcodes in an image file"`
	Formats FormatsCmd `cmd:"" help:"List supported barcode formats"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// load reads the configuration file, or the defaults without one.
func (g *Globals) load() (*config.Config, error) {
	if g.Config == "" {
		cfg := config.Default()
		if err := config.Validate(&cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	return config.Load(g.Config)
}

// initLogging installs the slog handler. Logs go to stderr: stdout carries
// detections.
func (g *Globals) initLogging(cfg *config.Config) error {
	level := cfg.Log.Level
	if g.Debug {
		level = "debug"
	}
	_, err := logging.Init(os.Stderr, level, cfg.Log.Format)
	return err
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("barcode-scan %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("barcode-scan"),
		kong.Description("Orion barcode scanner - continuous barcode and QR recognition from a live camera"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Bind(&CLI.Globals),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
