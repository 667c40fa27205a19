package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"slices"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/format"
)

// DecodeCmd runs the decoder once over an image file.
type DecodeCmd struct {
	Path    string        `arg:"" help:"PNG or JPEG image" type:"existingfile"`
	Formats []string      `help:"Barcode formats to detect (comma separated, default: all)" sep:","`
	JSON    bool          `help:"Print one JSON object per barcode"`
	Timeout time.Duration `help:"Decoder bootstrap timeout" default:"30s"`
}

func (c *DecodeCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if err := g.initLogging(cfg); err != nil {
		return err
	}

	formats := format.Supported()
	if len(c.Formats) > 0 {
		if formats, err = format.ParseList(c.Formats); err != nil {
			return err
		}
	}

	img, err := readImage(c.Path)
	if err != nil {
		return err
	}

	bridge, err := decode.NewBridge(formats, decode.WithSessionCell(sessionCell(cfg.Decoder)))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	codes, err := bridge.Detect(ctx, img)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return fmt.Errorf("no barcode found in %s", c.Path)
	}

	return printCodes(os.Stdout, codes, c.JSON)
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

func printCodes(w io.Writer, codes []decode.Barcode, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, code := range codes {
			if err := enc.Encode(code); err != nil {
				return err
			}
		}
		return nil
	}

	for _, code := range codes {
		fmt.Fprintf(w, "%-12s %s\n", code.Format, code.RawValue)
	}
	return nil
}

// FormatsCmd lists the barcode format catalog.
type FormatsCmd struct{}

func (c *FormatsCmd) Run() error {
	return printFormats(os.Stdout)
}

func printFormats(w io.Writer) error {
	defaults := format.Default()

	fmt.Fprintf(w, "%-12s %-12s %s\n", "FORMAT", "NATIVE", "DEFAULT")
	for _, f := range format.Supported() {
		native, err := f.Native()
		if err != nil {
			return err
		}
		mark := ""
		if slices.Contains(defaults, f) {
			mark = "yes"
		}
		fmt.Fprintf(w, "%-12s %-12s %s\n", f, native, mark)
	}
	return nil
}
