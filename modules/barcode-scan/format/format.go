// Package format is the catalog of barcode formats understood by the scan engine.
//
// It maps the canonical format identifiers (the lower-case names reported in
// every DetectedBarcode) to the decode engine's native format table and back.
// The catalog is static: no state, lookups only.
package format

import (
	"fmt"
	"strings"
)

// Format is a canonical barcode format identifier.
type Format string

const (
	Aztec      Format = "aztec"
	Codabar    Format = "codabar"
	Code39     Format = "code_39"
	Code93     Format = "code_93"
	Code128    Format = "code_128"
	DataMatrix Format = "data_matrix"
	EAN8       Format = "ean_8"
	EAN13      Format = "ean_13"
	ITF        Format = "itf"
	PDF417     Format = "pdf417"
	QRCode     Format = "qr_code"
	UPCA       Format = "upc_a"
	UPCE       Format = "upc_e"

	// Unknown is reported when the engine returns a native format that has
	// no canonical identifier (MAXICODE, RSS-14, RSS-Expanded).
	Unknown Format = "unknown"
)

// NativeIndex is a position in the decode engine's format table.
type NativeIndex int

// entry binds a canonical format to its native name and table position.
type entry struct {
	format Format
	native string
	index  NativeIndex
}

// nativeTable mirrors the decode engine's format enumeration. Entries with an
// empty format are native-only formats the catalog does not expose.
var nativeTable = []entry{
	{Aztec, "AZTEC", 0},
	{Codabar, "CODABAR", 1},
	{Code39, "Code39", 2},
	{Code93, "Code93", 3},
	{Code128, "Code128", 4},
	{DataMatrix, "DataMatrix", 5},
	{EAN8, "Ean8", 6},
	{EAN13, "Ean13", 7},
	{ITF, "ITF", 8},
	{"", "MAXICODE", 9},
	{PDF417, "Pdf417", 10},
	{QRCode, "QrCode", 11},
	{"", "Rss14", 12},
	{"", "RssExpanded", 13},
	{UPCA, "UpcA", 14},
	{UPCE, "UpcE", 15},
}

var (
	byFormat = make(map[Format]entry, len(nativeTable))
	byIndex  = make(map[NativeIndex]entry, len(nativeTable))
)

func init() {
	for _, e := range nativeTable {
		byIndex[e.index] = e
		if e.format != "" {
			byFormat[e.format] = e
		}
	}
}

// Supported returns every canonical format, in native table order.
func Supported() []Format {
	out := make([]Format, 0, len(byFormat))
	for _, e := range nativeTable {
		if e.format != "" {
			out = append(out, e.format)
		}
	}
	return out
}

// Default is the format set used when a scan does not request any.
func Default() []Format {
	return []Format{UPCA, UPCE, QRCode}
}

// Parse resolves a user-supplied name ("QR_CODE", "qr_code", "QrCode") to a Format.
func Parse(name string) (Format, error) {
	n := strings.TrimSpace(name)
	if f := Format(strings.ToLower(n)); f.Valid() {
		return f, nil
	}
	for _, e := range nativeTable {
		if e.format != "" && strings.EqualFold(e.native, n) {
			return e.format, nil
		}
	}
	return "", fmt.Errorf("format: unknown barcode format %q", name)
}

// ParseList resolves a list of names, failing on the first unknown one.
func ParseList(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	for _, n := range names {
		f, err := Parse(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Valid reports whether f has a catalog entry.
func (f Format) Valid() bool {
	_, ok := byFormat[f]
	return ok
}

func (f Format) String() string { return string(f) }

// Native returns the engine's name for f.
func (f Format) Native() (string, error) {
	e, ok := byFormat[f]
	if !ok {
		return "", fmt.Errorf("format: %q has no native mapping", string(f))
	}
	return e.native, nil
}

// Index returns the engine's table position for f.
func (f Format) Index() (NativeIndex, error) {
	e, ok := byFormat[f]
	if !ok {
		return 0, fmt.Errorf("format: %q has no native mapping", string(f))
	}
	return e.index, nil
}

// FromIndex maps a native table position back to its canonical format.
// Native-only or out of range positions map to Unknown.
func FromIndex(i NativeIndex) Format {
	e, ok := byIndex[i]
	if !ok || e.format == "" {
		return Unknown
	}
	return e.format
}

// NativeName returns the engine's name for a table position.
func NativeName(i NativeIndex) string {
	if e, ok := byIndex[i]; ok {
		return e.native
	}
	return ""
}

// Indexes translates formats to native positions, rejecting unmapped ones.
func Indexes(formats []Format) ([]NativeIndex, error) {
	out := make([]NativeIndex, 0, len(formats))
	for _, f := range formats {
		idx, err := f.Index()
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}
