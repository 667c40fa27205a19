package decode

import (
	"errors"
	"fmt"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/multi"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/format"
)

// zxingFormats maps catalog positions to gozxing formats. Positions missing
// here are never requested from the engine.
var zxingFormats = map[format.NativeIndex]gozxing.BarcodeFormat{
	0:  gozxing.BarcodeFormat_AZTEC,
	1:  gozxing.BarcodeFormat_CODABAR,
	2:  gozxing.BarcodeFormat_CODE_39,
	3:  gozxing.BarcodeFormat_CODE_93,
	4:  gozxing.BarcodeFormat_CODE_128,
	5:  gozxing.BarcodeFormat_DATA_MATRIX,
	6:  gozxing.BarcodeFormat_EAN_8,
	7:  gozxing.BarcodeFormat_EAN_13,
	8:  gozxing.BarcodeFormat_ITF,
	9:  gozxing.BarcodeFormat_MAXICODE,
	10: gozxing.BarcodeFormat_PDF_417,
	11: gozxing.BarcodeFormat_QR_CODE,
	12: gozxing.BarcodeFormat_RSS_14,
	13: gozxing.BarcodeFormat_RSS_EXPANDED,
	14: gozxing.BarcodeFormat_UPC_A,
	15: gozxing.BarcodeFormat_UPC_E,
}

var zxingIndexes = func() map[gozxing.BarcodeFormat]format.NativeIndex {
	m := make(map[gozxing.BarcodeFormat]format.NativeIndex, len(zxingFormats))
	for idx, f := range zxingFormats {
		m[f] = idx
	}
	return m
}()

// readerFactory builds a fresh reader. gozxing readers keep per-decode state,
// so every DecodeMulti call gets its own.
type readerFactory func(hints map[gozxing.DecodeHintType]interface{}) gozxing.Reader

func oneD(hints map[gozxing.DecodeHintType]interface{}) gozxing.Reader {
	return oned.NewMultiFormatOneDReader(hints)
}

// zxingModule is the reader registry: which reader handles which format.
type zxingModule struct {
	readers map[gozxing.BarcodeFormat]readerFactory
	// oneD formats share a single multi-format reader per decode.
	oneD map[gozxing.BarcodeFormat]bool
}

func newZXingModule() *zxingModule {
	return &zxingModule{
		readers: map[gozxing.BarcodeFormat]readerFactory{
			gozxing.BarcodeFormat_QR_CODE: func(map[gozxing.DecodeHintType]interface{}) gozxing.Reader {
				return qrcode.NewQRCodeReader()
			},
			gozxing.BarcodeFormat_DATA_MATRIX: func(map[gozxing.DecodeHintType]interface{}) gozxing.Reader {
				return datamatrix.NewDataMatrixReader()
			},
			gozxing.BarcodeFormat_AZTEC: func(map[gozxing.DecodeHintType]interface{}) gozxing.Reader {
				return aztec.NewAztecReader()
			},
		},
		oneD: map[gozxing.BarcodeFormat]bool{
			gozxing.BarcodeFormat_CODABAR:  true,
			gozxing.BarcodeFormat_CODE_39:  true,
			gozxing.BarcodeFormat_CODE_93:  true,
			gozxing.BarcodeFormat_CODE_128: true,
			gozxing.BarcodeFormat_EAN_8:    true,
			gozxing.BarcodeFormat_EAN_13:   true,
			gozxing.BarcodeFormat_ITF:      true,
			gozxing.BarcodeFormat_UPC_A:    true,
			gozxing.BarcodeFormat_UPC_E:    true,
		},
	}
}

// Link binds the registry to a profile.
func (m *zxingModule) Link(a Artifact) (Engine, error) {
	if a.Profile.Engine != EngineZXing {
		return nil, fmt.Errorf("decode: module cannot link engine %q", a.Profile.Engine)
	}
	return &zxingEngine{module: m, profile: a.Profile}, nil
}

// compiledHints is the gozxing form of a Hints value. Read-only once built.
type compiledHints struct {
	hints     map[gozxing.DecodeHintType]interface{}
	factories []readerFactory
}

type zxingEngine struct {
	module  *zxingModule
	profile Profile

	// compiled caches hint translations by Hints.Key.
	compiled sync.Map
}

func (e *zxingEngine) compile(h *Hints) *compiledHints {
	if c, ok := e.compiled.Load(h.Key()); ok {
		return c.(*compiledHints)
	}

	formats := make([]gozxing.BarcodeFormat, 0, len(h.Formats))
	for _, idx := range h.Formats {
		if f, ok := zxingFormats[idx]; ok {
			formats = append(formats, f)
		}
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_POSSIBLE_FORMATS: formats,
	}
	if e.profile.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	if e.profile.CharacterSet != "" {
		hints[gozxing.DecodeHintType_CHARACTER_SET] = e.profile.CharacterSet
	}

	c := &compiledHints{hints: hints}
	wantOneD := false
	for _, f := range formats {
		if e.module.oneD[f] {
			wantOneD = true
			continue
		}
		if factory, ok := e.module.readers[f]; ok {
			c.factories = append(c.factories, factory)
		}
	}
	if wantOneD {
		c.factories = append(c.factories, oneD)
	}

	actual, _ := e.compiled.LoadOrStore(h.Key(), c)
	return actual.(*compiledHints)
}

// DecodeMulti runs every reader the hints ask for over the luma plane.
// No barcode is an empty result, not an error.
func (e *zxingEngine) DecodeMulti(luma []byte, width, height int, h *Hints) ([]NativeResult, error) {
	c := e.compile(h)

	results, err := e.decodePlane(luma, width, height, c)
	if err != nil || len(results) > 0 || !e.profile.AlsoInverted {
		return results, err
	}

	inverted := make([]byte, width*height)
	for i, v := range luma[:width*height] {
		inverted[i] = 255 - v
	}
	return e.decodePlane(inverted, width, height, c)
}

func (e *zxingEngine) decodePlane(luma []byte, width, height int, c *compiledHints) ([]NativeResult, error) {
	src, err := gozxing.NewPlanarYUVLuminanceSource(luma, width, height, 0, 0, width, height, false)
	if err != nil {
		return nil, err
	}
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return nil, err
	}

	var (
		out     []NativeResult
		lastErr error
	)
	for _, factory := range c.factories {
		reader := multi.NewGenericMultipleBarcodeReader(factory(c.hints))
		found, err := reader.DecodeMultiple(bmp, c.hints)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			lastErr = err
			continue
		}
		for _, r := range found {
			out = append(out, newZXingResult(r))
		}
	}

	// One reader failing does not hide what the others found.
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func isNotFound(err error) bool {
	var nf gozxing.NotFoundException
	return errors.As(err, &nf)
}

type zxingResult struct {
	result *gozxing.Result
}

func newZXingResult(r *gozxing.Result) *zxingResult {
	return &zxingResult{result: r}
}

func (r *zxingResult) Text() string { return r.result.GetText() }

func (r *zxingResult) FormatIndex() format.NativeIndex {
	if idx, ok := zxingIndexes[r.result.GetBarcodeFormat()]; ok {
		return idx
	}
	return -1
}

func (r *zxingResult) Points() []Point {
	rp := r.result.GetResultPoints()
	points := make([]Point, 0, len(rp))
	for _, p := range rp {
		if p == nil {
			continue
		}
		points = append(points, Point{X: p.GetX(), Y: p.GetY()})
	}
	return points
}

// Free drops the reference to the gozxing result.
func (r *zxingResult) Free() { r.result = nil }
