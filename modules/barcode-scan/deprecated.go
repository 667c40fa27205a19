package barcodescan

import (
	"context"
	"log/slog"
	"sync"
)

var deprecationOnce sync.Once

// CreateBarcodeReader starts a scan.
//
// Deprecated: use Start. CreateBarcodeReader logs a warning on first use.
func CreateBarcodeReader(ctx context.Context, callback Callback, opts Options) (*Handle, error) {
	deprecationOnce.Do(func() {
		slog.Warn("barcode-scan: CreateBarcodeReader is deprecated, use Start")
	})
	return Start(ctx, callback, opts)
}
