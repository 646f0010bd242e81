// Package camera defines the frame acquisition interface used by the capture scheduler.
package camera

import (
	"context"
	"errors"
)

// ErrNoFrame is returned when a source has nothing to capture.
var ErrNoFrame = errors.New("no frame available")

// Params are the fixed acquisition parameters applied on every tick.
type Params struct {
	Quality        int  // JPEG quality, 1-100
	SkipProcessing bool // trade image quality for speed
	Width          int  // downscale target; 0 keeps the source size
	Height         int
}

// DefaultParams returns the mobile client's parameters: half quality,
// no heavy processing, 128x128.
func DefaultParams() Params {
	return Params{
		Quality:        50,
		SkipProcessing: true,
		Width:          128,
		Height:         128,
	}
}

// Source acquires one encoded frame. Implementations must be safe for
// concurrent use since captures can overlap.
type Source interface {
	Capture(ctx context.Context, p Params) ([]byte, error)
}
