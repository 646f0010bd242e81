// Package mock provides a scriptable camera.Source for tests and demos.
// Without scripted frames it synthesises a small gradient JPEG per capture.
package mock

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"vision-caption-client/internal/service/camera"
)

// Source implements camera.Source with canned frames and failures.
type Source struct {
	mu     sync.Mutex
	frames [][]byte
	errs   []error // consumed one per capture; nil entries mean success
	delay  time.Duration
	calls  int
	gate   chan struct{}
}

// Option configures a Source.
type Option func(*Source)

// WithFrames makes the source return frames round-robin.
func WithFrames(frames ...[]byte) Option {
	return func(s *Source) { s.frames = frames }
}

// WithErrors scripts the outcome of the first len(errs) captures.
func WithErrors(errs ...error) Option {
	return func(s *Source) { s.errs = errs }
}

// WithDelay simulates slow camera I/O.
func WithDelay(d time.Duration) Option {
	return func(s *Source) { s.delay = d }
}

// WithGate blocks every capture until gate is closed.
func WithGate(gate chan struct{}) Option {
	return func(s *Source) { s.gate = gate }
}

// New creates a mock Source.
func New(opts ...Option) *Source {
	s := &Source{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture returns the next scripted frame or error.
func (s *Source) Capture(ctx context.Context, p camera.Params) ([]byte, error) {
	s.mu.Lock()
	n := s.calls
	s.calls++
	var err error
	if n < len(s.errs) {
		err = s.errs[n]
	}
	var frame []byte
	if len(s.frames) > 0 {
		frame = s.frames[n%len(s.frames)]
	}
	s.mu.Unlock()

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if frame != nil {
		return frame, nil
	}
	return synthesize(n, p)
}

// Calls returns the number of captures attempted.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func synthesize(n int, p camera.Params) ([]byte, error) {
	w, h := p.Width, p.Height
	if w <= 0 || h <= 0 {
		w, h = 128, 128
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := uint8(n * 17)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x*255/w) + shift, uint8(y * 255 / h), 128, 255})
		}
	}

	q := p.Quality
	if q < 1 || q > 100 {
		q = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
