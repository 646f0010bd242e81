// Package file provides a camera.Source that replays image files from a directory.
package file

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/image/draw"

	"vision-caption-client/internal/service/camera"
)

var extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Source cycles through the images of a directory in lexical order, like a
// video played back frame by frame.
type Source struct {
	mu    sync.Mutex
	paths []string
	next  int
}

// New scans dir for JPEG and PNG files.
func New(dir string) (*Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", camera.ErrNoFrame, dir)
	}
	sort.Strings(paths)

	return &Source{paths: paths}, nil
}

// Len returns the number of frames in the rotation.
func (s *Source) Len() int {
	return len(s.paths)
}

// Capture reads the next image, downsizes it and re-encodes it as JPEG.
func (s *Source) Capture(ctx context.Context, p camera.Params) ([]byte, error) {
	s.mu.Lock()
	path := s.paths[s.next]
	s.next = (s.next + 1) % len(s.paths)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	return Encode(Resize(img, p), p)
}

// Resize scales img to the requested size. SkipProcessing selects a cheaper
// interpolator.
func Resize(img image.Image, p camera.Params) image.Image {
	if p.Width <= 0 || p.Height <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() == p.Width && b.Dy() == p.Height {
		return img
	}

	var scaler draw.Scaler = draw.CatmullRom
	if p.SkipProcessing {
		scaler = draw.ApproxBiLinear
	}

	dst := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	scaler.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Encode writes img as JPEG at the requested quality.
func Encode(img image.Image, p camera.Params) ([]byte, error) {
	q := p.Quality
	if q < 1 || q > 100 {
		q = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
