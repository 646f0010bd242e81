package mock

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"testing"
	"time"

	"vision-caption-client/internal/service/camera"
)

func TestSource_ScriptedFramesAndErrors(t *testing.T) {
	boom := errors.New("camera busy")
	src := New(WithFrames([]byte("f1"), []byte("f2")), WithErrors(nil, boom))

	got, err := src.Capture(context.Background(), camera.DefaultParams())
	if err != nil || string(got) != "f1" {
		t.Fatalf("capture 1: got %q, %v", got, err)
	}

	if _, err := src.Capture(context.Background(), camera.DefaultParams()); !errors.Is(err, boom) {
		t.Fatalf("capture 2: expected scripted error, got %v", err)
	}

	got, err = src.Capture(context.Background(), camera.DefaultParams())
	if err != nil || string(got) != "f1" {
		t.Fatalf("capture 3: got %q, %v", got, err)
	}

	if src.Calls() != 3 {
		t.Errorf("expected 3 calls, got %d", src.Calls())
	}
}

func TestSource_SynthesizesJPEG(t *testing.T) {
	src := New()

	data, err := src.Capture(context.Background(), camera.DefaultParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("expected a valid jpeg: %v", err)
	}
	if img.Bounds().Dx() != 128 || img.Bounds().Dy() != 128 {
		t.Errorf("expected 128x128, got %v", img.Bounds())
	}
}

func TestSource_DelayHonoursContext(t *testing.T) {
	src := New(WithDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := src.Capture(ctx, camera.DefaultParams()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
