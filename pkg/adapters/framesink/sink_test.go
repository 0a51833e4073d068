package framesink

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/user/avcpull/pkg/mocks"
)

var testBaseDir = filepath.Join("out")

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("saved file is not a PNG: %v", err)
	}
	return img
}

func TestSink_Enabled(t *testing.T) {
	if !New(testBaseDir, 0, mocks.NewFileSystem()).Enabled() {
		t.Error("expected Enabled to return true")
	}
}

func TestSink_SaveFrame(t *testing.T) {
	fs := mocks.NewFileSystem()
	sink := New(testBaseDir, 0, fs)

	if err := sink.SaveFrame(3, 7, "1.5s", testImage(16, 8)); err != nil {
		t.Fatalf("SaveFrame failed: %v", err)
	}

	dir := filepath.Join(testBaseDir, "source-0003")
	if !fs.HasDir(dir) {
		t.Errorf("expected directory %s", dir)
	}

	path := filepath.Join(dir, "frame-000007_1.5s.png")
	data, ok := fs.GetFile(path)
	if !ok {
		t.Fatalf("expected file at %s, have %v", path, fs.Paths())
	}
	if b := decodePNG(t, data).Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("expected 16x8, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestSink_Downscale(t *testing.T) {
	fs := mocks.NewFileSystem()
	sink := New(testBaseDir, 32, fs)

	if err := sink.SaveFrame(0, 0, "", testImage(64, 48)); err != nil {
		t.Fatalf("SaveFrame failed: %v", err)
	}

	data, ok := fs.GetFile(filepath.Join(testBaseDir, "source-0000", "frame-000000.png"))
	if !ok {
		t.Fatalf("frame not written, have %v", fs.Paths())
	}
	if b := decodePNG(t, data).Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("expected 32x24, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestSink_SmallFramesKeepSize(t *testing.T) {
	fs := mocks.NewFileSystem()
	sink := New(testBaseDir, 320, fs)

	if err := sink.SaveFrame(1, 0, "0s", testImage(64, 48)); err != nil {
		t.Fatalf("SaveFrame failed: %v", err)
	}
	data, _ := fs.GetFile(filepath.Join(testBaseDir, "source-0001", "frame-000000_0s.png"))
	if b := decodePNG(t, data).Bounds(); b.Dx() != 64 {
		t.Errorf("expected width 64, got %d", b.Dx())
	}
}

func TestSink_CreatesSourceDirOnce(t *testing.T) {
	fs := mocks.NewFileSystem()
	mkdirs := 0
	fs.MkdirAllFunc = func(string) error {
		mkdirs++
		return nil
	}
	sink := New(testBaseDir, 0, fs)

	for i := 0; i < 3; i++ {
		if err := sink.SaveFrame(2, i, "", testImage(2, 2)); err != nil {
			t.Fatalf("SaveFrame failed: %v", err)
		}
	}
	if mkdirs != 1 {
		t.Errorf("expected one MkdirAll, got %d", mkdirs)
	}
	if n := len(fs.Paths()); n != 3 {
		t.Errorf("expected 3 files, got %d", n)
	}
}

func TestSink_PropagatesErrors(t *testing.T) {
	fs := mocks.NewFileSystem()
	fs.WriteFileFunc = func(string, []byte) error { return errors.New("disk full") }
	sink := New(testBaseDir, 0, fs)

	if err := sink.SaveFrame(0, 0, "", testImage(2, 2)); err == nil {
		t.Error("expected write error")
	}
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"1.5s":      "1.5s",
		"1m2.003s":  "1m2.003s",
		"-40ms":     "-40ms",
		"12:00/µs":  "12_00__s",
		"":          "",
	}
	for in, want := range tests {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
