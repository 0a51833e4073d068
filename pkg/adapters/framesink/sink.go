// Package framesink writes pulled frames as PNG images, one directory per source.
package framesink

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/draw"

	"github.com/user/avcpull/pkg/ports"
)

// Sink saves frames under baseDir/source-NNNN/.
type Sink struct {
	baseDir  string
	maxWidth int
	fs       ports.FileSystem
	encoder  png.Encoder

	mu   sync.Mutex
	dirs map[uint32]string
}

// New creates a Sink. Frames wider than maxWidth are downscaled keeping
// their aspect ratio (0 keeps the decoded size).
func New(baseDir string, maxWidth int, fs ports.FileSystem) *Sink {
	return &Sink{
		baseDir:  baseDir,
		maxWidth: maxWidth,
		fs:       fs,
		encoder:  png.Encoder{CompressionLevel: png.BestSpeed},
		dirs:     make(map[uint32]string),
	}
}

// Enabled returns true as this sink saves output.
func (s *Sink) Enabled() bool {
	return true
}

// SaveFrame encodes one frame as PNG. The file name carries the per-source
// index and the frame timestamp.
func (s *Sink) SaveFrame(sourceID uint32, index int, timestamp string, img image.Image) error {
	dir, err := s.sourceDir(sourceID)
	if err != nil {
		return err
	}

	img = s.fit(img)

	var buf bytes.Buffer
	if err := s.encoder.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode frame %d of source %d: %w", index, sourceID, err)
	}

	name := fmt.Sprintf("frame-%06d", index)
	if ts := sanitize(timestamp); ts != "" {
		name += "_" + ts
	}
	return s.fs.WriteFile(filepath.Join(dir, name+".png"), buf.Bytes())
}

func (s *Sink) sourceDir(sourceID uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir, ok := s.dirs[sourceID]; ok {
		return dir, nil
	}
	dir := filepath.Join(s.baseDir, fmt.Sprintf("source-%04d", sourceID))
	if err := s.fs.MkdirAll(dir); err != nil {
		return "", err
	}
	s.dirs[sourceID] = dir
	return dir, nil
}

// fit downscales img to maxWidth.
func (s *Sink) fit(img image.Image) image.Image {
	b := img.Bounds()
	if s.maxWidth <= 0 || b.Dx() <= s.maxWidth {
		return img
	}

	h := b.Dy() * s.maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, s.maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// sanitize keeps a timestamp usable in a file name.
func sanitize(ts string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, ts)
}

var _ ports.FrameSink = (*Sink)(nil)
