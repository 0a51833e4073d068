// Package pipeline defines the data model shared by the decode pipeline:
// encoded units flowing in, decoded frames flowing out.
package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"github.com/user/avcpull/pkg/ports"
)

// SourceID identifies one logical stream multiplexed through the pipeline.
type SourceID uint32

// =============================================================================
// Input
// =============================================================================

// EncodedUnit is one H.264 access unit (Annex B) pushed by a producer.
// T is the caller-defined timestamp type, e.g. int64 or time.Duration.
type EncodedUnit[T comparable] struct {
	Data      []byte
	Timestamp T
	SourceID  SourceID
}

// =============================================================================
// Output
// =============================================================================

// DecodedFrame is a decoded picture tagged with the timestamp and source of
// the encoded unit that produced it.
type DecodedFrame[T comparable] struct {
	Width     int
	Height    int
	Format    ports.PixelFormat
	Data      []byte // Ownership passes to the caller on pull
	Timestamp T
	SourceID  SourceID
	Keyframe  bool   // The unit whose tag this frame carries held an IDR picture
	Seq       uint64 // Global enqueue order, assigned by the output queue
}

// NewDecodedFrame attaches timing and identity to a native picture.
func NewDecodedFrame[T comparable](pic ports.Picture, ts T, id SourceID) DecodedFrame[T] {
	return DecodedFrame[T]{
		Width:     pic.Width,
		Height:    pic.Height,
		Format:    pic.Format,
		Data:      pic.Data,
		Timestamp: ts,
		SourceID:  id,
	}
}

// Image wraps the pixel buffer in an image.Image.
// RGBA and Gray buffers are shared; RGB24 is expanded into a new RGBA image.
func (f DecodedFrame[T]) Image() (image.Image, error) {
	want := f.Width * f.Height * f.Format.BytesPerPixel()
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) < want {
		return nil, fmt.Errorf("frame buffer too small: %dx%d %s needs %d bytes, have %d",
			f.Width, f.Height, f.Format, want, len(f.Data))
	}

	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Format {
	case ports.PixelFormatRGBA:
		return &image.RGBA{Pix: f.Data[:want], Stride: f.Width * 4, Rect: rect}, nil
	case ports.PixelFormatGray:
		return &image.Gray{Pix: f.Data[:want], Stride: f.Width, Rect: rect}, nil
	case ports.PixelFormatRGB24:
		img := image.NewRGBA(rect)
		for y := 0; y < f.Height; y++ {
			row := f.Data[y*f.Width*3:]
			for x := 0; x < f.Width; x++ {
				img.SetRGBA(x, y, color.RGBA{R: row[x*3], G: row[x*3+1], B: row[x*3+2], A: 255})
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %s", f.Format)
	}
}
