// Package ffmpegdecoder provides a streaming H.264 native decoder backed by
// a long-lived ffmpeg process. Access units are written to ffmpeg's stdin as
// an Annex B elementary stream; RGB24 frames are read back from stdout by a
// reader goroutine, so Feed returns whatever pictures are ready.
package ffmpegdecoder

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/Eyevinn/mp4ff/avc"

	"github.com/user/avcpull/pkg/ports"
)

var (
	// ErrNotInitialized is returned when decoder methods are called before Init.
	ErrNotInitialized = errors.New("ffmpegdecoder: decoder not initialized")

	// ErrFFmpegNotFound is returned when no ffmpeg executable can be located.
	ErrFFmpegNotFound = errors.New("ffmpegdecoder: ffmpeg not found")
)

// Options configures the decoder.
type Options struct {
	// FFmpegPath is an explicit ffmpeg executable. Empty searches PATH and
	// common install locations.
	FFmpegPath string

	// Threads is passed to ffmpeg's H.264 decoder (0 = ffmpeg default).
	// One thread gives the lowest output latency.
	Threads int
}

// Decoder implements ports.NativeDecoder.
type Decoder struct {
	opts   Options
	logger ports.Logger

	mu         sync.Mutex
	ffmpegPath string
	proc       *process

	// Stream geometry and parameter sets survive Reset so decoding can
	// resume at the next IDR picture.
	sps, pps      []byte
	width, height int
}

// New creates a decoder. Call Init before feeding.
func New(opts Options, logger ports.Logger) *Decoder {
	return &Decoder{
		opts:   opts,
		logger: logger.WithComponent("ffmpeg"),
	}
}

// NewFactory returns a factory creating one decoder per source.
func NewFactory(opts Options, logger ports.Logger) ports.DecoderFactory {
	return func() (ports.NativeDecoder, error) {
		return New(opts, logger), nil
	}
}

// Init locates the ffmpeg executable. The process itself starts with the
// first IDR picture, once the stream geometry is known.
func (d *Decoder) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	path, err := findFFmpeg(d.opts.FFmpegPath)
	if err != nil {
		return err
	}
	d.ffmpegPath = path
	return nil
}

// Feed writes one Annex B access unit to ffmpeg and returns the frames
// decoded so far.
//
// Before the process runs, units carrying only parameter sets are absorbed,
// and a picture is accepted only if it is an IDR picture with a known
// sequence parameter set. Anything else is reported as corrupt data.
func (d *Decoder) Feed(data []byte) ([]ports.Picture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ffmpegPath == "" {
		return nil, ErrNotInitialized
	}

	nalus := avc.ExtractNalusFromByteStream(data)
	if len(nalus) == 0 {
		return nil, fmt.Errorf("%w: no Annex B start code", ports.ErrCorruptData)
	}

	var hasSlice, hasIDR bool
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch t := avc.GetNaluType(nalu[0]); {
		case t == avc.NALU_SPS:
			if err := d.setSPS(nalu); err != nil {
				return nil, err
			}
		case t == avc.NALU_PPS:
			d.pps = append([]byte(nil), nalu...)
		case t == avc.NALU_IDR:
			hasSlice, hasIDR = true, true
		case t >= avc.NALU_NON_IDR && t < avc.NALU_IDR:
			hasSlice = true
		}
	}

	if d.proc == nil {
		if !hasSlice {
			return nil, nil
		}
		if d.sps == nil {
			return nil, fmt.Errorf("%w: stream does not start with a sequence parameter set", ports.ErrCorruptData)
		}
		if !hasIDR {
			return nil, fmt.Errorf("%w: waiting for an IDR picture", ports.ErrCorruptData)
		}
		if err := d.start(); err != nil {
			return nil, err
		}
	}

	if err := d.proc.write(data); err != nil {
		p := d.proc
		d.proc = nil
		p.kill()
		return p.collect(), fmt.Errorf("%w: ffmpeg stopped accepting input: %w%s", ports.ErrCorruptData, err, p.stderrSuffix())
	}
	return d.proc.collect(), nil
}

// Flush closes ffmpeg's input, waits for it to exit and returns the
// remaining frames. A later IDR picture starts a new process.
func (d *Decoder) Flush() ([]ports.Picture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.proc == nil {
		return nil, nil
	}

	p := d.proc
	d.proc = nil
	err := p.finish()
	pics := p.collect()
	d.logger.Debug("ffmpeg flushed %d frames", len(pics))

	if err != nil {
		return pics, fmt.Errorf("%w: ffmpeg: %w%s", ports.ErrCorruptData, err, p.stderrSuffix())
	}
	return pics, nil
}

// Reset kills the running process and discards buffered frames. The stream
// geometry and parameter sets are kept.
func (d *Decoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ffmpegPath == "" {
		return ErrNotInitialized
	}
	d.stop()
	return nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stop()
	d.ffmpegPath = ""
}

// Geometry returns the frame size from the last sequence parameter set.
func (d *Decoder) Geometry() (width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

func (d *Decoder) setSPS(nalu []byte) error {
	sps, err := avc.ParseSPSNALUnit(nalu, false)
	if err != nil {
		return fmt.Errorf("%w: parse sequence parameter set: %w", ports.ErrCorruptData, err)
	}

	w, h := int(sps.Width), int(sps.Height)
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: sequence parameter set with %dx%d frames", ports.ErrCorruptData, w, h)
	}
	if d.width != 0 && (w != d.width || h != d.height) {
		return fmt.Errorf("%w: frame size changed from %dx%d to %dx%d",
			ports.ErrUnsupportedParameterChange, d.width, d.height, w, h)
	}

	d.sps = append([]byte(nil), nalu...)
	d.width, d.height = w, h
	return nil
}

func (d *Decoder) start() error {
	p, err := startProcess(d.ffmpegPath, d.args(), d.width, d.height)
	if err != nil {
		return fmt.Errorf("start ffmpeg: %w: %w", ports.ErrResourceExhausted, err)
	}
	d.logger.Debug("Starting ffmpeg decoder for %dx%d stream", d.width, d.height)

	// Parameter sets may have arrived in earlier units that were not written.
	var prefix []byte
	for _, ps := range [][]byte{d.sps, d.pps} {
		if ps != nil {
			prefix = append(prefix, 0, 0, 0, 1)
			prefix = append(prefix, ps...)
		}
	}
	if err := p.write(prefix); err != nil {
		p.kill()
		return fmt.Errorf("start ffmpeg: %w: %w%s", ports.ErrResourceExhausted, err, p.stderrSuffix())
	}

	d.proc = p
	return nil
}

func (d *Decoder) stop() {
	if d.proc == nil {
		return
	}
	d.proc.kill()
	d.proc = nil
}

func (d *Decoder) args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-probesize", "32",
		"-analyzeduration", "0",
	}
	if d.opts.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(d.opts.Threads))
	}
	return append(args,
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-vsync", "passthrough",
		"-flush_packets", "1",
		"pipe:1",
	)
}

var _ ports.NativeDecoder = (*Decoder)(nil)
