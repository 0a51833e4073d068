package ffmpegdecoder

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/user/avcpull/pkg/ports"
)

const stderrTailSize = 4096

// process is one running ffmpeg with fixed output geometry.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer

	width, height int
	done          chan struct{}

	mu      sync.Mutex
	frames  [][]byte
	readErr error
}

func startProcess(path string, args []string, width, height int) (*process, error) {
	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		width:  width,
		height: height,
		done:   make(chan struct{}),
	}
	go p.readFrames(stdout, width*height*ports.PixelFormatRGB24.BytesPerPixel())
	return p, nil
}

// readFrames splits ffmpeg's raw output into frames until EOF.
func (p *process) readFrames(stdout io.Reader, frameSize int) {
	defer close(p.done)

	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) {
				p.mu.Lock()
				p.readErr = fmt.Errorf("read frame: %w", err)
				p.mu.Unlock()
			}
			return
		}

		p.mu.Lock()
		p.frames = append(p.frames, buf)
		p.mu.Unlock()
	}
}

func (p *process) write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := p.stdin.Write(data)
	return err
}

// collect returns and clears the frames read so far.
func (p *process) collect() []ports.Picture {
	p.mu.Lock()
	frames := p.frames
	p.frames = nil
	p.mu.Unlock()

	if len(frames) == 0 {
		return nil
	}
	pics := make([]ports.Picture, len(frames))
	for i, data := range frames {
		pics[i] = ports.Picture{
			Width:  p.width,
			Height: p.height,
			Format: ports.PixelFormatRGB24,
			Data:   data,
		}
	}
	return pics
}

// finish closes stdin and waits for ffmpeg to drain and exit.
func (p *process) finish() error {
	closeErr := p.stdin.Close()
	<-p.done
	waitErr := p.cmd.Wait()

	p.mu.Lock()
	readErr := p.readErr
	p.mu.Unlock()

	if waitErr != nil {
		return waitErr
	}
	if readErr != nil {
		return readErr
	}
	return closeErr
}

// kill terminates ffmpeg without waiting for buffered frames.
func (p *process) kill() {
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	<-p.done
	_ = p.cmd.Wait()
}

func (p *process) stderrSuffix() string {
	msg := strings.TrimSpace(p.stderr.String())
	if msg == "" {
		return ""
	}
	return "\nstderr: " + msg
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
