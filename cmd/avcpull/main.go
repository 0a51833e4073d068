// Package main provides the CLI entry point for avcpull.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/ideamans/go-l10n"

	"github.com/user/avcpull/pkg/adapters/ffmpegdecoder"
	"github.com/user/avcpull/pkg/adapters/framesink"
	"github.com/user/avcpull/pkg/adapters/logger"
	"github.com/user/avcpull/pkg/adapters/mp4source"
	"github.com/user/avcpull/pkg/adapters/nullsink"
	"github.com/user/avcpull/pkg/adapters/osfilesystem"
	"github.com/user/avcpull/pkg/config"
	"github.com/user/avcpull/pkg/multiplexer"
	"github.com/user/avcpull/pkg/pipeline"
	"github.com/user/avcpull/pkg/ports"
	"github.com/user/avcpull/pkg/summarizer"
)

// CLI defines the command-line interface with subcommands.
type CLI struct {
	Decode  DecodeCmd  `cmd:"" help:"Decode the H.264 video track of MP4 files into frames."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// DecodeCmd defines the decode subcommand. Unset flags fall back to the
// config file, then to defaults.
type DecodeCmd struct {
	Inputs []string `arg:"" type:"existingfile" help:"MP4 files; each one is decoded as its own source."`

	Config string `short:"c" help:"YAML config file (falls back to AVCPULL_CONFIG env)."`

	// Output
	Output   *string `short:"o" help:"Directory for PNG frames (frames are only counted when empty)."`
	MaxWidth *int    `help:"Downscale frames wider than this (0 keeps the decoded size)."`
	Summary  string  `help:"Output execution summary to file (Markdown format)."`

	// Multiplexer
	MaxSources     *int    `help:"Maximum number of concurrent decoder sessions."`
	QueueCapacity  *int    `help:"Maximum number of decoded frames waiting to be pulled (0 = unbounded)."`
	Backpressure   *string `help:"Full-queue policy (block, reject, drop-oldest)."`
	PullMode       *string `help:"Pull mode (global, per-source)."`
	Eviction       *string `help:"Eviction policy when all sessions are busy (none, lru)."`
	StallThreshold *int    `help:"Warn after this many units without output (0 disables)."`
	Order          *string `help:"Timestamp attribution (fifo uses decode times, lowest-first uses presentation times)."`

	// Decoder
	FFmpeg  *string `name:"ffmpeg" help:"Path to ffmpeg executable (falls back to AVCPULL_FFMPEG env, then PATH)."`
	Threads *int    `help:"Decoder threads per session (0 lets ffmpeg decide)."`

	// Logging
	LogLevel *string `short:"l" help:"Log level (debug, info, warn, error)."`
	Quiet    bool    `short:"Q" help:"Suppress all log output."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

var version = "dev"

// shutdownTimeout bounds draining after the inputs are exhausted or the run
// was interrupted.
const shutdownTimeout = 30 * time.Second

func main() {
	cli := CLI{}

	ctx := kong.Parse(&cli,
		kong.Name("avcpull"),
		kong.Description(l10n.T("Decode H.264 streams of many sources through a shared push/pull decoder.")),
		kong.UsageOnError(),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// Run executes the decode command.
func (cmd *DecodeCmd) Run() error {
	cfg, err := cmd.buildConfig()
	if err != nil {
		return err
	}

	// Create logger
	var log ports.Logger
	if cmd.Quiet {
		log = logger.NewNoop()
	} else {
		log = logger.NewConsole(cfg.Level())
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Warn("Interrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Create adapters
	fs := osfilesystem.New()

	var sink ports.FrameSink
	if cfg.Output.Dir != "" {
		if err := fs.MkdirAll(cfg.Output.Dir); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		sink = framesink.New(cfg.Output.Dir, cfg.Output.MaxWidth, fs)
	} else {
		sink = nullsink.New()
	}

	factory := ffmpegdecoder.NewFactory(ffmpegdecoder.Options{
		FFmpegPath: cfg.Decoder.FFmpegPath,
		Threads:    cfg.Decoder.Threads,
	}, log)

	mux, err := newMultiplexer(cfg, factory, log)
	if err != nil {
		return err
	}

	// Read inputs
	sources := make([]source, 0, len(cmd.Inputs))
	for i, path := range cmd.Inputs {
		track, err := mp4source.ReadFile(fs, path)
		if err != nil {
			return err
		}
		sources = append(sources, source{id: pipeline.SourceID(i), path: path, track: track})
	}

	start := time.Now()
	result, err := newRunner(cfg, mux, sink, log).run(ctx, sources)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	log.Info("Decoded %d frames from %d sources in %s", result.frames, len(sources), elapsed.Round(time.Millisecond))
	if result.dropped > 0 {
		log.Warn("%d frames were dropped by backpressure", result.dropped)
	}

	if cmd.Summary != "" {
		writer := summarizer.NewWriter(summarizer.NewMarkdownFormatter(
			summarizer.WithTranslator(func(s string) string { return l10n.T(s) }),
			summarizer.WithVersion(version),
		), fs)
		if err := writer.Write(cmd.Summary, buildSummary(cfg, sources, result, elapsed)); err != nil {
			log.Warn("Failed to write summary: %s", err)
		} else {
			log.Info("Summary saved to %s", cmd.Summary)
		}
	}

	if result.failed > 0 {
		return fmt.Errorf("%d of %d sources failed", result.failed, len(sources))
	}
	if cfg.Output.Dir != "" {
		log.Info("Frames saved to %s", cfg.Output.Dir)
	}
	return nil
}

// buildConfig loads the config file and environment, then applies flags.
func (cmd *DecodeCmd) buildConfig() (config.Config, error) {
	cfg, err := config.Load(cmd.Config)
	if err != nil {
		return cfg, err
	}

	if cmd.Output != nil {
		cfg.Output.Dir = *cmd.Output
	}
	if cmd.MaxWidth != nil {
		cfg.Output.MaxWidth = *cmd.MaxWidth
	}
	if cmd.MaxSources != nil {
		cfg.MaxSources = *cmd.MaxSources
	}
	if cmd.QueueCapacity != nil {
		cfg.QueueCapacity = *cmd.QueueCapacity
	}
	if cmd.Backpressure != nil {
		cfg.Backpressure = *cmd.Backpressure
	}
	if cmd.PullMode != nil {
		cfg.PullMode = *cmd.PullMode
	}
	if cmd.Eviction != nil {
		cfg.Eviction = *cmd.Eviction
	}
	if cmd.StallThreshold != nil {
		cfg.StallThreshold = *cmd.StallThreshold
	}
	if cmd.Order != nil {
		cfg.TimestampOrder = *cmd.Order
	}
	if cmd.FFmpeg != nil {
		cfg.Decoder.FFmpegPath = *cmd.FFmpeg
	}
	if cmd.Threads != nil {
		cfg.Decoder.Threads = *cmd.Threads
	}
	if cmd.LogLevel != nil {
		cfg.LogLevel = *cmd.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newMultiplexer picks the timestamp correlator matching cfg.TimestampOrder.
func newMultiplexer(cfg config.Config, factory ports.DecoderFactory, log ports.Logger) (*multiplexer.Multiplexer[time.Duration], error) {
	mc, err := cfg.ToMultiplexerConfig()
	if err != nil {
		return nil, err
	}
	if cfg.LowestFirst() {
		return multiplexer.NewOrdered(mc, factory, log, func(a, b time.Duration) bool { return a < b })
	}
	return multiplexer.New[time.Duration](mc, factory, log)
}

// Run executes the version command.
func (cmd *VersionCmd) Run() error {
	fmt.Println(l10n.F("avcpull version %s", version))
	return nil
}
