// Package transcode drives ffmpeg for the conversions and overlays a batch
// needs: GIF to MP4, video watermarking, and the still-image fallback.
//
// Every invocation runs under the supervisor, writes to a hidden partial
// file beside the destination, and renames it into place only on success.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"idmark/internal/logging"
	"idmark/internal/media/ffprobe"
	"idmark/internal/progress"
	"idmark/internal/services"
	"idmark/internal/supervisor"
)

// ProgressFunc receives the clamped completion fraction of a running job.
type ProgressFunc func(fraction float64)

// ProbeFunc inspects a media file.
type ProbeFunc func(ctx context.Context, path string) (ffprobe.Result, error)

// FrameCounter counts the frames of an animated image.
type FrameCounter func(path string) (int, error)

// Options configures a Transcoder.
type Options struct {
	FFmpeg       string
	FFprobe      string
	AudioBitrate string
	Margin       int
	// Timeout bounds each ffmpeg run when positive.
	Timeout time.Duration
	Logger  *slog.Logger
	// Probe overrides ffprobe.Inspect.
	Probe ProbeFunc
	// Frames counts GIF frames for conversion progress.
	Frames FrameCounter
}

// Transcoder runs ffmpeg jobs.
type Transcoder struct {
	ffmpeg       string
	audioBitrate string
	margin       int
	timeout      time.Duration
	sup          *supervisor.Supervisor
	probe        ProbeFunc
	frames       FrameCounter
	logger       *slog.Logger
	sampler      *logging.ProgressSampler
}

// New returns a Transcoder that launches ffmpeg through sup.
func New(sup *supervisor.Supervisor, opts Options) (*Transcoder, error) {
	if sup == nil {
		return nil, errors.New("transcode: supervisor required")
	}
	if opts.Frames == nil {
		return nil, errors.New("transcode: frame counter required")
	}
	t := &Transcoder{
		ffmpeg:       firstNonEmpty(opts.FFmpeg, "ffmpeg"),
		audioBitrate: firstNonEmpty(opts.AudioBitrate, "192k"),
		margin:       opts.Margin,
		timeout:      opts.Timeout,
		sup:          sup,
		probe:        opts.Probe,
		frames:       opts.Frames,
		logger:       logging.NewComponentLogger(opts.Logger, "transcode"),
		sampler:      logging.NewProgressSampler(10),
	}
	if t.probe == nil {
		binary := firstNonEmpty(opts.FFprobe, "ffprobe")
		t.probe = func(ctx context.Context, path string) (ffprobe.Result, error) {
			return ffprobe.Inspect(ctx, binary, path)
		}
	}
	return t, nil
}

// ConvertGIF converts an animated GIF to MP4 using codec.
func (t *Transcoder) ConvertGIF(ctx context.Context, src, dst, codec string, onProgress ProgressFunc) error {
	parser, err := progress.New(ctx, progress.UnitFrames, src, func(_ context.Context, path string) (float64, error) {
		n, err := t.frames(path)
		return float64(n), err
	})
	if err != nil {
		return err
	}
	return t.run(ctx, "convert", dst, func(partial string) []string {
		return ConversionArgs(src, partial, codec)
	}, parser, onProgress)
}

// OverlayVideo watermarks a video with the watermark image using codec.
func (t *Transcoder) OverlayVideo(ctx context.Context, src, watermark, dst, codec string, onProgress ProgressFunc) error {
	info, err := t.probe(ctx, src)
	if err != nil {
		return err
	}
	width, height, err := info.Dimensions()
	if err != nil {
		return err
	}
	duration, err := info.Duration()
	if err != nil {
		return err
	}
	parser := progress.NewWithTotal(progress.UnitSeconds, duration)
	return t.run(ctx, "overlay", dst, func(partial string) []string {
		return OverlayArgs(src, watermark, partial, codec, t.audioBitrate, width, height, t.margin)
	}, parser, onProgress)
}

// OverlayStill watermarks a single image through ffmpeg.
func (t *Transcoder) OverlayStill(ctx context.Context, src, watermark, dst string) error {
	info, err := t.probe(ctx, src)
	if err != nil {
		return err
	}
	width, height, err := info.Dimensions()
	if err != nil {
		return err
	}
	return t.run(ctx, "still overlay", dst, func(partial string) []string {
		return StillOverlayArgs(src, watermark, partial, width, height, t.margin)
	}, nil, nil)
}

func (t *Transcoder) run(ctx context.Context, operation, dst string, build func(partial string) []string, parser *progress.Parser, onProgress ProgressFunc) error {
	partial := partialPath(dst)
	logger := logging.WithContext(ctx, t.logger)
	itemID, _ := services.ItemIDFromContext(ctx)
	defer t.sampler.Forget(itemID)

	sink := func(line string) {
		if parser == nil {
			return
		}
		fraction, ok := parser.Feed(line)
		if !ok {
			return
		}
		if onProgress != nil {
			onProgress(fraction)
		}
		if t.sampler.ShouldLog(itemID, fraction*100) {
			logger.Debug("transcode progress",
				logging.String("operation", operation),
				logging.Float64("percent", fraction*100),
			)
		}
	}

	args := build(partial)
	logger.Debug("ffmpeg command", logging.String("operation", operation), logging.String("args", strings.Join(args, " ")))
	_, err := t.sup.Run(ctx, supervisor.Command{
		Name:    t.ffmpeg,
		Args:    args,
		Timeout: t.timeout,
	}, supervisor.Sinks{Stdout: sink, Stderr: sink})
	if err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("%s %s: %w", operation, filepath.Base(dst), err)
	}
	if err := os.Rename(partial, dst); err != nil {
		_ = os.Remove(partial)
		return services.Wrap(services.ErrExternalTool, "", operation, "finalize output", err)
	}
	if parser != nil {
		snap := parser.Snapshot()
		logger.Debug("transcode finished",
			logging.String("operation", operation),
			logging.Float64("position", snap.Current),
			logging.Float64("total", snap.Total),
		)
	}
	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

// partialPath keeps the destination extension so ffmpeg picks the same muxer.
func partialPath(dst string) string {
	dir, base := filepath.Split(dst)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".partial"+ext)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
