package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"idmark/internal/services"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Duration  string `json:"duration"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, services.Wrap(services.ErrMetadata, "", "ffprobe", "empty path", nil)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, services.Wrap(services.ErrMetadata, "", "ffprobe", strings.TrimSpace(stderr.String()), err)
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, services.Wrap(services.ErrMetadata, "", "ffprobe", "parse output", err)
	}
	return result, nil
}

// VideoStream returns the first video stream, if any.
func (r Result) VideoStream() (Stream, bool) {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			return stream, true
		}
	}
	return Stream{}, false
}

// Dimensions returns the width and height of the first video stream.
func (r Result) Dimensions() (int, int, error) {
	stream, ok := r.VideoStream()
	if !ok {
		return 0, 0, services.Wrap(services.ErrMetadata, "", "ffprobe", "no video stream", nil)
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return 0, 0, services.Wrap(services.ErrMetadata, "", "ffprobe",
			fmt.Sprintf("invalid dimensions %dx%d", stream.Width, stream.Height), nil)
	}
	return stream.Width, stream.Height, nil
}

// DurationSeconds returns the container duration in seconds, or 0 when
// unavailable and NaN when unparsable. Falls back to the first video stream's
// duration when the container does not report one.
func (r Result) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d != 0 {
		return d
	}
	if stream, ok := r.VideoStream(); ok {
		return parseFloat(stream.Duration)
	}
	return 0
}

// Duration returns a positive duration or an ErrMetadata failure.
func (r Result) Duration() (float64, error) {
	d := r.DurationSeconds()
	if math.IsNaN(d) || d <= 0 {
		return 0, services.Wrap(services.ErrMetadata, "", "ffprobe",
			fmt.Sprintf("unusable duration %q", r.Format.Duration), errNoDuration)
	}
	return d, nil
}

var errNoDuration = errors.New("duration not reported")

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || cleaned == "N/A" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
