package transcode

import (
	"fmt"
	"strconv"
)

// ConversionArgs builds the ffmpeg arguments that turn an animated GIF into
// an H.264 MP4 at maximum quality.
func ConversionArgs(src, dst, codec string) []string {
	return []string{
		"-y",
		"-i", src,
		"-q:v", "0",
		"-c:v", codec,
		"-movflags", "+faststart",
		"-pix_fmt", "yuv420p",
		dst,
	}
}

// OverlayFilter scales input 1 to fit within a third of the base frame,
// preserving its aspect ratio, and overlays it margin pixels from the
// bottom-left corner.
func OverlayFilter(width, height, margin int) string {
	maxW, maxH := width/3, height/3
	if maxW < 1 {
		maxW = 1
	}
	if maxH < 1 {
		maxH = 1
	}
	return fmt.Sprintf(
		"[1:v]scale='if(gt(a,%[1]d/%[2]d),%[1]d,-1)':'if(gt(a,%[1]d/%[2]d),-1,%[2]d)'[wm];[0:v][wm]overlay=%[3]d:H-h-%[3]d:format=rgb",
		maxW, maxH, margin,
	)
}

// OverlayArgs builds the ffmpeg arguments that watermark a video.
func OverlayArgs(src, watermark, dst, codec, audioBitrate string, width, height, margin int) []string {
	return []string{
		"-y",
		"-i", src,
		"-i", watermark,
		"-filter_complex", OverlayFilter(width, height, margin),
		"-c:v", codec,
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-movflags", "+faststart",
		"-pix_fmt", "yuv420p",
		dst,
	}
}

// StillOverlayArgs builds the ffmpeg arguments that watermark a single still
// image the in-process compositor cannot handle.
func StillOverlayArgs(src, watermark, dst string, width, height, margin int) []string {
	return []string{
		"-y",
		"-i", src,
		"-i", watermark,
		"-filter_complex", OverlayFilter(width, height, margin),
		"-frames:v", strconv.Itoa(1),
		"-update", "1",
		dst,
	}
}
