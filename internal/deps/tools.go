package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"idmark/internal/config"
)

// Requirements lists the tools a batch needs. nvidia-smi only feeds the codec
// probe, so it is optional.
func Requirements(tools config.Tools) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: tools.FFmpeg, Description: "Transcodes GIFs and overlays video watermarks"},
		{Name: "FFprobe", Command: ResolveFFprobe(tools), Description: "Reads video dimensions and duration"},
		{Name: "nvidia-smi", Command: tools.NvidiaSMI, Description: "Detects NVIDIA encoders", Optional: true},
	}
}

// ResolveFFprobe prefers an ffprobe that sits next to the configured ffmpeg
// when ffprobe is left at its bare default, so both tools come from the same
// build.
func ResolveFFprobe(tools config.Tools) string {
	probe := strings.TrimSpace(tools.FFprobe)
	if probe != "" && probe != "ffprobe" {
		return probe
	}
	ffmpeg := strings.TrimSpace(tools.FFmpeg)
	if ffmpeg == "" {
		return probe
	}
	resolved, err := exec.LookPath(ffmpeg)
	if err != nil {
		return probe
	}
	candidate := siblingBinary(resolved, "ffprobe")
	if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
		return candidate
	}
	return probe
}

func siblingBinary(path, name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(path), name)
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
