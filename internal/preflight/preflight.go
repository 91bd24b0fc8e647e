package preflight

import (
	"context"
	"strings"

	"idmark/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckFileReadable("Watermark", cfg.Paths.Watermark))
	results = append(results, CheckDirectoryAccess("Images directory", cfg.Paths.ImagesDir))
	results = append(results, CheckDirectoryAccess("GIFs directory", cfg.Paths.GifsDir))
	results = append(results, CheckDirectoryAccess("Videos directory", cfg.Paths.VideosDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckTools(cfg)...)

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}

	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
