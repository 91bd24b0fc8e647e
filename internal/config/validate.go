package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var audioBitratePattern = regexp.MustCompile(`^\d+k?$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePool(); err != nil {
		return err
	}
	if err := c.validateCodec(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	seen := make(map[string]string, 3)
	for key, dir := range map[string]string{
		"paths.images_dir": c.Paths.ImagesDir,
		"paths.gifs_dir":   c.Paths.GifsDir,
		"paths.videos_dir": c.Paths.VideosDir,
	} {
		if other, ok := seen[dir]; ok {
			return fmt.Errorf("%s and %s must not point to the same directory", other, key)
		}
		seen[dir] = key
	}
	return nil
}

func (c *Config) validatePool() error {
	if err := ensurePositiveMap(map[string]int{
		"pool.max_concurrency":      c.Pool.MaxConcurrency,
		"pool.watchdog_interval_ms": c.Pool.WatchdogIntervalMS,
	}); err != nil {
		return err
	}
	if c.Pool.JobTimeoutSeconds < 0 {
		return errors.New("pool.job_timeout_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateCodec() error {
	switch c.Codec.Preferred {
	case CodecAuto, CodecNVENC, CodecQSV, CodecAMF, CodecSoftware:
		return nil
	default:
		return fmt.Errorf("codec.preferred %q is not one of auto, nvenc, qsv, amf, software", c.Codec.Preferred)
	}
}

func (c *Config) validateEncoding() error {
	if !audioBitratePattern.MatchString(c.Encoding.AudioBitrate) {
		return fmt.Errorf("encoding.audio_bitrate %q must look like 192k", c.Encoding.AudioBitrate)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
}

func (c *Config) validateHistory() error {
	if !c.History.Enabled {
		return nil
	}
	if c.History.Path == "" {
		return errors.New("history.path must be set when history is enabled")
	}
	if c.History.KeepRuns < 0 {
		return errors.New("history.keep_runs must be zero or positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
