package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCodec()
	c.normalizeTools()
	c.normalizeEncoding()
	c.normalizeLogging()
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(strings.TrimSpace(c.Paths.WorkDir)); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}

	work := c.Paths.WorkDir
	fields := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.watermark", &c.Paths.Watermark, defaultWatermark},
		{"paths.images_dir", &c.Paths.ImagesDir, defaultImagesDir},
		{"paths.gifs_dir", &c.Paths.GifsDir, defaultGifsDir},
		{"paths.videos_dir", &c.Paths.VideosDir, defaultVideosDir},
		{"paths.error_log", &c.Paths.ErrorLog, defaultErrorLog},
		{"paths.unsupported_log", &c.Paths.UnsupportedLog, defaultUnsupportedLog},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		if *field.value, err = resolveUnder(work, *field.value); err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
	}

	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCodec() {
	c.Codec.Preferred = strings.ToLower(strings.TrimSpace(c.Codec.Preferred))
	if c.Codec.Preferred == "" {
		c.Codec.Preferred = defaultCodecPreference
	}
}

func (c *Config) normalizeTools() {
	if value, ok := os.LookupEnv("IDMARK_FFMPEG"); ok && strings.TrimSpace(value) != "" {
		c.Tools.FFmpeg = value
	}
	if value, ok := os.LookupEnv("IDMARK_FFPROBE"); ok && strings.TrimSpace(value) != "" {
		c.Tools.FFprobe = value
	}
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = defaultFFmpegBinary
	}
	c.Tools.FFprobe = strings.TrimSpace(c.Tools.FFprobe)
	if c.Tools.FFprobe == "" {
		c.Tools.FFprobe = defaultFFprobeBinary
	}
	c.Tools.NvidiaSMI = strings.TrimSpace(c.Tools.NvidiaSMI)
	if c.Tools.NvidiaSMI == "" {
		c.Tools.NvidiaSMI = defaultNvidiaSMIBinary
	}
}

func (c *Config) normalizeEncoding() {
	c.Encoding.AudioBitrate = strings.ToLower(strings.TrimSpace(c.Encoding.AudioBitrate))
	if c.Encoding.AudioBitrate == "" {
		c.Encoding.AudioBitrate = defaultAudioBitrate
	}
	if c.Encoding.WatermarkMargin < 0 {
		c.Encoding.WatermarkMargin = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console", "text":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeHistory() error {
	if strings.TrimSpace(c.History.Path) == "" {
		c.History.Path = defaultHistoryPath
	}
	var err error
	if c.History.Path, err = expandPath(strings.TrimSpace(c.History.Path)); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("IDMARK_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}
