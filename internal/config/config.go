package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the work directory, output directories, and journal locations.
// Relative values (other than LogDir) resolve against WorkDir.
type Paths struct {
	WorkDir        string `toml:"work_dir"`
	Watermark      string `toml:"watermark"`
	ImagesDir      string `toml:"images_dir"`
	GifsDir        string `toml:"gifs_dir"`
	VideosDir      string `toml:"videos_dir"`
	LogDir         string `toml:"log_dir"`
	ErrorLog       string `toml:"error_log"`
	UnsupportedLog string `toml:"unsupported_log"`
}

// Pool contains worker pool and supervision settings.
type Pool struct {
	MaxConcurrency     int `toml:"max_concurrency"`
	WatchdogIntervalMS int `toml:"watchdog_interval_ms"`
	// JobTimeoutSeconds bounds a single external job. Zero disables the deadline.
	JobTimeoutSeconds int `toml:"job_timeout_seconds"`
}

// Codec contains hardware codec selection settings.
type Codec struct {
	Preferred string `toml:"preferred"`
}

// Tools contains external executable names or paths.
type Tools struct {
	FFmpeg    string `toml:"ffmpeg"`
	FFprobe   string `toml:"ffprobe"`
	NvidiaSMI string `toml:"nvidia_smi"`
}

// Encoding contains output encoding parameters.
type Encoding struct {
	AudioBitrate    string `toml:"audio_bitrate"`
	WatermarkMargin int    `toml:"watermark_margin"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// History contains configuration for the run history store.
type History struct {
	Enabled  bool   `toml:"enabled"`
	Path     string `toml:"path"`
	KeepRuns int    `toml:"keep_runs"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for idmark.
//
// Configuration sections by subsystem:
//   - Paths: work directory, output directories, watermark, journals
//   - Pool: concurrency bound, watchdog cadence, optional job deadline
//   - Codec: hardware codec preference
//   - Tools: ffmpeg, ffprobe, and nvidia-smi executables
//   - Encoding: audio bitrate and watermark margin
//   - Logging: log format and level
//   - History: SQLite run history
//   - Notifications: ntfy batch completion notices
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pool          Pool          `toml:"pool"`
	Codec         Codec         `toml:"codec"`
	Tools         Tools         `toml:"tools"`
	Encoding      Encoding      `toml:"encoding"`
	Logging       Logging       `toml:"logging"`
	History       History       `toml:"history"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/idmark/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if err := loadDotEnv(".env"); err != nil {
		return nil, "", false, err
	}

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv populates the process environment from a .env file without
// overriding variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("idmark.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// OutputDirectories returns the per-category output directories in phase order.
func (c *Config) OutputDirectories() []string {
	return []string{c.Paths.ImagesDir, c.Paths.GifsDir, c.Paths.VideosDir}
}

// EnsureDirectories creates the output and log directories. It is idempotent.
func (c *Config) EnsureDirectories() error {
	dirs := append(c.OutputDirectories(), c.Paths.LogDir)
	if c.History.Enabled && strings.TrimSpace(c.History.Path) != "" {
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WatchdogInterval returns the supervisor liveness check cadence.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Pool.WatchdogIntervalMS) * time.Millisecond
}

// JobTimeout returns the per-job deadline, or zero when disabled.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Pool.JobTimeoutSeconds) * time.Second
}

// LogFile returns the path of the structured run log.
func (c *Config) LogFile() string {
	return filepath.Join(c.Paths.LogDir, "idmark.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// resolveUnder expands pathValue, anchoring relative values at base.
func resolveUnder(base, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", nil
	}
	if strings.HasPrefix(pathValue, "~") || filepath.IsAbs(pathValue) {
		return expandPath(pathValue)
	}
	return expandPath(filepath.Join(base, pathValue))
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
