package config

const (
	defaultWorkDir             = "."
	defaultWatermark           = "watermark.png"
	defaultLogDir              = "~/.local/state/idmark/logs"
	defaultImagesDir           = "images"
	defaultGifsDir             = "gifs"
	defaultVideosDir           = "videos"
	defaultErrorLog            = "error.log"
	defaultUnsupportedLog      = "unsupported_files.log"
	defaultMaxConcurrency      = 8
	defaultWatchdogIntervalMS  = 1000
	defaultCodecPreference     = CodecAuto
	defaultFFmpegBinary        = "ffmpeg"
	defaultFFprobeBinary       = "ffprobe"
	defaultNvidiaSMIBinary     = "nvidia-smi"
	defaultAudioBitrate        = "192k"
	defaultWatermarkMargin     = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultHistoryPath         = "~/.local/share/idmark/history.db"
	defaultHistoryKeepRuns     = 200
	defaultNotifyRequestTimeout = 10
)

// Codec preference values accepted by codec.preferred.
const (
	CodecAuto     = "auto"
	CodecNVENC    = "nvenc"
	CodecQSV      = "qsv"
	CodecAMF      = "amf"
	CodecSoftware = "software"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:        defaultWorkDir,
			Watermark:      defaultWatermark,
			ImagesDir:      defaultImagesDir,
			GifsDir:        defaultGifsDir,
			VideosDir:      defaultVideosDir,
			LogDir:         defaultLogDir,
			ErrorLog:       defaultErrorLog,
			UnsupportedLog: defaultUnsupportedLog,
		},
		Pool: Pool{
			MaxConcurrency:     defaultMaxConcurrency,
			WatchdogIntervalMS: defaultWatchdogIntervalMS,
		},
		Codec: Codec{
			Preferred: defaultCodecPreference,
		},
		Tools: Tools{
			FFmpeg:    defaultFFmpegBinary,
			FFprobe:   defaultFFprobeBinary,
			NvidiaSMI: defaultNvidiaSMIBinary,
		},
		Encoding: Encoding{
			AudioBitrate:    defaultAudioBitrate,
			WatermarkMargin: defaultWatermarkMargin,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		History: History{
			Enabled:  true,
			Path:     defaultHistoryPath,
			KeepRuns: defaultHistoryKeepRuns,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
	}
}
