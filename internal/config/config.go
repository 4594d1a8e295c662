package config

import (
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/snarg/wordreel/internal/reel"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Optional: job history is only recorded when set.
	DatabaseURL string `env:"DATABASE_URL"`

	// Video look
	VideoWidth       int     `env:"VIDEO_WIDTH" envDefault:"1920"`
	VideoHeight      int     `env:"VIDEO_HEIGHT" envDefault:"1080"`
	FrameRate        int     `env:"FRAME_RATE" envDefault:"24"`
	FontPath         string  `env:"FONT_PATH"` // empty = bundled Go Regular
	FontSize         float64 `env:"FONT_SIZE" envDefault:"180"`
	TextColor        string  `env:"TEXT_COLOR" envDefault:"#ffffff"`
	StartColor       string  `env:"START_COLOR" envDefault:"#000000"`
	EndColor         string  `env:"END_COLOR" envDefault:"#6638f0"`
	TimingAdjustment float64 `env:"TIMING_ADJUSTMENT" envDefault:"-0.3"`
	RenderWorkers    int     `env:"RENDER_WORKERS"` // 0 = one per CPU

	// Speech
	TTSProvider       string        `env:"TTS_PROVIDER" envDefault:"google"`
	TTSLanguage       string        `env:"TTS_LANGUAGE" envDefault:"en"`
	TTSTimeout        time.Duration `env:"TTS_TIMEOUT" envDefault:"30s"`
	GoogleTTSURL      string        `env:"GOOGLE_TTS_URL"`
	ElevenLabsAPIKey  string        `env:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string        `env:"ELEVENLABS_VOICE_ID" envDefault:"21m00Tcm4TlvDq8ikWAM"`
	ElevenLabsModel   string        `env:"ELEVENLABS_MODEL" envDefault:"eleven_multilingual_v2"`
	ElevenLabsURL     string        `env:"ELEVENLABS_URL"`
	VoiceStability    float64       `env:"ELEVENLABS_STABILITY" envDefault:"0.5"`
	VoiceSimilarity   float64       `env:"ELEVENLABS_SIMILARITY_BOOST" envDefault:"0.75"`

	// Encoding
	FFmpegPath   string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath  string        `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	VideoCodec   string        `env:"VIDEO_CODEC" envDefault:"libx264"`
	AudioCodec   string        `env:"AUDIO_CODEC" envDefault:"aac"`
	AudioBitrate string        `env:"AUDIO_BITRATE" envDefault:"192k"`
	X264Preset   string        `env:"X264_PRESET" envDefault:"veryfast"`
	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT" envDefault:"15s"`
	TempDir      string        `env:"TEMP_DIR"`

	// Job pool
	JobWorkers   int           `env:"JOB_WORKERS" envDefault:"2"`
	JobQueueSize int           `env:"JOB_QUEUE_SIZE" envDefault:"32"`
	JobTimeout   time.Duration `env:"JOB_TIMEOUT" envDefault:"5m"`
	JobRetention time.Duration `env:"JOB_RETENTION" envDefault:"1h"`
	MaxTextChars int           `env:"MAX_TEXT_CHARS" envDefault:"5000"`

	// Job history rows older than this are deleted; 0 keeps them.
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" envDefault:"720h"`

	// Video storage
	VideoDir       string        `env:"VIDEO_DIR" envDefault:"./videos"`
	VideoRetention time.Duration `env:"VIDEO_RETENTION" envDefault:"24h"`
	VideoMaxGB     int           `env:"VIDEO_MAX_GB"`

	S3 S3Config `envPrefix:"S3_"`
}

// S3Config holds optional S3-compatible object storage settings.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Endpoint      string        `env:"ENDPOINT"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
	LocalCache    bool          `env:"LOCAL_CACHE" envDefault:"true"`
	UploadWorkers int           `env:"UPLOAD_WORKERS" envDefault:"2"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	VideoDir    string
	FontPath    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.VideoDir != "" {
		cfg.VideoDir = overrides.VideoDir
	}
	if overrides.FontPath != "" {
		cfg.FontPath = overrides.FontPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c *Config) Validate() error {
	var errs []string

	if c.VideoWidth <= 0 || c.VideoHeight <= 0 {
		errs = append(errs, fmt.Sprintf("video size %dx%d must be positive", c.VideoWidth, c.VideoHeight))
	} else if c.VideoWidth%2 != 0 || c.VideoHeight%2 != 0 {
		errs = append(errs, fmt.Sprintf("video size %dx%d must be even for yuv420p", c.VideoWidth, c.VideoHeight))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, "FRAME_RATE must be positive")
	}
	if c.FontSize <= 0 {
		errs = append(errs, "FONT_SIZE must be positive")
	}
	for _, col := range []struct{ name, value string }{
		{"TEXT_COLOR", c.TextColor},
		{"START_COLOR", c.StartColor},
		{"END_COLOR", c.EndColor},
	} {
		if _, err := reel.ParseHex(col.value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", col.name, err))
		}
	}

	switch c.TTSProvider {
	case "google":
	case "elevenlabs":
		if c.ElevenLabsAPIKey == "" {
			errs = append(errs, "ELEVENLABS_API_KEY is required when TTS_PROVIDER=elevenlabs")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown TTS_PROVIDER %q (want google or elevenlabs)", c.TTSProvider))
	}

	if c.JobWorkers < 1 {
		errs = append(errs, "JOB_WORKERS must be at least 1")
	}
	if c.JobQueueSize < 1 {
		errs = append(errs, "JOB_QUEUE_SIZE must be at least 1")
	}
	if c.RenderWorkers < 0 {
		errs = append(errs, "RENDER_WORKERS must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Settings returns the pipeline settings derived from the config. Colors
// must already have passed Validate.
func (c *Config) Settings() reel.Settings {
	return reel.Settings{
		Canvas:           image.Pt(c.VideoWidth, c.VideoHeight),
		FrameRate:        c.FrameRate,
		StartColor:       reel.MustParseHex(c.StartColor),
		EndColor:         reel.MustParseHex(c.EndColor),
		TimingAdjustment: c.TimingAdjustment,
	}
}

// TextRGB returns the parsed text color.
func (c *Config) TextRGB() reel.RGB { return reel.MustParseHex(c.TextColor) }
