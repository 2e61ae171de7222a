package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	LLM       LLMConfig
	TTS       TTSConfig
	Pexels    PexelsConfig
	Thumbnail ThumbnailConfig
	R2        R2Config
	Encoder   EncoderConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	SubmitPerHour int
	StatusPerMin  int
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type TTSConfig struct {
	ServiceURL string
	Timeout    int // seconds
	VoiceID    string
}

type PexelsConfig struct {
	APIKey  string
	BaseURL string
}

type ThumbnailConfig struct {
	BaseURL   string
	OutputDir string
	Style     string
	Width     int
	Height    int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type EncoderConfig struct {
	FFmpegPath  string
	FFprobePath string
	OutputDir   string
	FPS         int
	Width       int
	Height      int
}

type PipelineConfig struct {
	Workers         int
	MaxAttempts     int
	BackoffBaseMS   int
	ChunkSize       int
	ReaperInterval  string // cron spec for the stale-pending reaper
	StalePendingMin int    // minutes before a pending task is re-enqueued
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("GROQ_API_KEY")
	readSecret("PEXELS_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = viper.BindEnv("ratelimit.status_per_min", "RATELIMIT_STATUS_PER_MIN")
	_ = viper.BindEnv("llm.api_key", "GROQ_API_KEY")
	_ = viper.BindEnv("llm.base_url", "GROQ_BASE_URL")
	_ = viper.BindEnv("llm.model", "GROQ_MODEL")
	_ = viper.BindEnv("tts.service_url", "TTS_SERVICE_URL")
	_ = viper.BindEnv("tts.timeout", "TTS_SERVICE_TIMEOUT")
	_ = viper.BindEnv("tts.voice_id", "TTS_VOICE_ID")
	_ = viper.BindEnv("pexels.api_key", "PEXELS_API_KEY")
	_ = viper.BindEnv("pexels.base_url", "PEXELS_BASE_URL")
	_ = viper.BindEnv("thumbnail.base_url", "THUMBNAIL_BASE_URL")
	_ = viper.BindEnv("thumbnail.output_dir", "THUMBNAIL_OUTPUT_DIR")
	_ = viper.BindEnv("thumbnail.style", "THUMBNAIL_STYLE")
	_ = viper.BindEnv("thumbnail.width", "THUMBNAIL_WIDTH")
	_ = viper.BindEnv("thumbnail.height", "THUMBNAIL_HEIGHT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("encoder.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("encoder.ffprobe_path", "FFPROBE_PATH")
	_ = viper.BindEnv("encoder.output_dir", "ENCODER_OUTPUT_DIR")
	_ = viper.BindEnv("encoder.fps", "ENCODER_FPS")
	_ = viper.BindEnv("encoder.width", "ENCODER_WIDTH")
	_ = viper.BindEnv("encoder.height", "ENCODER_HEIGHT")
	_ = viper.BindEnv("pipeline.workers", "PIPELINE_WORKERS")
	_ = viper.BindEnv("pipeline.max_attempts", "PIPELINE_MAX_ATTEMPTS")
	_ = viper.BindEnv("pipeline.backoff_base_ms", "PIPELINE_BACKOFF_BASE_MS")
	_ = viper.BindEnv("pipeline.chunk_size", "PIPELINE_CHUNK_SIZE")
	_ = viper.BindEnv("pipeline.reaper_interval", "PIPELINE_REAPER_INTERVAL")
	_ = viper.BindEnv("pipeline.stale_pending_min", "PIPELINE_STALE_PENDING_MIN")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("ratelimit.submit_per_hour", 10)
	viper.SetDefault("ratelimit.status_per_min", 120)

	// Groq defaults
	viper.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("llm.model", "llama-3.3-70b-versatile")

	// TTS service defaults
	viper.SetDefault("tts.service_url", "http://localhost:8084")
	viper.SetDefault("tts.timeout", 120)
	viper.SetDefault("tts.voice_id", "en_us_default")

	// Pexels defaults
	viper.SetDefault("pexels.base_url", "https://api.pexels.com")

	// Thumbnail defaults
	viper.SetDefault("thumbnail.base_url", "https://image.pollinations.ai")
	viper.SetDefault("thumbnail.output_dir", "/tmp/topicreel")
	viper.SetDefault("thumbnail.style", "bold")
	viper.SetDefault("thumbnail.width", 1280)
	viper.SetDefault("thumbnail.height", 720)

	// Encoder defaults
	viper.SetDefault("encoder.ffmpeg_path", "ffmpeg")
	viper.SetDefault("encoder.ffprobe_path", "ffprobe")
	viper.SetDefault("encoder.output_dir", "/tmp/topicreel")
	viper.SetDefault("encoder.fps", 30)
	viper.SetDefault("encoder.width", 1080)
	viper.SetDefault("encoder.height", 1920)

	// Pipeline defaults
	viper.SetDefault("pipeline.workers", 3)
	viper.SetDefault("pipeline.max_attempts", 3)
	viper.SetDefault("pipeline.backoff_base_ms", 1000)
	viper.SetDefault("pipeline.chunk_size", 2000)
	viper.SetDefault("pipeline.reaper_interval", "@every 2m")
	viper.SetDefault("pipeline.stale_pending_min", 10)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: viper.GetInt("ratelimit.submit_per_hour"),
			StatusPerMin:  viper.GetInt("ratelimit.status_per_min"),
		},
		LLM: LLMConfig{
			APIKey:  viper.GetString("llm.api_key"),
			BaseURL: viper.GetString("llm.base_url"),
			Model:   viper.GetString("llm.model"),
		},
		TTS: TTSConfig{
			ServiceURL: viper.GetString("tts.service_url"),
			Timeout:    viper.GetInt("tts.timeout"),
			VoiceID:    viper.GetString("tts.voice_id"),
		},
		Pexels: PexelsConfig{
			APIKey:  viper.GetString("pexels.api_key"),
			BaseURL: viper.GetString("pexels.base_url"),
		},
		Thumbnail: ThumbnailConfig{
			BaseURL:   viper.GetString("thumbnail.base_url"),
			OutputDir: viper.GetString("thumbnail.output_dir"),
			Style:     viper.GetString("thumbnail.style"),
			Width:     viper.GetInt("thumbnail.width"),
			Height:    viper.GetInt("thumbnail.height"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Encoder: EncoderConfig{
			FFmpegPath:  viper.GetString("encoder.ffmpeg_path"),
			FFprobePath: viper.GetString("encoder.ffprobe_path"),
			OutputDir:   viper.GetString("encoder.output_dir"),
			FPS:         viper.GetInt("encoder.fps"),
			Width:       viper.GetInt("encoder.width"),
			Height:      viper.GetInt("encoder.height"),
		},
		Pipeline: PipelineConfig{
			Workers:         viper.GetInt("pipeline.workers"),
			MaxAttempts:     viper.GetInt("pipeline.max_attempts"),
			BackoffBaseMS:   viper.GetInt("pipeline.backoff_base_ms"),
			ChunkSize:       viper.GetInt("pipeline.chunk_size"),
			ReaperInterval:  viper.GetString("pipeline.reaper_interval"),
			StalePendingMin: viper.GetInt("pipeline.stale_pending_min"),
		},
	}

	return cfg, nil
}
