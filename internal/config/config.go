package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Progress persistence
	DatabaseURL string // When set, job records go to Postgres instead of JSON files
	ProgressDir string // JSON file store directory (used when DatabaseURL is empty)

	// Redis
	RedisURL string

	// Render backend
	ComfyUIURL         string
	WorkflowPath       string
	RenderWidth        int
	RenderHeight       int
	RenderTimeoutSec   int
	PollIntervalSec    int

	// OpenAI (Whisper lyric transcription — optional)
	OpenAIKey string

	// Gemini (fallback image generation — optional)
	GeminiKey   string
	GeminiModel string

	// Media tooling
	FFmpegPath  string
	FFprobePath string
	OutputDir   string

	// Defaults for jobs that leave options open
	DefaultStyle              string
	DefaultTransitionType     string
	DefaultTransitionDuration float64

	// Worker
	MaxConcurrentJobs int
	SceneConcurrency  int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		ProgressDir:        getEnv("PROGRESS_DIR", "data/progress"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		ComfyUIURL:         getEnv("COMFYUI_URL", "http://127.0.0.1:8188"),
		WorkflowPath:       getEnv("WORKFLOW_PATH", "workflows/default.json"),
		RenderWidth:        getEnvInt("RENDER_WIDTH", 1280),
		RenderHeight:       getEnvInt("RENDER_HEIGHT", 720),
		RenderTimeoutSec:   getEnvInt("RENDER_TIMEOUT_SECONDS", 300),
		PollIntervalSec:    getEnvInt("POLL_INTERVAL_SECONDS", 2),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:        getEnv("FFPROBE_PATH", "ffprobe"),
		OutputDir:          getEnv("OUTPUT_DIR", "data/output"),

		DefaultStyle:              getEnv("DEFAULT_STYLE", "cinematic"),
		DefaultTransitionType:     getEnv("DEFAULT_TRANSITION_TYPE", "fade"),
		DefaultTransitionDuration: getEnvFloat("DEFAULT_TRANSITION_DURATION", 1.0),

		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 2),
		SceneConcurrency:  getEnvInt("SCENE_CONCURRENCY", 2),
	}

	// Validate
	if cfg.RenderWidth <= 0 || cfg.RenderHeight <= 0 {
		return nil, fmt.Errorf("RENDER_WIDTH and RENDER_HEIGHT must be positive")
	}
	if cfg.MaxConcurrentJobs <= 0 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
