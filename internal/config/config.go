package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	AppEnv             string // "development" or "production"
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Storage
	StorageURL        string
	StorageServiceKey string
	StorageBucket     string
	OutputsPrefix     string // Path segment marking trusted final renders

	// Storyboard LLM (optional — empty key means the planner falls back to
	// static templates)
	OpenAIKey       string
	StoryboardModel string

	// Text-to-video provider (optional — backgrounds fall back to the selfie
	// placeholder without it)
	VideoEndpoint  string
	VideoSAKeyPath string // Service account key JSON for the bearer exchange

	// Lip-sync provider (optional — performer scenes fall back to the selfie
	// placeholder without it)
	LipSyncURL string
	LipSyncKey string

	// Worker
	WorkerEnabled     bool
	AssemblyEnabled   bool // When true the worker assembles server-side
	MaxConcurrentJobs int
	TempDir           string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "production"),
		APIPort:            getEnv("API_PORT", "8080"),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageURL:         getEnv("STORAGE_URL", ""),
		StorageServiceKey:  getEnv("STORAGE_SERVICE_KEY", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "moodreel-media"),
		OutputsPrefix:      getEnv("OUTPUTS_PREFIX", "outputs"),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		StoryboardModel:    getEnv("STORYBOARD_MODEL", "gpt-4o-mini"),
		VideoEndpoint:      getEnv("VIDEO_API_ENDPOINT", ""),
		VideoSAKeyPath:     getEnv("VIDEO_SA_KEY_PATH", ""),
		LipSyncURL:         getEnv("LIPSYNC_API_URL", "https://api.sync.so"),
		LipSyncKey:         getEnv("LIPSYNC_API_KEY", ""),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		AssemblyEnabled:    getEnvBool("ASSEMBLY_ENABLED", false),
		MaxConcurrentJobs:  getEnvInt("MAX_CONCURRENT_JOBS", 5),
		TempDir:            getEnv("TEMP_DIR", "/tmp/moodreel"),
	}

	// Validate required fields. Provider credentials are deliberately NOT
	// required — a missing credential makes that adapter report unavailable
	// and the pipeline degrades instead of refusing to start.
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.StorageURL == "" || cfg.StorageServiceKey == "" {
		return nil, fmt.Errorf("STORAGE_URL and STORAGE_SERVICE_KEY are required")
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
