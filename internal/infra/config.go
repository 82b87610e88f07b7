package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// ModelScope inference API.
	ModelScopeBaseURL string
	APIKeys           []string

	// Polling budgets per task kind. Edits are much slower than generations.
	GenerateMaxRetries    int
	GenerateRetryInterval time.Duration
	EditMaxRetries        int
	EditRetryInterval     time.Duration

	// Prompt defaults.
	DefaultSize          string
	EnableNegativePrompt bool
	NegativePrompt       string

	// Edit-flow size handling.
	AutoDetectSize bool
	ScaleMode      string
	MaxWidth       int
	MaxHeight      int

	// Pagination.
	TasksPerPage int
	FavsPerPage  int

	// Optional AI prompt optimizer (OpenAI-compatible endpoint).
	AIAPIKey  string
	AIModel   string
	AIBaseURL string

	// Model tables, JSON payloads decoded by domain/modelcfg.
	GenerateModelsJSON string
	EditModelsJSON     string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// DefaultNegativePrompt mirrors the stock quality-control negative prompt shipped
// with the plugin. Applied only when MODA_ENABLE_NEGATIVE_PROMPT is on.
const DefaultNegativePrompt = "lowres, bad anatomy, bad hands, text, error, missing fingers, " +
	"extra digit, fewer digits, cropped, worst quality, low quality, normal quality, " +
	"jpeg artifacts, signature, watermark, username, blurry"

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		ModelScopeBaseURL: getEnv("MODELSCOPE_BASE_URL", "https://api-inference.modelscope.cn"),
		APIKeys:           splitList(os.Getenv("MODELSCOPE_API_KEYS")),

		GenerateMaxRetries:    getEnvInt("MODA_GENERATE_MAX_RETRIES", 60),
		GenerateRetryInterval: time.Millisecond * time.Duration(getEnvInt("MODA_GENERATE_RETRY_INTERVAL_MS", 5000)),
		EditMaxRetries:        getEnvInt("MODA_EDIT_MAX_RETRIES", 120),
		EditRetryInterval:     time.Millisecond * time.Duration(getEnvInt("MODA_EDIT_RETRY_INTERVAL_MS", 10000)),

		DefaultSize:          getEnv("MODA_DEFAULT_SIZE", "1024x1024"),
		EnableNegativePrompt: getEnvBool("MODA_ENABLE_NEGATIVE_PROMPT", false),
		NegativePrompt:       getEnv("MODA_NEGATIVE_PROMPT", DefaultNegativePrompt),

		AutoDetectSize: getEnvBool("MODA_AUTO_DETECT_SIZE", true),
		ScaleMode:      getEnv("MODA_SCALE_MODE", "fit"),
		MaxWidth:       getEnvInt("MODA_MAX_WIDTH", 1664),
		MaxHeight:      getEnvInt("MODA_MAX_HEIGHT", 1664),

		TasksPerPage: getEnvInt("MODA_TASKS_PER_PAGE", 5),
		FavsPerPage:  getEnvInt("MODA_FAVS_PER_PAGE", 10),

		AIAPIKey:  os.Getenv("AI_API_KEY"),
		AIModel:   getEnv("AI_MODEL", "gpt-4o-mini"),
		AIBaseURL: getEnv("AI_BASE_URL", "https://api.openai.com/v1"),

		GenerateModelsJSON: os.Getenv("MODA_GENERATE_MODELS"),
		EditModelsJSON:     os.Getenv("MODA_EDIT_MODELS"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		// Generation requests block until the remote job finishes, so the
		// write timeout must outlast the longest poll budget.
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 1500)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("MODELSCOPE_API_KEYS is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
