package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when CONFIG_PATH is unset.
const DefaultConfigPath = "config.yaml"

// ConfigPath returns the config file location.
func ConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("CONFIG_PATH")); v != "" {
		return v
	}
	return DefaultConfigPath
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string  `yaml:"port"`
	LogLevel           string  `yaml:"logLevel"`
	LogsDir            string  `yaml:"logsDir"`
	DatabaseURL        string  `yaml:"databaseURL"`
	RedisAddr          string  `yaml:"redisAddr"`
	RedisPassword      string  `yaml:"redisPassword"`
	GenerationProvider string  `yaml:"generationProvider"`
	GenerationBaseURL  string  `yaml:"generationBaseURL"`
	GenerationAPIKey   string  `yaml:"generationAPIKey"`
	GenerationModel    string  `yaml:"generationModel"`
	OllamaKeepAlive    string  `yaml:"ollamaKeepAlive"`
	EmbeddingProvider  string  `yaml:"embeddingProvider"`
	EmbeddingBaseURL   string  `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey    string  `yaml:"embeddingAPIKey"`
	EmbeddingModel     string  `yaml:"embeddingModel"`
	EmbeddingDim       int     `yaml:"embeddingDim"`
	GeminiAPIKey       string  `yaml:"geminiAPIKey"`
	TopK               int     `yaml:"topK"`
	MinChunks          int     `yaml:"minChunks"`
	FallbackScore      float64 `yaml:"fallbackScore"`
	HistoryLimit       int     `yaml:"historyLimit"`
	ReasoningStartTag  string  `yaml:"reasoningStartTag"`
	ReasoningEndTag    string  `yaml:"reasoningEndTag"`
	ChatRateLimit      int     `yaml:"chatRateLimit"`
	ChatRateWindowS    int     `yaml:"chatRateWindowSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	// Override with environment variables
	if v := os.Getenv("LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("GENERATION_PROVIDER"); v != "" {
		cfg.GenerationProvider = v
	}
	if v := os.Getenv("GENERATION_BASE_URL"); v != "" {
		cfg.GenerationBaseURL = v
	}
	if v := os.Getenv("GENERATION_API_KEY"); v != "" {
		cfg.GenerationAPIKey = v
	}
	if v := os.Getenv("GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = v
	}
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.EmbeddingProvider = v
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.EmbeddingBaseURL = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if v := os.Getenv("CHAT_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TopK = n
		}
	}
	if v := os.Getenv("CHAT_MIN_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinChunks = n
		}
	}
	if v := os.Getenv("CHAT_FALLBACK_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.FallbackScore = f
		}
	}
	cfg.GenerationProvider = strings.ToLower(strings.TrimSpace(cfg.GenerationProvider))
	cfg.EmbeddingProvider = strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.GenerationProvider == "" {
		cfg.GenerationProvider = "ollama"
	}
	if cfg.OllamaKeepAlive == "" {
		cfg.OllamaKeepAlive = "30m"
	}
	if cfg.EmbeddingProvider == "" {
		cfg.EmbeddingProvider = "ollama"
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.MinChunks == 0 {
		cfg.MinChunks = 3
	}
	if cfg.FallbackScore == 0 {
		cfg.FallbackScore = 1.0
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.ReasoningStartTag == "" {
		cfg.ReasoningStartTag = "<think>"
	}
	if cfg.ReasoningEndTag == "" {
		cfg.ReasoningEndTag = "</think>"
	}
	if cfg.ChatRateWindowS == 0 {
		cfg.ChatRateWindowS = 60
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml or GENERATION_MODEL)")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml or EMBEDDING_MODEL)")
	}
	switch cfg.GenerationProvider {
	case "ollama", "openai":
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required for the gemini generation provider")
		}
	default:
		return fmt.Errorf("config: unknown generationProvider %q (ollama, openai or gemini)", cfg.GenerationProvider)
	}
	switch cfg.EmbeddingProvider {
	case "ollama":
		if cfg.EmbeddingDim <= 0 {
			return errors.New("config: embeddingDim is required for the ollama embedding provider")
		}
	case "openai":
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required for the gemini embedding provider")
		}
	default:
		return fmt.Errorf("config: unknown embeddingProvider %q (ollama, openai or gemini)", cfg.EmbeddingProvider)
	}
	if cfg.TopK < 0 || cfg.MinChunks < 0 {
		return errors.New("config: topK and minChunks must be > 0")
	}
	if cfg.HistoryLimit < 0 {
		return errors.New("config: historyLimit must be > 0")
	}
	if cfg.ChatRateLimit > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when chatRateLimit is set")
	}
	return nil
}
