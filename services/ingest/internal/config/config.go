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
	Port               string   `yaml:"port"`
	LogLevel           string   `yaml:"logLevel"`
	LogsDir            string   `yaml:"logsDir"`
	DatabaseURL        string   `yaml:"databaseURL"`
	EmbeddingDim       int      `yaml:"embeddingDim"`
	StorageBackend     string   `yaml:"storageBackend"`
	StorageDir         string   `yaml:"storageDir"`
	MinioEndpoint      string   `yaml:"minioEndpoint"`
	MinioAccessKey     string   `yaml:"minioAccessKey"`
	MinioSecretKey     string   `yaml:"minioSecretKey"`
	MinioBucket        string   `yaml:"minioBucket"`
	MinioUseSSL        bool     `yaml:"minioUseSSL"`
	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	QueueName          string   `yaml:"queueName"`
	QueueGroup         string   `yaml:"queueGroup"`
	ChunkSize          int      `yaml:"chunkSize"`
	ChunkOverlap       int      `yaml:"chunkOverlap"`
	ProgressThrottleMs int      `yaml:"progressThrottleMs"`
	MaxFileSizeMB      int      `yaml:"maxFileSizeMB"`
	AllowedMediaTypes  []string `yaml:"allowedMediaTypes"`
	IngestConcurrency  int      `yaml:"ingestConcurrency"`
	DisablePdftotext   bool     `yaml:"disablePdftotext"`
	UploadRateLimit    int      `yaml:"uploadRateLimit"`
	UploadRateWindowS  int      `yaml:"uploadRateWindowSeconds"`
	TrustedProxies     []string `yaml:"trustedProxies"`
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
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("INGEST_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("INGEST_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkOverlap = n
		}
	}
	if v := os.Getenv("INGEST_PROGRESS_THROTTLE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProgressThrottleMs = n
		}
	}
	if v := os.Getenv("INGEST_MAX_FILE_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxFileSizeMB = n
		}
	}
	if v := os.Getenv("INGEST_ALLOWED_MEDIA_TYPES"); v != "" {
		cfg.AllowedMediaTypes = splitList(v)
	}
	if v := os.Getenv("INGEST_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IngestConcurrency = n
		}
	}
	if v := os.Getenv("INGEST_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "file"
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = "uploads"
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "docchat:embedding"
	}
	if cfg.ChunkSize == 0 && cfg.ChunkOverlap == 0 {
		cfg.ChunkSize, cfg.ChunkOverlap = 500, 100
	}
	if cfg.ProgressThrottleMs == 0 {
		cfg.ProgressThrottleMs = 100
	}
	if cfg.MaxFileSizeMB == 0 {
		cfg.MaxFileSizeMB = 20
	}
	if len(cfg.AllowedMediaTypes) == 0 {
		cfg.AllowedMediaTypes = []string{"application/pdf", "text/markdown", "text/x-markdown", "text/plain"}
	}
	if cfg.IngestConcurrency == 0 {
		cfg.IngestConcurrency = 8
	}
	if cfg.UploadRateWindowS == 0 {
		cfg.UploadRateWindowS = 60
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	switch cfg.StorageBackend {
	case "file":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required when storageBackend=minio")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q (file or minio)", cfg.StorageBackend)
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("config: chunkSize must be > 0 (set in config.yaml or INGEST_CHUNK_SIZE)")
	}
	if cfg.ChunkOverlap < 0 {
		return errors.New("config: chunkOverlap must be >= 0 (set in config.yaml or INGEST_CHUNK_OVERLAP)")
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be smaller than chunkSize")
	}
	if cfg.ProgressThrottleMs < 0 {
		return errors.New("config: progressThrottleMs must be >= 0")
	}
	if cfg.MaxFileSizeMB < 0 {
		return errors.New("config: maxFileSizeMB must be > 0")
	}
	if cfg.IngestConcurrency < 0 {
		return errors.New("config: ingestConcurrency must be > 0")
	}
	if cfg.UploadRateLimit < 0 {
		return errors.New("config: uploadRateLimit must be >= 0")
	}
	return nil
}
