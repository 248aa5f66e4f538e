package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"reorder-api/pkg/models"
)

// Config はアプリケーションの設定を保持します。
type Config struct {
	Port          string `yaml:"port" validate:"required,numeric"`
	Environment   string `yaml:"environment" validate:"oneof=development production test"`
	APIKey        string `yaml:"api_key"`
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`

	DBPath    string `yaml:"db_path" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json console"`

	Ordering OrderingConfig `yaml:"ordering"`
	Cache    CacheConfig    `yaml:"cache"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Sync     SyncConfig     `yaml:"sync"`
}

// OrderingConfig 注文サービスへの接続設定
type OrderingConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	Token             string        `yaml:"token"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RetryAttempts     int           `yaml:"retry_attempts" validate:"min=1,max=10"`
	RateLimit         int           `yaml:"rate_limit" validate:"min=1"`
	LookupTimeout     time.Duration `yaml:"lookup_timeout" validate:"gt=0"`
	LookupConcurrency int           `yaml:"lookup_concurrency" validate:"min=1,max=50"`
}

// CacheConfig is the availability cache. An empty RedisAddr keeps the cache in memory.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"min=0"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
}

// AnalysisConfig 推薦エンジンの設定
type AnalysisConfig struct {
	MinScore float64        `yaml:"min_score" validate:"min=0,max=100"`
	MaxItems int            `yaml:"max_items" validate:"min=1"`
	Weights  models.Weights `yaml:"weights"`
}

// SyncConfig controls how far back order sync reaches.
type SyncConfig struct {
	IncrementalDays int `yaml:"incremental_days" validate:"min=1"`
	FullSyncDays    int `yaml:"full_sync_days" validate:"min=1"`
	PageSize        int `yaml:"page_size" validate:"min=1,max=500"`
}

// LoadConfig は環境変数から設定を読み込みます。
func LoadConfig() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		APIKey:        getEnv("API_KEY", ""),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		DBPath:    getEnv("DB_PATH", "reorder.db"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "console")),

		Ordering: OrderingConfig{
			BaseURL:           getEnv("ORDERING_SERVICE_URL", "http://localhost:8000/mcp"),
			Token:             getEnv("ORDERING_SERVICE_TOKEN", ""),
			Timeout:           getEnvDuration("ORDERING_TIMEOUT", 30*time.Second),
			RetryAttempts:     getEnvInt("ORDERING_RETRY_ATTEMPTS", 3),
			RateLimit:         getEnvInt("ORDERING_RATE_LIMIT", 100),
			LookupTimeout:     getEnvDuration("LOOKUP_TIMEOUT", 5*time.Second),
			LookupConcurrency: getEnvInt("LOOKUP_CONCURRENCY", 5),
		},
		Cache: CacheConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			TTL:           getEnvDuration("CACHE_TTL", 10*time.Minute),
		},
		Analysis: AnalysisConfig{
			MinScore: getEnvFloat("ANALYSIS_MIN_SCORE", models.DefaultMinScore),
			MaxItems: getEnvInt("ANALYSIS_MAX_ITEMS", models.DefaultMaxItems),
			Weights: models.Weights{
				Frequency: getEnvFloat("WEIGHT_FREQUENCY", models.DefaultFrequencyWeight),
				Recency:   getEnvFloat("WEIGHT_RECENCY", models.DefaultRecencyWeight),
				Quantity:  getEnvFloat("WEIGHT_QUANTITY", models.DefaultQuantityWeight),
			},
		},
		Sync: SyncConfig{
			IncrementalDays: getEnvInt("SYNC_INCREMENTAL_DAYS", 30),
			FullSyncDays:    getEnvInt("SYNC_FULL_DAYS", 365),
			PageSize:        getEnvInt("SYNC_PAGE_SIZE", 50),
		},
	}
}

// LoadConfigFile は環境変数の設定にYAMLファイルの値を上書きします。
// Keys missing from the file keep their environment value.
func LoadConfigFile(path string) (*Config, error) {
	cfg := LoadConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges and the analysis weights.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.EngineConfig().Validate()
}

// EngineConfig converts the analysis section into the engine's per-run config.
func (c *Config) EngineConfig() models.AnalysisConfig {
	return models.AnalysisConfig{
		MinScore: c.Analysis.MinScore,
		MaxItems: c.Analysis.MaxItems,
		Weights:  c.Analysis.Weights,
	}
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// YAML renders the config with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	masked.APIKey = mask(masked.APIKey)
	masked.AdminPassword = mask(masked.AdminPassword)
	masked.Ordering.Token = mask(masked.Ordering.Token)
	masked.Cache.RedisPassword = mask(masked.Cache.RedisPassword)
	return yaml.Marshal(&masked)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
