package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inferstack/sentry-gate/internal/models"
)

// Config captures everything needed to boot the gateway.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Logging    LoggingConfig     `yaml:"logging"`
	Model      ModelConfig       `yaml:"model"`
	Ingress    LimiterConfig     `yaml:"ingress"`
	Egress     LimiterConfig     `yaml:"egress"`
	Store      StoreConfig       `yaml:"store"`
	Cache      CacheConfig       `yaml:"cache"`
	Analyzer   AnalyzerConfig    `yaml:"analyzer"`
	Thresholds models.Thresholds `yaml:"thresholds"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ModelConfig tunes the bundled sentiment model.
type ModelConfig struct {
	SimulatedDelay time.Duration `yaml:"simulatedDelay"`
	DelayJitter    time.Duration `yaml:"delayJitter"`
}

// LimiterConfig sizes one sliding-window rate limiter.
type LimiterConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// StoreConfig selects the prediction event store.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver    string        `yaml:"driver"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// CacheConfig controls Valkey-backed report caching. Disabled, the
// gateway caches in process memory instead.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	Prefix       string        `yaml:"prefix"`
	ReportTTL    time.Duration `yaml:"reportTTL"`
	DegradedTTL  time.Duration `yaml:"degradedTTL"`
	LockTTL      time.Duration `yaml:"lockTTL"`
	LockWait     time.Duration `yaml:"lockWait"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// AnalyzerConfig configures the upstream analysis provider and its
// retry schedule.
type AnalyzerConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"maxTokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"maxAttempts"`
	RetryBase   time.Duration `yaml:"retryBase"`
	RetryMax    time.Duration `yaml:"retryMax"`
	RulesPath   string        `yaml:"rulesPath"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTRY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	if cfg.Store.Driver != "memory" && cfg.Store.Driver != "sqlite" {
		return nil, fmt.Errorf("store driver must be memory or sqlite, got %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		return nil, fmt.Errorf("sqlite store requires store.path")
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Model: ModelConfig{
			SimulatedDelay: 50 * time.Millisecond,
			DelayJitter:    100 * time.Millisecond,
		},
		Ingress: LimiterConfig{Limit: 10, Window: time.Minute},
		Egress:  LimiterConfig{Limit: 5, Window: time.Minute},
		Store: StoreConfig{
			Driver:    "memory",
			Retention: 24 * time.Hour,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			Prefix:       "sentry",
			ReportTTL:    5 * time.Minute,
			DegradedTTL:  30 * time.Second,
			LockTTL:      30 * time.Second,
			LockWait:     10 * time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		Analyzer: AnalyzerConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   1000,
			Timeout:     30 * time.Second,
			MaxAttempts: 4,
			RetryBase:   500 * time.Millisecond,
			RetryMax:    8 * time.Second,
			RulesPath:   "configs/rules/default.yaml",
		},
		Thresholds: models.DefaultThresholds(),
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTRY_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTRY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTRY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTRY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SENTRY_INGRESS_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingress.Limit = n
		}
	}
	if v := os.Getenv("SENTRY_INGRESS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingress.Window = d
		}
	}
	if v := os.Getenv("SENTRY_EGRESS_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Egress.Limit = n
		}
	}
	if v := os.Getenv("SENTRY_EGRESS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Egress.Window = d
		}
	}
	if v := os.Getenv("SENTRY_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("SENTRY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SENTRY_STORE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.Retention = d
		}
	}
	if v := os.Getenv("SENTRY_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SENTRY_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTRY_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("SENTRY_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SENTRY_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("SENTRY_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("SENTRY_CACHE_REPORT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReportTTL = d
		}
	}
	if v := os.Getenv("SENTRY_CACHE_DEGRADED_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DegradedTTL = d
		}
	}
	if v := os.Getenv("SENTRY_CACHE_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.LockTTL = d
		}
	}
	if v := os.Getenv("SENTRY_CACHE_LOCK_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.LockWait = d
		}
	}
	if v := os.Getenv("SENTRY_ANALYZER_BASE_URL"); v != "" {
		cfg.Analyzer.BaseURL = v
	}
	if v := os.Getenv("SENTRY_ANALYZER_API_KEY"); v != "" {
		cfg.Analyzer.APIKey = v
	}
	if v := os.Getenv("SENTRY_ANALYZER_MODEL"); v != "" {
		cfg.Analyzer.Model = v
	}
	if v := os.Getenv("SENTRY_ANALYZER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analyzer.Timeout = d
		}
	}
	if v := os.Getenv("SENTRY_ANALYZER_RULES_PATH"); v != "" {
		cfg.Analyzer.RulesPath = v
	}
}
