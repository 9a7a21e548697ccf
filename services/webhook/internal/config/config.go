package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"auctionhook/pkg/store"
	"auctionhook/services/webhook/internal/forwarder"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// DriverMemory keeps records in-process; nothing survives a restart.
const DriverMemory = "memory"

const defaultMaxUploadBytes = 10 << 20

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                      string           `yaml:"port"`
	LogLevel                  string           `yaml:"logLevel"`
	DatabaseDriver            string           `yaml:"databaseDriver"`
	DatabaseURL               string           `yaml:"databaseURL"`
	RedisAddr                 string           `yaml:"redisAddr"`
	RedisPassword             string           `yaml:"redisPassword"`
	IngestRateLimitPerMinute  int              `yaml:"ingestRateLimitPerMinute"`
	ForwardRateLimitPerMinute int              `yaml:"forwardRateLimitPerMinute"`
	TrustedProxyCIDRs         []string         `yaml:"trustedProxyCidrs"`
	CORSAllowedOrigins        []string         `yaml:"corsAllowedOrigins"`
	MarketplaceMarkers        []string         `yaml:"marketplaceMarkers"`
	URLForwarder              forwarder.Config `yaml:"urlForwarder"`
	PhotographyForwarder      forwarder.Config `yaml:"photographyForwarder"`
	MinioEndpoint             string           `yaml:"minioEndpoint"`
	MinioAccessKey            string           `yaml:"minioAccessKey"`
	MinioSecretKey            string           `yaml:"minioSecretKey"`
	MinioBucket               string           `yaml:"minioBucket"`
	MinioUseSSL               bool             `yaml:"minioUseSSL"`
	MaxUploadBytes            int64            `yaml:"maxUploadBytes"`
	ImageURLExpiryMinutes     int              `yaml:"imageURLExpiryMinutes"`
}

// PathFromEnv returns WEBHOOK_CONFIG, or ConfigPath when it is unset.
func PathFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

func defaults() FileConfig {
	return FileConfig{
		Port:                  "8000",
		LogLevel:              "info",
		DatabaseDriver:        store.DriverPostgres,
		URLForwarder:          forwarder.URLForwarderDefaults,
		PhotographyForwarder:  forwarder.PhotographyForwarderDefaults,
		MaxUploadBytes:        defaultMaxUploadBytes,
		ImageURLExpiryMinutes: 24 * 60,
	}
}

// Load reads config from path (defaults to config.yaml). A .env file in the
// working directory is loaded first; variables already set win over it.
func Load(path string) (FileConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return FileConfig{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := defaults()
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseDriver, "DATABASE_DRIVER")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.URLForwarder.EndpointURL, "URL_FORWARDER_ENDPOINT")
	setString(&cfg.PhotographyForwarder.EndpointURL, "PHOTOGRAPHY_FORWARDER_ENDPOINT")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("WEBHOOK_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("WEBHOOK_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("WEBHOOK_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("WEBHOOK_MARKETPLACE_MARKERS"); v != "" {
		cfg.MarketplaceMarkers = splitCSV(v)
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.DatabaseDriver {
	case store.DriverPostgres, store.DriverMySQL:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: databaseDriver must be one of postgres, mysql, memory (got %q)", cfg.DatabaseDriver)
	}
	if err := validateForwarder("urlForwarder", cfg.URLForwarder); err != nil {
		return err
	}
	if err := validateForwarder("photographyForwarder", cfg.PhotographyForwarder); err != nil {
		return err
	}
	if cfg.IngestRateLimitPerMinute < 0 || cfg.ForwardRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	if (cfg.IngestRateLimitPerMinute > 0 || cfg.ForwardRateLimitPerMinute > 0) && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when a rate limit is set (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" {
			return errors.New("config: minioAccessKey is required when minioEndpoint is set")
		}
		if cfg.MinioSecretKey == "" {
			return errors.New("config: minioSecretKey is required when minioEndpoint is set")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
	}
	if cfg.MaxUploadBytes <= 0 {
		return errors.New("config: maxUploadBytes must be positive")
	}
	if cfg.ImageURLExpiryMinutes <= 0 {
		return errors.New("config: imageURLExpiryMinutes must be positive")
	}
	return nil
}

func validateForwarder(name string, cfg forwarder.Config) error {
	if cfg.EndpointURL == "" {
		return fmt.Errorf("config: %s.endpoint_url is required (set in config.yaml)", name)
	}
	u, err := url.Parse(cfg.EndpointURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: %s.endpoint_url must be an absolute http(s) URL", name)
	}
	if cfg.TimeoutSeconds < 0 {
		return fmt.Errorf("config: %s.timeout_seconds must not be negative", name)
	}
	if cfg.CallSpacingSeconds < 0 {
		return fmt.Errorf("config: %s.call_spacing_seconds must not be negative", name)
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
