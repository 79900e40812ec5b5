package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is used when neither an explicit path nor CATALOG_CONFIG is set.
const ConfigPath = "config.yaml"

const (
	defaultMaxUploadBytes      = 1 << 30
	defaultPageSize            = 10
	defaultMaxPageSize         = 100
	defaultAnalyticsMaxResults = 5000
	defaultLoginRate           = 10
	defaultRegisterRate        = 5
	defaultSessionTTL          = "24h"
	defaultPresignExpiry       = "15m"
)

var defaultVideoTypes = []string{"video/mp4", "video/webm", "video/ogg"}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	StoreDriver                string   `yaml:"storeDriver"`
	DatabaseURL                string   `yaml:"databaseURL"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	JWTSecret                  string   `yaml:"jwtSecret"`
	JWTIssuer                  string   `yaml:"jwtIssuer"`
	JWTAudience                string   `yaml:"jwtAudience"`
	JWTLeeway                  string   `yaml:"jwtLeeway"`
	SessionTTL                 string   `yaml:"sessionTTL"`
	MinioEndpoint              string   `yaml:"minioEndpoint"`
	MinioAccessKey             string   `yaml:"minioAccessKey"`
	MinioSecretKey             string   `yaml:"minioSecretKey"`
	MinioBucket                string   `yaml:"minioBucket"`
	MinioUseSSL                bool     `yaml:"minioUseSSL"`
	MediaBaseURL               string   `yaml:"mediaBaseURL"`
	PresignExpiry              string   `yaml:"presignExpiry"`
	MaxUploadBytes             int64    `yaml:"maxUploadBytes"`
	AllowedVideoTypes          []string `yaml:"allowedVideoTypes"`
	DefaultPageSize            int      `yaml:"defaultPageSize"`
	MaxPageSize                int      `yaml:"maxPageSize"`
	AnalyticsMaxResults        int      `yaml:"analyticsMaxResults"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	CORSOrigins                []string `yaml:"corsOrigins"`
	MetricsEnabled             bool     `yaml:"metricsEnabled"`
}

// Load reads config from path (defaults to CATALOG_CONFIG, then config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("CATALOG_CONFIG")
	}
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
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString("CATALOG_PORT", &cfg.Port)
	setString("CATALOG_LOG_LEVEL", &cfg.LogLevel)
	setString("CATALOG_STORE_DRIVER", &cfg.StoreDriver)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("JWT_LEEWAY", &cfg.JWTLeeway)
	setString("CATALOG_SESSION_TTL", &cfg.SessionTTL)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setBool("MINIO_USE_SSL", &cfg.MinioUseSSL)
	setString("CATALOG_MEDIA_BASE_URL", &cfg.MediaBaseURL)
	setString("CATALOG_PRESIGN_EXPIRY", &cfg.PresignExpiry)
	if v := os.Getenv("CATALOG_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("CATALOG_ALLOWED_VIDEO_TYPES"); v != "" {
		cfg.AllowedVideoTypes = splitCSV(v)
	}
	setInt("CATALOG_DEFAULT_PAGE_SIZE", &cfg.DefaultPageSize)
	setInt("CATALOG_MAX_PAGE_SIZE", &cfg.MaxPageSize)
	setInt("CATALOG_ANALYTICS_MAX_RESULTS", &cfg.AnalyticsMaxResults)
	setInt("CATALOG_LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	setInt("CATALOG_REGISTER_RATE_LIMIT_PER_MINUTE", &cfg.RegisterRateLimitPerMinute)
	if v := os.Getenv("CATALOG_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("CATALOG_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	setBool("CATALOG_METRICS_ENABLED", &cfg.MetricsEnabled)
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.PresignExpiry == "" {
		cfg.PresignExpiry = defaultPresignExpiry
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(cfg.AllowedVideoTypes) == 0 {
		cfg.AllowedVideoTypes = append([]string(nil), defaultVideoTypes...)
	}
	if cfg.DefaultPageSize == 0 {
		cfg.DefaultPageSize = defaultPageSize
	}
	if cfg.MaxPageSize == 0 {
		cfg.MaxPageSize = defaultMaxPageSize
	}
	if cfg.AnalyticsMaxResults == 0 {
		cfg.AnalyticsMaxResults = defaultAnalyticsMaxResults
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = defaultLoginRate
	}
	if cfg.RegisterRateLimitPerMinute == 0 {
		cfg.RegisterRateLimitPerMinute = defaultRegisterRate
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or CATALOG_PORT)")
	}
	switch cfg.StoreDriver {
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres store (set in config.yaml or DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storeDriver %q (want postgres or memory)", cfg.StoreDriver)
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("config: jwtSecret must be at least 32 bytes (set in config.yaml or JWT_SECRET)")
	}
	if cfg.MinioEndpoint != "" && strings.TrimSpace(cfg.MinioBucket) == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be > 0")
	}
	if cfg.DefaultPageSize < 0 || cfg.MaxPageSize < 0 || cfg.DefaultPageSize > cfg.MaxPageSize {
		return errors.New("config: defaultPageSize must be > 0 and <= maxPageSize")
	}
	if cfg.AnalyticsMaxResults < 0 {
		return errors.New("config: analyticsMaxResults must be > 0")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	for _, raw := range []struct{ name, value string }{
		{"sessionTTL", cfg.SessionTTL},
		{"presignExpiry", cfg.PresignExpiry},
	} {
		if _, err := ParseDuration(raw.value); err != nil {
			return fmt.Errorf("config: %s: %w", raw.name, err)
		}
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return fmt.Errorf("config: %w", err)
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

// ParseDuration parses a positive duration string.
func ParseDuration(raw string) (time.Duration, error) {
	dur, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", raw)
	}
	return dur, nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
