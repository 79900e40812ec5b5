package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
storeDriver: "memory"
jwtSecret: "`+secret+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MaxUploadBytes != 1<<30 {
		t.Fatalf("maxUploadBytes = %d, want 1GiB", cfg.MaxUploadBytes)
	}
	if cfg.DefaultPageSize != 10 || cfg.MaxPageSize != 100 {
		t.Fatalf("page sizes = %d/%d", cfg.DefaultPageSize, cfg.MaxPageSize)
	}
	if strings.Join(cfg.AllowedVideoTypes, ",") != "video/mp4,video/webm,video/ogg" {
		t.Fatalf("allowedVideoTypes = %v", cfg.AllowedVideoTypes)
	}
	if cfg.LoginRateLimitPerMinute != 10 || cfg.RegisterRateLimitPerMinute != 5 {
		t.Fatalf("rate limits = %d/%d", cfg.LoginRateLimitPerMinute, cfg.RegisterRateLimitPerMinute)
	}
	if ttl, err := ParseDuration(cfg.SessionTTL); err != nil || ttl != 24*time.Hour {
		t.Fatalf("sessionTTL = %v err=%v", ttl, err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("CATALOG_MAX_UPLOAD_BYTES", "2048")
	t.Setenv("CATALOG_ALLOWED_VIDEO_TYPES", "video/mp4, video/quicktime")
	t.Setenv("CATALOG_MAX_PAGE_SIZE", "50")
	t.Setenv("MINIO_USE_SSL", "true")

	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://file"
jwtSecret: "`+secret+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env" {
		t.Fatalf("databaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redisAddr = %q", cfg.RedisAddr)
	}
	if cfg.MaxUploadBytes != 2048 {
		t.Fatalf("maxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if len(cfg.AllowedVideoTypes) != 2 || cfg.AllowedVideoTypes[1] != "video/quicktime" {
		t.Fatalf("allowedVideoTypes = %v", cfg.AllowedVideoTypes)
	}
	if cfg.MaxPageSize != 50 || !cfg.MinioUseSSL {
		t.Fatalf("maxPageSize=%d minioUseSSL=%v", cfg.MaxPageSize, cfg.MinioUseSSL)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CATALOG_PORT", "")
	cases := map[string]string{
		"missing port":    `jwtSecret: "` + secret + `"`,
		"short secret":    "port: \"8080\"\nstoreDriver: memory\njwtSecret: short",
		"unknown driver":  "port: \"8080\"\nstoreDriver: mongo\njwtSecret: \"" + secret + "\"",
		"postgres no dsn": "port: \"8080\"\njwtSecret: \"" + secret + "\"",
		"bad session ttl": "port: \"8080\"\nstoreDriver: memory\nsessionTTL: soon\njwtSecret: \"" + secret + "\"",
		"page over max":   "port: \"8080\"\nstoreDriver: memory\ndefaultPageSize: 200\njwtSecret: \"" + secret + "\"",
		"bucket required": "port: \"8080\"\nstoreDriver: memory\nminioEndpoint: minio:9000\njwtSecret: \"" + secret + "\"",
		"bad leeway":      "port: \"8080\"\nstoreDriver: memory\njwtLeeway: abc\njwtSecret: \"" + secret + "\"",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadUsesConfigEnvPath(t *testing.T) {
	path := writeConfig(t, "port: \"9000\"\nstoreDriver: memory\njwtSecret: \""+secret+"\"\n")
	t.Setenv("CATALOG_CONFIG", path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("port = %q", cfg.Port)
	}
}
