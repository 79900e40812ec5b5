package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"vidarchive/internal/util"
	"vidarchive/pkg/queue"
	"vidarchive/pkg/storage"
	"vidarchive/pkg/store"
	"vidarchive/services/catalog/internal/app"
	"vidarchive/services/catalog/internal/config"
	"vidarchive/services/catalog/internal/security"
	"vidarchive/services/catalog/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseDuration(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	presignExpiry, err := config.ParseDuration(cfg.PresignExpiry)
	if err != nil {
		log.Fatalf("failed to parse presign expiry: %v", err)
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var entities store.Store
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		entities = store.NewMemoryStore()
	default:
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
		entities = gormStore
	}

	var redisClient *redis.Client
	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect redis: %v", err)
		}
		cancel()
		revoker = store.NewRedisTokenRevoker(redisClient, "")
	} else {
		logger.Warn("redis not configured, revocations are per-process and rate limits are disabled")
	}

	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	} else {
		logger.Warn("object storage not configured, uploads are kept in memory")
		objects = storage.NewMemoryStore(cfg.MediaBaseURL)
	}

	var cleanup app.CleanupScheduler
	if redisClient != nil {
		cleanupQueue, err := queue.NewCleanupQueue(redisClient, queue.Config{})
		if err != nil {
			log.Fatalf("failed to init cleanup queue: %v", err)
		}
		cleanupQueue.Start(util.ContextWithLogger(ctx, logger), 1, func(ctx context.Context, task queue.Task) error {
			err := objects.Delete(ctx, task.Key)
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil
			}
			return err
		})
		cleanup = cleanupQueue
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:               entities,
		Sessions:            sessions,
		Objects:             objects,
		Cleanup:             cleanup,
		MediaBaseURL:        cfg.MediaBaseURL,
		PresignExpiry:       presignExpiry,
		AllowedVideoTypes:   cfg.AllowedVideoTypes,
		DefaultPageSize:     cfg.DefaultPageSize,
		MaxPageSize:         cfg.MaxPageSize,
		AnalyticsMaxResults: cfg.AnalyticsMaxResults,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Redis:                      redisClient,
		Alerter:                    security.NewAuditAlerter(redisClient, ""),
		TrustedProxies:             trusted,
		CORSOrigins:                cfg.CORSOrigins,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		MaxUploadBytes:             cfg.MaxUploadBytes,
		MetricsEnabled:             cfg.MetricsEnabled,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
			_ = srv.Close()
		}
	}()

	slog.Info("server listening", "addr", addr, "store", cfg.StoreDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
