package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"vidarchive/internal/metrics"
	"vidarchive/internal/ratelimit"
	"vidarchive/internal/util"
	"vidarchive/pkg/domain"
	"vidarchive/services/catalog/internal/app"
	"vidarchive/services/catalog/internal/security"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Redis                      *redis.Client
	Alerter                    *security.AuditAlerter
	TrustedProxies             *util.TrustedProxies
	CORSOrigins                []string
	LoginRateLimitPerMinute    int
	RegisterRateLimitPerMinute int
	MaxUploadBytes             int64
	MetricsEnabled             bool
}

// Server exposes the catalogue over HTTP.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	alerter         *security.AuditAlerter
	trusted         *util.TrustedProxies
	corsOrigins     []string
	maxUploadBytes  int64
	patterns        []string
	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Without a Redis client
// login and registration are not rate limited.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app required")
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		alerter:        cfg.Alerter,
		trusted:        cfg.TrustedProxies,
		corsOrigins:    cfg.CORSOrigins,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
	}
	if cfg.Redis != nil {
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		registerLimit := cfg.RegisterRateLimitPerMinute
		if registerLimit <= 0 {
			registerLimit = 5
		}
		var err error
		s.loginLimiter, err = ratelimit.NewFixedWindowLimiter(cfg.Redis, "vidarchive:ratelimit:login", loginLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init login limiter: %w", err)
		}
		s.registerLimiter, err = ratelimit.NewFixedWindowLimiter(cfg.Redis, "vidarchive:ratelimit:register", registerLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init register limiter: %w", err)
		}
	}
	s.routes(cfg.MetricsEnabled)
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog(
			metrics.Instrument(
				util.WithSecurityHeaders(
					util.WithCORS(s.corsOrigins, s.mux)))))
}

func (s *Server) routes(metricsEnabled bool) {
	s.handle("GET /healthz", http.HandlerFunc(s.handleHealth))
	if metricsEnabled {
		s.handle("GET /metrics", metrics.Handler())
	}

	// auth
	s.handle("POST /api/auth/register", http.HandlerFunc(s.handleRegister))
	s.handle("POST /api/auth/login", http.HandlerFunc(s.handleLogin))
	s.handle("POST /api/auth/logout", s.authenticated(s.handleLogout))
	s.handle("GET /api/auth/me", s.authenticated(s.handleMe))
	s.handle("GET /api/auth/users", s.adminOnly(s.handleListUsers))

	// persons
	s.handle("GET /api/persons", s.authenticated(s.handleListPersons))
	s.handle("GET /api/persons/search", s.authenticated(s.handleSearchPersons))
	s.handle("GET /api/persons/{id}", s.authenticated(s.handleGetPerson))
	s.handle("POST /api/persons", s.adminOnly(s.handleCreatePerson))
	s.handle("PATCH /api/persons/{id}", s.adminOnly(s.handleUpdatePerson))
	s.handle("DELETE /api/persons/{id}", s.adminOnly(s.handleDeletePerson))

	// channels
	s.handle("GET /api/channels", s.authenticated(s.handleListChannels))
	s.handle("GET /api/channels/search", s.authenticated(s.handleSearchChannels))
	s.handle("GET /api/channels/{id}", s.authenticated(s.handleGetChannel))
	s.handle("POST /api/channels", s.adminOnly(s.handleCreateChannel))
	s.handle("PATCH /api/channels/{id}", s.adminOnly(s.handleUpdateChannel))
	s.handle("DELETE /api/channels/{id}", s.adminOnly(s.handleDeleteChannel))

	// videos
	s.handle("GET /api/videos/search", s.authenticated(s.handleSearchVideos))
	s.handle("GET /api/videos/search/analytics", s.authenticated(s.handleSearchAnalytics))
	s.handle("GET /api/videos", s.authenticated(s.handleListVideos))
	s.handle("GET /api/videos/{id}", s.authenticated(s.handleGetVideo))
	s.handle("GET /api/videos/{id}/download", s.authenticated(s.handleDownloadVideo))
	s.handle("POST /api/videos", s.adminOnly(s.handleCreateVideo))
	s.handle("PATCH /api/videos/{id}", s.adminOnly(s.handleUpdateVideo))
	s.handle("DELETE /api/videos/{id}", s.adminOnly(s.handleDeleteVideo))

	s.mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) handle(pattern string, h http.Handler) {
	s.patterns = append(s.patterns, pattern)
	s.mux.Handle(pattern, h)
}

// Routes lists the registered method patterns in registration order.
func (s *Server) Routes() []string {
	return slices.Clone(s.patterns)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, fmt.Sprintf("Can't find %s %s on this server", r.Method, r.URL.Path))
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, reason, ok := s.authorize(r)
		if !ok {
			s.audit(r, security.EventAuthorize, "fail", "reason", reason)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, reason, ok := s.authorize(r)
		if !ok {
			s.audit(r, security.EventAdminAuthorize, "fail", "reason", reason)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, security.EventAdminAuthorize, "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, security.EventAdminAuthorize, "success", "user_id", user.ID)
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, string, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, "missing_token", false
	}
	user, err := s.app.UserFromToken(r.Context(), token)
	if err != nil {
		util.LoggerFromContext(r.Context()).Debug("token rejected", "err", err)
		return domain.User{}, "invalid_token", false
	}
	return user, "", true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	metrics.RateLimitHits.WithLabelValues(r.URL.Path).Inc()
	w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
}

// audit logs a security event, counts it and feeds the alerter.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := s.clientIP(r)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	metrics.SecurityEvents.WithLabelValues(event, outcome).Inc()
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			slog.String("event", event),
			slog.String("outcome", outcome),
			slog.String("ip", ip),
			slog.Int64("count", result.Count),
			slog.Int64("threshold", result.Threshold),
			slog.Duration("window", result.Window),
		)
	}
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 1 << 30
	}
	return value
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return n
}

func listParams(r *http.Request) app.ListParams {
	return app.ListParams{
		Page:  queryInt(r, "page"),
		Limit: queryInt(r, "limit"),
		Sort:  r.URL.Query().Get("sort"),
	}
}

func logFor(r *http.Request) *slog.Logger {
	return util.LoggerFromContext(r.Context())
}
