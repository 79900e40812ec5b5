package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"vidarchive/pkg/search"
	"vidarchive/pkg/storage"
	"vidarchive/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	Store               store.Store
	Sessions            store.SessionStore
	Objects             storage.ObjectStore
	Cleanup             CleanupScheduler
	MediaBaseURL        string
	PresignExpiry       time.Duration
	AllowedVideoTypes   []string
	DefaultPageSize     int
	MaxPageSize         int
	AnalyticsMaxResults int
}

// CleanupScheduler retries object removals that failed inline.
type CleanupScheduler interface {
	Enqueue(ctx context.Context, key string) error
}

// App is the catalogue's use-case layer: accounts, the person/channel/video
// entities and video search.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	objects       storage.ObjectStore
	cleanup       CleanupScheduler
	resolver      *search.Resolver
	mediaBaseURL  string
	presignExpiry time.Duration
	allowedTypes  map[string]struct{}
	limits        search.Limits
	analyticsMax  int
	now           func() time.Time
}

// New constructs the application from already initialised collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = search.DefaultLimit
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = search.MaxLimit
	}
	if cfg.AnalyticsMaxResults <= 0 {
		cfg.AnalyticsMaxResults = 5000
	}
	return &App{
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		objects:       cfg.Objects,
		cleanup:       cfg.Cleanup,
		resolver:      search.NewResolver(cfg.Store),
		mediaBaseURL:  strings.TrimRight(strings.TrimSpace(cfg.MediaBaseURL), "/"),
		presignExpiry: cfg.PresignExpiry,
		allowedTypes:  normalizeVideoTypes(cfg.AllowedVideoTypes),
		limits:        search.Limits{DefaultLimit: cfg.DefaultPageSize, MaxLimit: cfg.MaxPageSize},
		analyticsMax:  cfg.AnalyticsMaxResults,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// ListParams are the raw paging inputs of a list endpoint.
type ListParams struct {
	Page  int
	Limit int
	Sort  string
}

// PageResult is one page of entities plus the unpaginated total.
type PageResult[T any] struct {
	Items []T
	Total int64
	Page  search.Page
}

// TotalPages is ceil(Total / Page.Limit).
func (r PageResult[T]) TotalPages() int {
	return search.TotalPages(r.Total, r.Page.Limit)
}

func (a *App) page(p ListParams) search.Page {
	return search.NewPage(p.Page, p.Limit, a.limits.DefaultLimit, a.limits.MaxLimit)
}

func normalizeVideoTypes(types []string) map[string]struct{} {
	if len(types) == 0 {
		types = []string{"video/mp4", "video/webm", "video/ogg"}
	}
	out := make(map[string]struct{}, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		out[t] = struct{}{}
	}
	return out
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
