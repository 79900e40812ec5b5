package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"vidarchive/internal/metrics"
	"vidarchive/internal/util"
	"vidarchive/internal/validation"
	"vidarchive/pkg/domain"
	"vidarchive/pkg/search"
	"vidarchive/pkg/storage"
)

// VideoInput is the writable part of a video. RelatedPeople and Channels
// hold entity IDs; their names are taken from the referenced records.
type VideoInput struct {
	Title         string    `json:"title" validate:"required,max=300"`
	Description   string    `json:"description" validate:"max=10000"`
	EventAt       time.Time `json:"datetime"`
	Keywords      []string  `json:"keywords" validate:"max=100,dive,max=200"`
	RelatedPeople []string  `json:"relatedPeople" validate:"max=100"`
	Channels      []string  `json:"channels" validate:"max=50"`
}

// VideoPatch carries the fields present in a PATCH form.
type VideoPatch struct {
	Title         *string
	Description   *string
	EventAt       *time.Time
	Keywords      *[]string
	RelatedPeople *[]string
	Channels      *[]string
}

// Upload is a media file received with a create or update request.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (in *VideoInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Keywords = trimAll(in.Keywords)
	in.RelatedPeople = uniqueIDs(in.RelatedPeople)
	in.Channels = uniqueIDs(in.Channels)
}

func (in VideoInput) validate() error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if in.EventAt.IsZero() {
		return &validation.RequestValidationError{Fields: []validation.FieldError{{
			Field:   "datetime",
			Tag:     "required",
			Message: "datetime is required",
		}}}
	}
	return nil
}

// CreateVideo stores the uploaded file and the video record referencing it.
func (a *App) CreateVideo(ctx context.Context, in VideoInput, file *Upload) (search.ResolvedVideo, error) {
	if file == nil {
		return search.ResolvedVideo{}, ErrVideoFileRequired
	}
	contentType, err := a.videoType(file.ContentType)
	if err != nil {
		return search.ResolvedVideo{}, err
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return search.ResolvedVideo{}, err
	}
	people, err := a.personRefs(ctx, in.RelatedPeople)
	if err != nil {
		return search.ResolvedVideo{}, err
	}
	channels, err := a.channelRefs(ctx, in.Channels)
	if err != nil {
		return search.ResolvedVideo{}, err
	}

	id := util.NewID()
	key := objectKey(id, file.Filename)
	if err := a.objects.Put(ctx, key, file.Body, file.Size, contentType); err != nil {
		return search.ResolvedVideo{}, fmt.Errorf("store video file: %w", err)
	}
	now := a.now()
	v := domain.Video{
		ID:            id,
		Title:         in.Title,
		Description:   in.Description,
		VideoLink:     a.mediaLink(key),
		StorageKey:    key,
		ContentType:   contentType,
		SizeBytes:     file.Size,
		Keywords:      in.Keywords,
		RelatedPeople: people,
		Channels:      channels,
		EventAt:       in.EventAt.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.SaveVideo(ctx, v); err != nil {
		a.deleteObject(ctx, key)
		return search.ResolvedVideo{}, fmt.Errorf("save video: %w", err)
	}
	return a.resolveOne(ctx, v)
}

func (a *App) GetVideo(ctx context.Context, id string) (search.ResolvedVideo, error) {
	v, err := a.video(ctx, id)
	if err != nil {
		return search.ResolvedVideo{}, err
	}
	return a.resolveOne(ctx, v)
}

// UpdateVideo applies patch. Reference lists are re-checked only when
// present; a new file replaces the stored one.
func (a *App) UpdateVideo(ctx context.Context, id string, patch VideoPatch, file *Upload) (search.ResolvedVideo, error) {
	current, err := a.video(ctx, id)
	if err != nil {
		return search.ResolvedVideo{}, err
	}
	in := VideoInput{
		Title:         current.Title,
		Description:   current.Description,
		EventAt:       current.EventAt,
		Keywords:      current.Keywords,
		RelatedPeople: current.PersonIDs(),
		Channels:      current.ChannelIDs(),
	}
	if patch.Title != nil {
		in.Title = *patch.Title
	}
	if patch.Description != nil {
		in.Description = *patch.Description
	}
	if patch.EventAt != nil {
		in.EventAt = *patch.EventAt
	}
	if patch.Keywords != nil {
		in.Keywords = *patch.Keywords
	}
	if patch.RelatedPeople != nil {
		in.RelatedPeople = *patch.RelatedPeople
	}
	if patch.Channels != nil {
		in.Channels = *patch.Channels
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return search.ResolvedVideo{}, err
	}

	updated := current
	updated.Title = in.Title
	updated.Description = in.Description
	updated.EventAt = in.EventAt.UTC()
	updated.Keywords = in.Keywords
	if patch.RelatedPeople != nil {
		if updated.RelatedPeople, err = a.personRefs(ctx, in.RelatedPeople); err != nil {
			return search.ResolvedVideo{}, err
		}
	}
	if patch.Channels != nil {
		if updated.Channels, err = a.channelRefs(ctx, in.Channels); err != nil {
			return search.ResolvedVideo{}, err
		}
	}

	var staleKey string
	if file != nil {
		contentType, err := a.videoType(file.ContentType)
		if err != nil {
			return search.ResolvedVideo{}, err
		}
		key := objectKey(util.NewID(), file.Filename)
		if err := a.objects.Put(ctx, key, file.Body, file.Size, contentType); err != nil {
			return search.ResolvedVideo{}, fmt.Errorf("store video file: %w", err)
		}
		staleKey = current.StorageKey
		updated.StorageKey = key
		updated.VideoLink = a.mediaLink(key)
		updated.ContentType = contentType
		updated.SizeBytes = file.Size
	}
	updated.UpdatedAt = a.now()
	if err := a.store.SaveVideo(ctx, updated); err != nil {
		if file != nil {
			a.deleteObject(ctx, updated.StorageKey)
		}
		return search.ResolvedVideo{}, fmt.Errorf("save video: %w", err)
	}
	if staleKey != "" && staleKey != updated.StorageKey {
		a.deleteObject(ctx, staleKey)
	}
	return a.resolveOne(ctx, updated)
}

// DeleteVideo removes the record and then its stored file.
func (a *App) DeleteVideo(ctx context.Context, id string) error {
	v, err := a.video(ctx, id)
	if err != nil {
		return err
	}
	deleted, err := a.store.DeleteVideo(ctx, id)
	if err != nil {
		return fmt.Errorf("delete video %s: %w", id, err)
	}
	if !deleted {
		return ErrVideoNotFound
	}
	if v.StorageKey != "" {
		a.deleteObject(ctx, v.StorageKey)
	}
	return nil
}

// ListVideos is an unfiltered search.
func (a *App) ListVideos(ctx context.Context, p ListParams) (PageResult[search.ResolvedVideo], error) {
	return a.SearchVideos(ctx, search.Params{Page: p.Page, Limit: p.Limit, Sort: p.Sort})
}

// SearchVideos runs the composite filter and resolves references on the
// returned page.
func (a *App) SearchVideos(ctx context.Context, params search.Params) (PageResult[search.ResolvedVideo], error) {
	q, err := search.Build(params, a.limits)
	if err != nil {
		return PageResult[search.ResolvedVideo]{}, err
	}
	videos, total, err := a.store.SearchVideos(ctx, q)
	if err != nil {
		return PageResult[search.ResolvedVideo]{}, fmt.Errorf("search videos: %w", err)
	}
	metrics.RecordSearch(total)
	resolved, err := a.resolver.Resolve(ctx, videos)
	if err != nil {
		return PageResult[search.ResolvedVideo]{}, fmt.Errorf("resolve videos: %w", err)
	}
	return PageResult[search.ResolvedVideo]{Items: resolved, Total: total, Page: q.Page}, nil
}

// SearchAnalytics aggregates either the requested page or the whole
// filtered set. The whole set is capped at the configured maximum and
// reported as truncated beyond it.
func (a *App) SearchAnalytics(ctx context.Context, params search.Params, scope search.Scope, loc *time.Location) (search.Analytics, error) {
	q, err := search.Build(params, a.limits)
	if err != nil {
		return search.Analytics{}, err
	}
	if scope == search.ScopeAll {
		q.Page = search.Page{Number: 1, Limit: a.analyticsMax}
	}
	videos, total, err := a.store.SearchVideos(ctx, q)
	if err != nil {
		return search.Analytics{}, fmt.Errorf("search videos: %w", err)
	}
	resolved, err := a.resolver.Resolve(ctx, videos)
	if err != nil {
		return search.Analytics{}, fmt.Errorf("resolve videos: %w", err)
	}
	out := search.Aggregate(resolved, loc)
	out.Scope = scope
	out.Truncated = scope == search.ScopeAll && total > int64(len(videos))
	return out, nil
}

// DownloadURL returns a time-limited link to the stored file.
func (a *App) DownloadURL(ctx context.Context, id string) (string, time.Duration, error) {
	v, err := a.video(ctx, id)
	if err != nil {
		return "", 0, err
	}
	if v.StorageKey == "" {
		return "", 0, ErrVideoFileMissing
	}
	link, err := a.objects.PresignGet(ctx, v.StorageKey, a.presignExpiry, path.Base(v.StorageKey))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "", 0, ErrVideoFileMissing
	}
	if err != nil {
		return "", 0, fmt.Errorf("presign video %s: %w", id, err)
	}
	return link, a.presignExpiry, nil
}

func (a *App) video(ctx context.Context, id string) (domain.Video, error) {
	if !util.IsID(id) {
		return domain.Video{}, ErrVideoNotFound
	}
	v, ok, err := a.store.GetVideo(ctx, id)
	if err != nil {
		return domain.Video{}, fmt.Errorf("get video %s: %w", id, err)
	}
	if !ok {
		return domain.Video{}, ErrVideoNotFound
	}
	return v, nil
}

func (a *App) resolveOne(ctx context.Context, v domain.Video) (search.ResolvedVideo, error) {
	out, err := a.resolver.Resolve(ctx, []domain.Video{v})
	if err != nil {
		return search.ResolvedVideo{}, fmt.Errorf("resolve video %s: %w", v.ID, err)
	}
	return out[0], nil
}

// personRefs snapshots the current name of every referenced person. Unknown
// IDs are rejected.
func (a *App) personRefs(ctx context.Context, ids []string) ([]domain.PersonRef, error) {
	refs := make([]domain.PersonRef, 0, len(ids))
	if len(ids) == 0 {
		return refs, nil
	}
	found, err := a.store.PersonsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load persons: %w", err)
	}
	for _, id := range ids {
		p, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPerson, id)
		}
		refs = append(refs, domain.PersonRef{PersonID: p.ID, Name: p.Name})
	}
	return refs, nil
}

func (a *App) channelRefs(ctx context.Context, ids []string) ([]domain.ChannelRef, error) {
	refs := make([]domain.ChannelRef, 0, len(ids))
	if len(ids) == 0 {
		return refs, nil
	}
	found, err := a.store.ChannelsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	for _, id := range ids {
		c, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
		}
		refs = append(refs, domain.ChannelRef{ChannelID: c.ID, Name: c.Name})
	}
	return refs, nil
}

func (a *App) videoType(raw string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrUnsupportedVideoType
	}
	mediaType = strings.ToLower(mediaType)
	if _, ok := a.allowedTypes[mediaType]; !ok {
		return "", ErrUnsupportedVideoType
	}
	return mediaType, nil
}

func (a *App) mediaLink(key string) string {
	if a.mediaBaseURL == "" {
		return "/" + key
	}
	return a.mediaBaseURL + "/" + key
}

// deleteObject is best effort; the record is already consistent. Failures
// are handed to the cleanup queue when one is configured.
func (a *App) deleteObject(ctx context.Context, key string) {
	err := a.objects.Delete(ctx, key)
	if err == nil {
		return
	}
	logger := util.LoggerFromContext(ctx)
	if a.cleanup == nil {
		logger.Warn("delete video object failed", "key", key, "err", err)
		return
	}
	if qerr := a.cleanup.Enqueue(ctx, key); qerr != nil {
		logger.Warn("delete video object failed", "key", key, "err", err, "enqueueErr", qerr)
		return
	}
	logger.Info("video object queued for cleanup", "key", key, "err", err)
}

func objectKey(id, filename string) string {
	return "videos/" + id + "/" + sanitizeFilename(filename)
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "video"
	}
	return out
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
