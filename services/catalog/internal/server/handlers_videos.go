package server

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"vidarchive/internal/validation"
	"vidarchive/pkg/domain"
	"vidarchive/pkg/search"
	"vidarchive/services/catalog/internal/app"
)

// Multipart fields beyond the file are small; anything above this spills
// to temporary files.
const multipartMemory = 32 << 20

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
}

func searchParams(r *http.Request) search.Params {
	q := r.URL.Query()
	return search.Params{
		Query:     q.Get("query"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		People:    q.Get("people"),
		Channels:  q.Get("channels"),
		Keywords:  q.Get("keywords"),
		Page:      queryInt(r, "page"),
		Limit:     queryInt(r, "limit"),
		Sort:      q.Get("sort"),
	}
}

func (s *Server) handleSearchVideos(w http.ResponseWriter, r *http.Request, _ domain.User) {
	res, err := s.app.SearchVideos(r.Context(), searchParams(r))
	if err != nil {
		writeSearchError(w, r, err)
		return
	}
	writePage(w, res)
}

func (s *Server) handleSearchAnalytics(w http.ResponseWriter, r *http.Request, _ domain.User) {
	scope, err := search.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loc := time.UTC
	if tz := strings.TrimSpace(r.URL.Query().Get("tz")); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			writeError(w, http.StatusBadRequest, "invalid tz: "+tz)
			return
		}
	}
	out, err := s.app.SearchAnalytics(r.Context(), searchParams(r), scope, loc)
	if err != nil {
		writeSearchError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request, _ domain.User) {
	res, err := s.app.ListVideos(r.Context(), listParams(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writePage(w, res)
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request, _ domain.User) {
	v, err := s.app.GetVideo(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (s *Server) handleDownloadVideo(w http.ResponseWriter, r *http.Request, _ domain.User) {
	link, expiry, err := s.app.DownloadURL(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"url":       link,
		"expiresIn": int(expiry.Seconds()),
	})
}

func (s *Server) handleCreateVideo(w http.ResponseWriter, r *http.Request, user domain.User) {
	form, err := s.readVideoForm(w, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer form.close()
	in := app.VideoInput{
		Title:       deref(form.patch.Title),
		Description: deref(form.patch.Description),
		EventAt:     deref(form.patch.EventAt),
	}
	if form.patch.Keywords != nil {
		in.Keywords = *form.patch.Keywords
	}
	if form.patch.RelatedPeople != nil {
		in.RelatedPeople = *form.patch.RelatedPeople
	}
	if form.patch.Channels != nil {
		in.Channels = *form.patch.Channels
	}
	v, err := s.app.CreateVideo(r.Context(), in, form.file)
	if err != nil {
		logFor(r).Warn("video upload rejected", "err", err)
		writeAppError(w, r, err)
		return
	}
	logFor(r).Info("video uploaded", "video_id", v.ID, "user_id", user.ID, "size_bytes", v.SizeBytes)
	writeData(w, http.StatusCreated, v)
}

func (s *Server) handleUpdateVideo(w http.ResponseWriter, r *http.Request, user domain.User) {
	form, err := s.readVideoForm(w, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer form.close()
	v, err := s.app.UpdateVideo(r.Context(), r.PathValue("id"), form.patch, form.file)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	logFor(r).Info("video updated", "video_id", v.ID, "user_id", user.ID)
	writeData(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeleteVideo(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	logFor(r).Info("video deleted", "video_id", id, "user_id", user.ID)
	writeData(w, http.StatusOK, nil)
}

type videoForm struct {
	patch app.VideoPatch
	file  *app.Upload
	close func()
}

// readVideoForm parses the multipart body. Only fields that are present end
// up in the patch; the "video" part becomes the upload.
func (s *Server) readVideoForm(w http.ResponseWriter, r *http.Request) (videoForm, error) {
	form := videoForm{close: func() {}}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return form, err
		}
		return form, fieldError("video", "multipart", "request must be multipart/form-data")
	}
	values := r.MultipartForm.Value
	form.close = func() { _ = r.MultipartForm.RemoveAll() }

	if v, ok := formValue(values, "title"); ok {
		form.patch.Title = &v
	}
	if v, ok := formValue(values, "description"); ok {
		form.patch.Description = &v
	}
	if v, ok := formValue(values, "datetime"); ok {
		at, err := parseEventTime(v)
		if err != nil {
			form.close()
			return form, err
		}
		form.patch.EventAt = &at
	}
	var err error
	if form.patch.Keywords, err = stringList(values, "keywords"); err != nil {
		form.close()
		return form, err
	}
	if form.patch.RelatedPeople, err = refList(values, "relatedPeople", "person"); err != nil {
		form.close()
		return form, err
	}
	if form.patch.Channels, err = refList(values, "channels", "channel"); err != nil {
		form.close()
		return form, err
	}

	headers := r.MultipartForm.File["video"]
	if len(headers) == 0 {
		return form, nil
	}
	upload, closeFile, err := openUpload(headers[0])
	if err != nil {
		form.close()
		return form, err
	}
	removeAll := form.close
	form.close = func() {
		closeFile()
		removeAll()
	}
	form.file = upload
	return form, nil
}

func openUpload(fh *multipart.FileHeader) (*app.Upload, func(), error) {
	f, err := fh.Open()
	if err != nil {
		return nil, nil, err
	}
	return &app.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}, func() { _ = f.Close() }, nil
}

func formValue(values map[string][]string, key string) (string, bool) {
	v, ok := values[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

func parseEventTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fieldError("datetime", "datetime", "datetime must be an ISO 8601 date or timestamp")
}

// stringList decodes a JSON array of strings. An empty field means an empty list.
func stringList(values map[string][]string, key string) (*[]string, error) {
	raw, ok := formValue(values, key)
	if !ok {
		return nil, nil
	}
	out := []string{}
	if strings.TrimSpace(raw) == "" {
		return &out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fieldError(key, "json", key+" must be a JSON array of strings")
	}
	return &out, nil
}

// refList decodes a JSON array whose entries are either bare IDs or objects
// carrying the ID under idKey (or "id"). Names sent by the client are ignored.
func refList(values map[string][]string, key, idKey string) (*[]string, error) {
	raw, ok := formValue(values, key)
	if !ok {
		return nil, nil
	}
	ids := []string{}
	if strings.TrimSpace(raw) == "" {
		return &ids, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fieldError(key, "json", key+" must be a JSON array")
	}
	for _, entry := range entries {
		var id string
		if err := json.Unmarshal(entry, &id); err != nil {
			var obj map[string]any
			if err := json.Unmarshal(entry, &obj); err != nil {
				return nil, fieldError(key, "json", key+" entries must be IDs or objects")
			}
			switch v := obj[idKey].(type) {
			case string:
				id = v
			case map[string]any:
				id, _ = v["id"].(string)
			default:
				id, _ = obj["id"].(string)
			}
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fieldError(key, "json", key+" entries must carry an id")
		}
		ids = append(ids, id)
	}
	return &ids, nil
}

func fieldError(field, tag, msg string) error {
	return &validation.RequestValidationError{Fields: []validation.FieldError{{Field: field, Tag: tag, Message: msg}}}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
