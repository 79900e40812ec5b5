package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"vidarchive/internal/util"
	"vidarchive/internal/validation"
	"vidarchive/pkg/auth"
	"vidarchive/pkg/search"
	"vidarchive/services/catalog/internal/app"
)

const maxJSONBody = 1 << 20

var errInvalidJSON = errors.New("invalid JSON body")

// statusLabel maps an HTTP status onto the envelope status field.
func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "error"
	case code >= 400:
		return "fail"
	default:
		return "success"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"status": "success", "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": statusLabel(status), "message": msg})
}

func writePage[T any](w http.ResponseWriter, res app.PageResult[T]) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"results":     len(res.Items),
		"total":       res.Total,
		"totalPages":  res.TotalPages(),
		"currentPage": res.Page.Number,
		"limit":       res.Page.Limit,
		"data":        res.Items,
	})
}

func writeList[T any](w http.ResponseWriter, items []T) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(items),
		"data":    items,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		return errInvalidJSON
	}
	return nil
}

// writeAppError converts a use-case error into the response envelope.
// Unexpected errors are logged and their message passed through.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "fail",
			"message": verr.Error(),
			"errors":  verr.Fields,
		})
		return
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, errInvalidJSON),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong),
		errors.Is(err, auth.ErrPasswordTooWeak),
		errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrEmailAlreadyExists),
		errors.Is(err, app.ErrUsernameTaken),
		errors.Is(err, app.ErrPersonReferenced),
		errors.Is(err, app.ErrUnknownPerson),
		errors.Is(err, app.ErrUnknownChannel),
		errors.Is(err, app.ErrVideoFileRequired),
		errors.Is(err, app.ErrUnsupportedVideoType),
		errors.Is(err, search.ErrInvalidSort),
		errors.Is(err, search.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrPersonNotFound),
		errors.Is(err, app.ErrChannelNotFound),
		errors.Is(err, app.ErrVideoNotFound),
		errors.Is(err, app.ErrVideoFileMissing):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeSearchError keeps client mistakes at 400 and reports everything else,
// malformed dates included, as a failed search.
func writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, search.ErrInvalidSort) || errors.Is(err, search.ErrInvalidScope) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	util.LoggerFromContext(r.Context()).Error("search failed", "query", r.URL.RawQuery, "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"status":  "error",
		"message": "Error performing search",
		"details": err.Error(),
	})
}
