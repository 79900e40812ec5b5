package server

import (
	"net/http"

	"vidarchive/pkg/domain"
	"vidarchive/services/catalog/internal/app"
)

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request, _ domain.User) {
	res, err := s.app.ListChannels(r.Context(), listParams(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writePage(w, res)
}

func (s *Server) handleSearchChannels(w http.ResponseWriter, r *http.Request, _ domain.User) {
	channels, err := s.app.SearchChannels(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		logFor(r).Error("channel search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Error searching channels")
		return
	}
	writeList(w, channels)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request, _ domain.User) {
	c, err := s.app.GetChannel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req app.ChannelInput
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	c, err := s.app.CreateChannel(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	logFor(r).Info("channel created", "channel_id", c.ID, "user_id", user.ID)
	writeData(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateChannel(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req app.ChannelPatch
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	c, err := s.app.UpdateChannel(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	logFor(r).Info("channel updated", "channel_id", c.ID, "user_id", user.ID)
	writeData(w, http.StatusOK, c)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeleteChannel(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	logFor(r).Info("channel deleted", "channel_id", id, "user_id", user.ID)
	writeData(w, http.StatusOK, nil)
}
