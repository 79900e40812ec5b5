package server

import (
	"net/http"

	"vidarchive/pkg/domain"
	"vidarchive/services/catalog/internal/app"
)

func (s *Server) handleListPersons(w http.ResponseWriter, r *http.Request, _ domain.User) {
	res, err := s.app.ListPersons(r.Context(), listParams(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writePage(w, res)
}

func (s *Server) handleSearchPersons(w http.ResponseWriter, r *http.Request, _ domain.User) {
	persons, err := s.app.SearchPersons(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, persons)
}

func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request, _ domain.User) {
	p, err := s.app.GetPerson(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) handleCreatePerson(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req app.PersonInput
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	p, err := s.app.CreatePerson(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	logFor(r).Info("person created", "person_id", p.ID, "user_id", user.ID)
	writeData(w, http.StatusCreated, p)
}

func (s *Server) handleUpdatePerson(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req app.PersonPatch
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	p, err := s.app.UpdatePerson(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	logFor(r).Info("person updated", "person_id", p.ID, "user_id", user.ID)
	writeData(w, http.StatusOK, p)
}

func (s *Server) handleDeletePerson(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeletePerson(r.Context(), id); err != nil {
		logFor(r).Warn("person delete rejected", "person_id", id, "err", err)
		writeAppError(w, r, err)
		return
	}
	logFor(r).Info("person deleted", "person_id", id, "user_id", user.ID)
	writeData(w, http.StatusOK, nil)
}
