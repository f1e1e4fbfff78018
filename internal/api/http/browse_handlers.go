package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) openView(w http.ResponseWriter, r *http.Request) {
	var req browseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	viewer := participantFromRequest(r, req.ParticipantID)
	if viewer == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "participant_id required")
		return
	}
	view, err := s.browser.Open(r.Context(), viewer, req.Tag, req.ScriptID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	viewID, err := parseUUIDParam(r, "viewId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid viewId")
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid page")
		return
	}
	page, err := s.browser.Page(r.Context(), viewID, n)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) regenerateView(w http.ResponseWriter, r *http.Request) {
	viewID, err := parseUUIDParam(r, "viewId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid viewId")
		return
	}
	view, err := s.browser.Regenerate(r.Context(), viewID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) selectCandidate(w http.ResponseWriter, r *http.Request) {
	viewID, err := parseUUIDParam(r, "viewId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid viewId")
		return
	}
	var req selectRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	viewer := participantFromRequest(r, req.ParticipantID)
	candidate := strings.TrimSpace(req.CandidateID)
	if viewer == "" || candidate == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "participant_id and candidate_id are required")
		return
	}
	session, err := s.browser.OnSelection(r.Context(), viewID, viewer, candidate)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}
