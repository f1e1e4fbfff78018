package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
)

func (s *Server) getActiveSession(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participantId")
	session, err := s.engine.ActiveSessionFor(r.Context(), participant)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no active session")
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participantId")
	limit, offset := parseLimitOffset(r, 20, 100)
	items, err := s.engine.History(r.Context(), participant, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participantId")
	p, err := s.registration.Get(r.Context(), participant)
	if err != nil {
		if errors.Is(err, negotiation.ErrNotRegistered) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// startRegistration runs the registration dialog in the background over the
// participant's direct surface.
func (s *Server) startRegistration(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	participant := participantFromRequest(r, req.ParticipantID)
	if participant == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "participant_id required")
		return
	}
	if err := s.registration.Start(r.Context(), participant, strings.TrimSpace(req.DisplayName), req.Tags); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"participant_id": participant,
		"status":         "registration started",
	})
}
