package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

func (s *Server) initiateNegotiation(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	req.Initiator = participantFromRequest(r, req.Initiator)
	if req.Initiator == "" || strings.TrimSpace(req.Counterpart) == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "initiator and counterpart are required")
		return
	}
	if req.ScriptID == "" {
		req.ScriptID = s.defaultScript
	}
	session, err := s.engine.Initiate(r.Context(), req.Initiator, req.Counterpart, req.ScriptID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	session, err := s.engine.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// closeNegotiation starts the closing handshake and returns before it ends.
// The outcome reaches both participants as messages.
func (s *Server) closeNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	var req closeRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	participant := participantFromRequest(r, req.ParticipantID)
	if participant == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "participant_id required")
		return
	}
	if err := s.engine.StartClose(r.Context(), participant, id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id": id,
		"status":     "close requested",
	})
}

func decodeOptionalBody(r *http.Request, v interface{}) error {
	if err := decodeBody(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
