package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/sse"
)

// ingestEvent normalizes a raw platform event. Selections go straight to the
// browser; everything else is published to the waiting dialogs.
func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var raw event.Raw
	if err := decodeBody(r, &raw); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	in, err := s.normalizer.Normalize(raw, s.clock.Now())
	if err != nil {
		if errors.Is(err, event.ErrIgnored) {
			s.logger.Debug().Err(err).Str("participant", raw.ParticipantID).Msg("event ignored")
			respondJSON(w, http.StatusAccepted, map[string]interface{}{
				"status": "ignored",
				"reason": err.Error(),
			})
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_EVENT", err.Error())
		return
	}

	if in.Kind == event.KindSelection {
		viewID, err := uuid.Parse(in.SourceID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_EVENT", "selection source must be a view id")
			return
		}
		session, err := s.browser.OnSelection(r.Context(), viewID, in.ParticipantID, in.Text)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, session)
		return
	}

	delivered := s.bus.Publish(in)
	ev := s.logger.Debug().
		Str("event_id", in.EventID.String()).
		Str("participant", in.ParticipantID).
		Str("kind", string(in.Kind)).
		Int("delivered", delivered)
	if b := bridgeFromContext(r.Context()); b != nil {
		ev = ev.Str("bridge", b.Name)
	}
	ev.Msg("event published")
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id":  in.EventID,
		"kind":      in.Kind,
		"signal":    in.Signal,
		"delivered": delivered,
	})
}

// sseEndpoint streams outbound messages. Without participant_id the client is
// a bridge and receives every message.
func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "client_id required")
		return
	}
	participant := participantFromRequest(r, r.URL.Query().Get("participant_id"))
	var participantPtr *string
	if participant != "" {
		participantPtr = &participant
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	client := sse.NewClient(clientID, participantPtr)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-client.MessageChan:
			if !ok || msg == nil {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("event: " + msg.Event + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
