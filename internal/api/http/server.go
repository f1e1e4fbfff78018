package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/pairing-hub/pairing-hub/internal/application/browser"
	"github.com/pairing-hub/pairing-hub/internal/application/dialog"
	appNegotiation "github.com/pairing-hub/pairing-hub/internal/application/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/application/registration"
	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	"github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/profile"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/bus"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	engine        *appNegotiation.Engine
	browser       *browser.Service
	registration  *registration.Service
	normalizer    *event.Normalizer
	bus           *bus.Bus
	sseHub        *sse.Hub
	clock         clockwork.Clock
	tokenHash     []byte
	defaultScript string
	logger        zerolog.Logger
}

// Config carries the gateway settings.
type Config struct {
	// TokenHash is the bcrypt hash of the bridge's bearer token. Empty
	// disables the check.
	TokenHash     string
	DefaultScript string
}

func NewServer(
	engine *appNegotiation.Engine,
	browserSvc *browser.Service,
	registrationSvc *registration.Service,
	normalizer *event.Normalizer,
	eventBus *bus.Bus,
	sseHub *sse.Hub,
	clk clockwork.Clock,
	cfg Config,
	logger zerolog.Logger,
) *Server {
	var hash []byte
	if h := strings.TrimSpace(cfg.TokenHash); h != "" {
		hash = []byte(h)
	}
	if cfg.DefaultScript == "" {
		cfg.DefaultScript = "match"
	}
	return &Server{
		engine:        engine,
		browser:       browserSvc,
		registration:  registrationSvc,
		normalizer:    normalizer,
		bus:           eventBus,
		sseHub:        sseHub,
		clock:         clk,
		tokenHash:     hash,
		defaultScript: cfg.DefaultScript,
		logger:        logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireGateway)

		r.Get("/stream", s.sseEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/events", s.ingestEvent)

			r.Route("/negotiations", func(r chi.Router) {
				r.Post("/", s.initiateNegotiation)
				r.Get("/{sessionId}", s.getNegotiation)
				r.Post("/{sessionId}/close", s.closeNegotiation)
			})

			r.Route("/participants/{participantId}", func(r chi.Router) {
				r.Get("/session", s.getActiveSession)
				r.Get("/history", s.listHistory)
				r.Get("/profile", s.getProfile)
			})

			r.Post("/registrations", s.startRegistration)

			r.Route("/browse", func(r chi.Router) {
				r.Post("/", s.openView)
				r.Get("/{viewId}/pages/{page}", s.getPage)
				r.Post("/{viewId}/regenerate", s.regenerateView)
				r.Post("/{viewId}/select", s.selectCandidate)
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"streams":       s.sseHub.GetClientCount(),
		"subscriptions": s.bus.Count(),
	})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondServiceError maps domain errors onto status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	var active *negotiation.AlreadyActiveError
	if errors.As(err, &active) {
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":      "ALREADY_ACTIVE",
			"message":    err.Error(),
			"session_id": active.SessionID,
		})
		return
	}

	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, negotiation.ErrSelfPairing):
		status, code = http.StatusBadRequest, "SELF_PAIRING"
	case errors.Is(err, negotiation.ErrUnknownScript):
		status, code = http.StatusBadRequest, "UNKNOWN_SCRIPT"
	case errors.Is(err, profile.ErrMissingParticipant):
		status, code = http.StatusBadRequest, "INVALID_PARAM"
	case errors.Is(err, browser.ErrNotCandidate):
		status, code = http.StatusBadRequest, "NOT_CANDIDATE"
	case errors.Is(err, negotiation.ErrNotRegistered):
		status, code = http.StatusPreconditionFailed, "NOT_REGISTERED"
	case errors.Is(err, negotiation.ErrNotParticipant), errors.Is(err, browser.ErrNotViewer):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, negotiation.ErrNotFound), errors.Is(err, browser.ErrViewNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, browser.ErrPageOutOfRange):
		status, code = http.StatusNotFound, "PAGE_OUT_OF_RANGE"
	case errors.Is(err, negotiation.ErrNotConfirmed):
		status, code = http.StatusConflict, "NOT_CONFIRMED"
	case errors.Is(err, negotiation.ErrCloseInProgress):
		status, code = http.StatusConflict, "CLOSE_IN_PROGRESS"
	case errors.Is(err, negotiation.ErrStaleTransition), errors.Is(err, negotiation.ErrInvalidTransition):
		status, code = http.StatusConflict, "STALE_TRANSITION"
	case errors.Is(err, registration.ErrRegistrationInProgress):
		status, code = http.StatusConflict, "REGISTRATION_IN_PROGRESS"
	case errors.Is(err, dialog.ErrParticipantBusy):
		status, code = http.StatusConflict, "PARTICIPANT_BUSY"
	case errors.Is(err, appNegotiation.ErrShuttingDown), errors.Is(err, registration.ErrShuttingDown):
		status, code = http.StatusServiceUnavailable, "SHUTTING_DOWN"
	case negotiation.IsStoreError(err):
		status, code = http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	}
	respondError(w, status, code, err.Error())
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Data types for requests

type initiateRequest struct {
	Initiator   string `json:"initiator"`
	Counterpart string `json:"counterpart"`
	ScriptID    string `json:"script_id"`
}

type closeRequest struct {
	ParticipantID string `json:"participant_id"`
}

type registrationRequest struct {
	ParticipantID string   `json:"participant_id"`
	DisplayName   string   `json:"display_name"`
	Tags          []string `json:"tags,omitempty"`
}

type browseRequest struct {
	ParticipantID string `json:"participant_id"`
	Tag           string `json:"tag,omitempty"`
	ScriptID      string `json:"script_id,omitempty"`
}

type selectRequest struct {
	ParticipantID string `json:"participant_id"`
	CandidateID   string `json:"candidate_id"`
}
