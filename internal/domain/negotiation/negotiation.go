package negotiation

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pairing-hub/pairing-hub/internal/domain/script"
)

// Status represents the lifecycle state of a negotiation session.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusAwaitingResponse Status = "AWAITING_RESPONSE"
	StatusConfirmed        Status = "CONFIRMED"
	StatusRejected         Status = "REJECTED"
	StatusTimedOut         Status = "TIMED_OUT"
	StatusClosed           Status = "CLOSED"
)

// ActiveStatuses hold a participant's single active slot.
var ActiveStatuses = []Status{StatusPending, StatusAwaitingResponse}

// LiveStatuses hold the pair: no two sessions in these share a pair.
var LiveStatuses = []Status{StatusPending, StatusAwaitingResponse, StatusConfirmed}

var transitions = map[Status][]Status{
	StatusPending:          {StatusAwaitingResponse, StatusRejected, StatusTimedOut, StatusClosed},
	StatusAwaitingResponse: {StatusConfirmed, StatusRejected, StatusTimedOut, StatusClosed},
	StatusConfirmed:        {StatusClosed},
	StatusRejected:         {},
	StatusTimedOut:         {},
	StatusClosed:           {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) IsActive() bool {
	return slices.Contains(ActiveStatuses, s)
}

// HoldsPair reports whether a session in s still occupies its pair.
func (s Status) HoldsPair() bool {
	return slices.Contains(LiveStatuses, s)
}

func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusTimedOut || s == StatusClosed
}

// Session is one paired negotiation between an initiator and a counterpart.
type Session struct {
	ID          uuid.UUID       `json:"sessionId"`
	ScriptID    string          `json:"scriptId"`
	Initiator   string          `json:"initiator"`
	Counterpart string          `json:"counterpart"`
	Status      Status          `json:"status"`
	SurfaceID   *string         `json:"surfaceId,omitempty"`
	Answers     []script.Answer `json:"answers,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// NewSession creates a pending session.
func NewSession(scriptID, initiator, counterpart string, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		ID:          uuid.New(),
		ScriptID:    scriptID,
		Initiator:   initiator,
		Counterpart: counterpart,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// PairKey returns the unordered pair as (low, high).
func PairKey(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

func (s *Session) PairKey() (string, string) {
	return PairKey(s.Initiator, s.Counterpart)
}

func (s *Session) Involves(participant string) bool {
	return s.Initiator == participant || s.Counterpart == participant
}

// Other returns the participant on the opposite side.
func (s *Session) Other(participant string) string {
	if participant == s.Initiator {
		return s.Counterpart
	}
	return s.Initiator
}

// Participant resolves a script responder to a participant id.
func (s *Session) Participant(r script.Responder) string {
	if r == script.ResponderCounterpart {
		return s.Counterpart
	}
	return s.Initiator
}

func (s *Session) Surface() string {
	if s.SurfaceID == nil {
		return ""
	}
	return *s.SurfaceID
}

// Update carries the fields written together with a status change.
type Update struct {
	Answers   []script.Answer
	SurfaceID *string
	At        time.Time
}

// CompletedPairing is the history record of a closed, confirmed session.
type CompletedPairing struct {
	SessionID   uuid.UUID `json:"sessionId"`
	ScriptID    string    `json:"scriptId"`
	Initiator   string    `json:"initiator"`
	Counterpart string    `json:"counterpart"`
	SurfaceID   string    `json:"surfaceId"`
	ClosedAt    time.Time `json:"closedAt"`
}
