package event

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the shape of an inbound platform event.
type Kind string

const (
	KindReaction  Kind = "REACTION"
	KindMessage   Kind = "MESSAGE"
	KindSelection Kind = "SELECTION"
)

// Signal is the normalized meaning of a reaction or selection.
type Signal string

const (
	SignalNone   Signal = ""
	SignalAccept Signal = "ACCEPT"
	SignalReject Signal = "REJECT"
	SignalSelect Signal = "SELECT"
)

var (
	ErrIgnored            = errors.New("event ignored")
	ErrMissingParticipant = errors.New("event has no participant")
	ErrMissingSource      = errors.New("event has no source")
	ErrUnknownKind        = errors.New("unknown event kind")
)

const directPrefix = "dm:"

// Inbound is a normalized event as seen by the negotiation core.
type Inbound struct {
	EventID       uuid.UUID `json:"eventId"`
	ParticipantID string    `json:"participantId"`
	SourceID      string    `json:"sourceId"`
	Kind          Kind      `json:"kind"`
	Signal        Signal    `json:"signal,omitempty"`
	Text          string    `json:"text,omitempty"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// DirectSurface returns the surface id of a participant's direct channel.
func DirectSurface(participantID string) string {
	return directPrefix + participantID
}

// DirectParticipant reports the participant behind a direct surface id.
func DirectParticipant(surfaceID string) (string, bool) {
	if !strings.HasPrefix(surfaceID, directPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(surfaceID, directPrefix)
	return id, id != ""
}

// Subscription delivers events accepted by its predicate, in arrival order.
type Subscription interface {
	Events() <-chan Inbound
	Close()
}

// Stream is the source of inbound events.
type Stream interface {
	Subscribe(match func(Inbound) bool) Subscription
}
