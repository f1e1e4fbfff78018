package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Raw is an event as delivered by the platform bridge.
type Raw struct {
	EventID       string `json:"event_id,omitempty"`
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id"`
	SourceID      string `json:"source_id"`
	Symbol        string `json:"symbol,omitempty"`
	Text          string `json:"text,omitempty"`
	FromBot       bool   `json:"from_bot,omitempty"`
}

// Normalizer maps raw platform events to Inbound events.
type Normalizer struct {
	symbols map[string]Signal
}

func NewNormalizer(accept, reject []string) *Normalizer {
	symbols := make(map[string]Signal, len(accept)+len(reject))
	for _, s := range accept {
		if s = strings.TrimSpace(s); s != "" {
			symbols[s] = SignalAccept
		}
	}
	for _, s := range reject {
		if s = strings.TrimSpace(s); s != "" {
			symbols[s] = SignalReject
		}
	}
	return &Normalizer{symbols: symbols}
}

// Normalize converts raw into an Inbound event. Events that carry nothing the
// core can act on (bot echoes, unmapped reaction symbols) return ErrIgnored.
func (n *Normalizer) Normalize(raw Raw, at time.Time) (Inbound, error) {
	if raw.FromBot {
		return Inbound{}, fmt.Errorf("%w: bot sender", ErrIgnored)
	}
	participant := strings.TrimSpace(raw.ParticipantID)
	if participant == "" {
		return Inbound{}, ErrMissingParticipant
	}
	source := strings.TrimSpace(raw.SourceID)
	if source == "" {
		return Inbound{}, ErrMissingSource
	}

	in := Inbound{
		EventID:       uuid.New(),
		ParticipantID: participant,
		SourceID:      source,
		ReceivedAt:    at.UTC(),
	}
	if raw.EventID != "" {
		if id, err := uuid.Parse(raw.EventID); err == nil {
			in.EventID = id
		}
	}

	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case "reaction":
		sig, ok := n.symbols[strings.TrimSpace(raw.Symbol)]
		if !ok {
			return Inbound{}, fmt.Errorf("%w: unmapped symbol %q", ErrIgnored, raw.Symbol)
		}
		in.Kind = KindReaction
		in.Signal = sig
	case "message":
		in.Kind = KindMessage
		in.Text = strings.TrimSpace(raw.Text)
	case "selection":
		in.Kind = KindSelection
		in.Signal = SignalSelect
		in.Text = strings.TrimSpace(raw.Text)
		if in.Text == "" {
			return Inbound{}, fmt.Errorf("%w: empty selection", ErrIgnored)
		}
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownKind, raw.Type)
	}
	return in, nil
}
