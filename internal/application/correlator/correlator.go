package correlator

import (
	"github.com/rs/zerolog"

	"github.com/pairing-hub/pairing-hub/internal/domain/event"
)

// Filter selects the events an armed step is waiting for. Empty fields match
// anything.
type Filter struct {
	Kind       event.Kind
	SourceID   string
	Responders []string
	Signals    []event.Signal
}

func (f Filter) Matches(in event.Inbound) bool {
	if f.Kind != "" && in.Kind != f.Kind {
		return false
	}
	if f.SourceID != "" && in.SourceID != f.SourceID {
		return false
	}
	if len(f.Responders) > 0 && !contains(f.Responders, in.ParticipantID) {
		return false
	}
	if len(f.Signals) > 0 && !contains(f.Signals, in.Signal) {
		return false
	}
	return true
}

func contains[T comparable](items []T, v T) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

// Correlator hands out filtered event streams.
type Correlator struct {
	stream event.Stream
	logger zerolog.Logger
}

func New(stream event.Stream, logger zerolog.Logger) *Correlator {
	return &Correlator{
		stream: stream,
		logger: logger.With().Str("component", "correlator").Logger(),
	}
}

// Watch subscribes to events matching f. Non-matching events are dropped at
// the source. The caller must Close the subscription.
func (c *Correlator) Watch(f Filter) event.Subscription {
	c.logger.Debug().
		Str("kind", string(f.Kind)).
		Str("source_id", f.SourceID).
		Strs("responders", f.Responders).
		Msg("watch armed")
	return c.stream.Subscribe(f.Matches)
}
