package correlator

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/bus"
)

func TestFilter_Matches(t *testing.T) {
	f := Filter{
		Kind:       event.KindReaction,
		SourceID:   "dm:bob",
		Responders: []string{"bob"},
		Signals:    []event.Signal{event.SignalAccept, event.SignalReject},
	}
	ok := event.Inbound{Kind: event.KindReaction, SourceID: "dm:bob", ParticipantID: "bob", Signal: event.SignalAccept}

	assert.True(t, f.Matches(ok))

	wrongKind := ok
	wrongKind.Kind = event.KindMessage
	assert.False(t, f.Matches(wrongKind))

	wrongSource := ok
	wrongSource.SourceID = "dm:carol"
	assert.False(t, f.Matches(wrongSource))

	wrongResponder := ok
	wrongResponder.ParticipantID = "carol"
	assert.False(t, f.Matches(wrongResponder))

	wrongSignal := ok
	wrongSignal.Signal = event.SignalSelect
	assert.False(t, f.Matches(wrongSignal))

	assert.True(t, Filter{}.Matches(wrongSignal))
}

func TestCorrelator_WatchDropsNonMatching(t *testing.T) {
	b := bus.New(4, zerolog.Nop())
	c := New(b, zerolog.Nop())

	sub := c.Watch(Filter{Kind: event.KindMessage, Responders: []string{"alice"}})
	defer sub.Close()

	b.Publish(event.Inbound{Kind: event.KindMessage, ParticipantID: "mallory", Text: "spoof"})
	b.Publish(event.Inbound{Kind: event.KindReaction, ParticipantID: "alice", Signal: event.SignalAccept})
	b.Publish(event.Inbound{Kind: event.KindMessage, ParticipantID: "alice", Text: "real"})

	got := <-sub.Events()
	assert.Equal(t, "real", got.Text)
	assert.Len(t, sub.Events(), 0)
}
