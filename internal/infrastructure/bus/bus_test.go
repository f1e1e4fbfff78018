package bus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairing-hub/pairing-hub/internal/domain/event"
)

func TestBus_PublishFiltersByPredicate(t *testing.T) {
	b := New(4, zerolog.Nop())
	bob := b.Subscribe(func(in event.Inbound) bool { return in.ParticipantID == "bob" })
	defer bob.Close()
	all := b.Subscribe(nil)
	defer all.Close()

	assert.Equal(t, 2, b.Publish(event.Inbound{ParticipantID: "bob", Text: "1"}))
	assert.Equal(t, 1, b.Publish(event.Inbound{ParticipantID: "carol", Text: "2"}))

	got := <-bob.Events()
	assert.Equal(t, "1", got.Text)
	assert.Len(t, bob.Events(), 0)
	assert.Len(t, all.Events(), 2)
}

func TestBus_PreservesOrder(t *testing.T) {
	b := New(8, zerolog.Nop())
	sub := b.Subscribe(nil)
	defer sub.Close()

	for _, s := range []string{"a", "b", "c"} {
		b.Publish(event.Inbound{Text: s})
	}
	for _, want := range []string{"a", "b", "c"} {
		got := <-sub.Events()
		assert.Equal(t, want, got.Text)
	}
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	b := New(4, zerolog.Nop())
	sub := b.Subscribe(nil)
	require.Equal(t, 1, b.Count())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, 0, b.Publish(event.Inbound{Text: "late"}))

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestBus_FullBufferDrops(t *testing.T) {
	b := New(1, zerolog.Nop())
	sub := b.Subscribe(nil)
	defer sub.Close()

	assert.Equal(t, 1, b.Publish(event.Inbound{Text: "first"}))
	assert.Equal(t, 0, b.Publish(event.Inbound{Text: "second"}))
	got := <-sub.Events()
	assert.Equal(t, "first", got.Text)
}

func TestBus_Stop(t *testing.T) {
	b := New(1, zerolog.Nop())
	s1 := b.Subscribe(nil)
	s2 := b.Subscribe(nil)
	b.Stop()
	assert.Equal(t, 0, b.Count())
	_, ok := <-s1.Events()
	assert.False(t, ok)
	_, ok = <-s2.Events()
	assert.False(t, ok)
}
