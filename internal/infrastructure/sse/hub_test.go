package sse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestHub_Deliver(t *testing.T) {
	h := NewHub()
	bridge := NewClient("bridge", nil)
	alice := NewClient("alice-1", strPtr("alice"))
	bob := NewClient("bob-1", strPtr("bob"))
	h.Register(bridge)
	h.Register(alice)
	h.Register(bob)
	require.Equal(t, 3, h.GetClientCount())

	msg := NewMessage("message", json.RawMessage(`{"body":"hi"}`))
	assert.Equal(t, 2, h.Deliver([]string{"alice"}, msg))

	assert.Len(t, bridge.MessageChan, 1)
	assert.Len(t, alice.MessageChan, 1)
	assert.Len(t, bob.MessageChan, 0)
}

func TestHub_DeliverSkipsFullClients(t *testing.T) {
	h := NewHub()
	c := NewClient("c1", nil)
	h.Register(c)

	for i := 0; i < cap(c.MessageChan); i++ {
		require.Equal(t, 1, h.Deliver(nil, NewMessage("fill", nil)))
	}
	assert.Equal(t, 0, h.Deliver(nil, NewMessage("overflow", nil)))
}

func TestHub_BridgeConnected(t *testing.T) {
	h := NewHub()
	isClosed := func() bool {
		select {
		case <-h.BridgeConnected():
			return true
		default:
			return false
		}
	}

	h.Register(NewClient("alice-1", strPtr("alice")))
	assert.False(t, isClosed(), "participant streams are not bridges")

	bridge := NewClient("bridge", nil)
	h.Register(bridge)
	assert.True(t, isClosed())

	h.Unregister(bridge)
	h.Register(NewClient("bridge", nil))
	assert.True(t, isClosed())
}

func TestHub_UnregisterAndStop(t *testing.T) {
	h := NewHub()
	c1 := NewClient("c1", nil)
	c2 := NewClient("c2", strPtr("bob"))
	h.Register(c1)
	h.Register(c2)

	h.Unregister(c1)
	_, ok := <-c1.MessageChan
	assert.False(t, ok)
	assert.Equal(t, 1, h.GetClientCount())

	h.Stop()
	_, ok = <-c2.MessageChan
	assert.False(t, ok)
	assert.Equal(t, 0, h.GetClientCount())
}

func TestHub_RegisterReplacesSameID(t *testing.T) {
	h := NewHub()
	first := NewClient("dup", nil)
	h.Register(first)
	second := NewClient("dup", nil)
	h.Register(second)

	_, ok := <-first.MessageChan
	assert.False(t, ok)
	assert.Equal(t, 1, h.GetClientCount())

	h.Unregister(first)
	assert.Equal(t, 1, h.GetClientCount())
	assert.Equal(t, 1, h.Deliver(nil, NewMessage("ping", nil)))
	assert.Len(t, second.MessageChan, 1)
}
