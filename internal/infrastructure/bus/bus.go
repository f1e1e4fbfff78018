package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/pairing-hub/pairing-hub/internal/domain/event"
)

const defaultBuffer = 16

// Bus fans inbound events out to predicate subscriptions.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	buffer int
	logger zerolog.Logger
}

func New(buffer int, logger zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		subs:   make(map[uint64]*subscription),
		buffer: buffer,
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

type subscription struct {
	id    uint64
	bus   *Bus
	match func(event.Inbound) bool
	ch    chan event.Inbound
	once  sync.Once
}

func (s *subscription) Events() <-chan event.Inbound {
	return s.ch
}

// Close detaches the subscription. No event is delivered after Close returns.
func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Subscribe registers match. A nil match accepts every event.
func (b *Bus) Subscribe(match func(event.Inbound) bool) event.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{
		id:    b.nextID,
		bus:   b,
		match: match,
		ch:    make(chan event.Inbound, b.buffer),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers in to every matching subscription and returns how many
// accepted it. Non-matching subscriptions never see the event.
func (b *Bus) Publish(in event.Inbound) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, sub := range b.subs {
		if sub.match != nil && !sub.match(in) {
			continue
		}
		if trySend(sub, in) {
			delivered++
			continue
		}
		b.logger.Warn().
			Str("event_id", in.EventID.String()).
			Str("participant", in.ParticipantID).
			Msg("subscription buffer full, event dropped")
	}
	return delivered
}

func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stop closes every subscription.
func (b *Bus) Stop() {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func trySend(s *subscription, in event.Inbound) bool {
	select {
	case s.ch <- in:
		return true
	default:
		return false
	}
}
