package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	"github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/transport"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/sse"
)

const (
	EventMessage          = "message"
	EventSurfaceCreated   = "surface.created"
	EventSurfaceDestroyed = "surface.destroyed"
)

// Envelope is the payload of every frame pushed to the bridge.
type Envelope struct {
	MessageID    string             `json:"messageId,omitempty"`
	SurfaceID    string             `json:"surfaceId"`
	Participants []string           `json:"participants"`
	Message      *transport.Message `json:"message,omitempty"`
}

// Sessions resolves a private surface to the session it belongs to.
type Sessions interface {
	GetBySurface(ctx context.Context, surfaceID string) (*negotiation.Session, error)
}

// Gateway implements transport.Transport on top of the SSE hub. Private
// surfaces are cached in memory; the bridge materializes them on its side.
// A surface missing from the cache, e.g. after a restart, is resolved
// through the session store.
type Gateway struct {
	hub      *sse.Hub
	sessions Sessions
	mu       sync.RWMutex
	groups   map[string][]string
	logger   zerolog.Logger
}

// New returns a gateway. sessions may be nil, in which case only surfaces
// created by this gateway are known.
func New(hub *sse.Hub, sessions Sessions, logger zerolog.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		sessions: sessions,
		groups:   make(map[string][]string),
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

var _ transport.Transport = (*Gateway)(nil)

func (g *Gateway) Send(ctx context.Context, surfaceID string, msg transport.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	members, err := g.resolve(ctx, surfaceID)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	sent, err := g.push(EventMessage, Envelope{MessageID: id, SurfaceID: surfaceID, Participants: members, Message: &msg})
	if err != nil {
		return "", err
	}
	if sent == 0 {
		return "", fmt.Errorf("%w: no stream for %s", transport.ErrUndeliverable, surfaceID)
	}
	return id, nil
}

func (g *Gateway) CreatePrivateSurface(ctx context.Context, participants []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(participants) == 0 {
		return "", fmt.Errorf("private surface needs participants")
	}
	id := "surface-" + uuid.New().String()
	members := append([]string(nil), participants...)

	g.mu.Lock()
	g.groups[id] = members
	g.mu.Unlock()

	if _, err := g.push(EventSurfaceCreated, Envelope{SurfaceID: id, Participants: members}); err != nil {
		return "", err
	}
	g.logger.Info().Str("surface_id", id).Strs("participants", members).Msg("private surface created")
	return id, nil
}

func (g *Gateway) DestroySurface(ctx context.Context, surfaceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, direct := event.DirectParticipant(surfaceID); direct {
		return fmt.Errorf("%w: %s", transport.ErrSurfaceNotFound, surfaceID)
	}
	if _, err := g.resolve(ctx, surfaceID); err != nil {
		return err
	}
	g.mu.Lock()
	members, ok := g.groups[surfaceID]
	delete(g.groups, surfaceID)
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrSurfaceNotFound, surfaceID)
	}
	_, err := g.push(EventSurfaceDestroyed, Envelope{SurfaceID: surfaceID, Participants: members})
	return err
}

// Members returns the participants of a surface. Direct surfaces resolve to
// their single participant.
func (g *Gateway) Members(surfaceID string) ([]string, bool) {
	if p, ok := event.DirectParticipant(surfaceID); ok {
		return []string{p}, true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	members, ok := g.groups[surfaceID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), members...), true
}

// resolve returns the members of surfaceID, restoring private surfaces from
// the session store into the cache.
func (g *Gateway) resolve(ctx context.Context, surfaceID string) ([]string, error) {
	if members, ok := g.Members(surfaceID); ok {
		return members, nil
	}
	if g.sessions == nil {
		return nil, fmt.Errorf("%w: %s", transport.ErrSurfaceNotFound, surfaceID)
	}
	s, err := g.sessions.GetBySurface(ctx, surfaceID)
	if err != nil {
		return nil, fmt.Errorf("resolve surface %s: %w", surfaceID, err)
	}
	if s == nil || !s.Status.HoldsPair() {
		return nil, fmt.Errorf("%w: %s", transport.ErrSurfaceNotFound, surfaceID)
	}
	members := []string{s.Initiator, s.Counterpart}

	g.mu.Lock()
	if cached, ok := g.groups[surfaceID]; ok {
		members = cached
	} else {
		g.groups[surfaceID] = members
	}
	g.mu.Unlock()
	g.logger.Info().Str("surface_id", surfaceID).Str("session_id", s.ID.String()).Msg("private surface restored")
	return append([]string(nil), members...), nil
}

func (g *Gateway) push(name string, env Envelope) (int, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}
	return g.hub.Deliver(env.Participants, sse.NewMessage(name, data)), nil
}
