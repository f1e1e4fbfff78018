// Package browser pages through registered candidates and turns a selection
// into a negotiation.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	neg "github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/profile"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
	"github.com/pairing-hub/pairing-hub/internal/domain/transport"
)

var (
	ErrViewNotFound   = errors.New("view not found")
	ErrNotViewer      = errors.New("view belongs to another participant")
	ErrNotCandidate   = errors.New("participant is not a candidate in this view")
	ErrPageOutOfRange = errors.New("page out of range")
)

// Negotiator is the part of the negotiation engine the browser drives.
type Negotiator interface {
	Initiate(ctx context.Context, initiator, counterpart, scriptID string) (*neg.Session, error)
	ActiveSessionFor(ctx context.Context, participant string) (*neg.Session, error)
}

type Config struct {
	TTL           time.Duration
	PageSize      int
	DefaultScript string
}

// View is a viewer's browse criterion. Pages are fetched lazily and cached
// until the view is regenerated.
type View struct {
	ID         uuid.UUID `json:"viewId"`
	Viewer     string    `json:"viewer"`
	Tag        string    `json:"tag,omitempty"`
	ScriptID   string    `json:"scriptId"`
	Generation int       `json:"generation"`
	PageSize   int       `json:"pageSize"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`

	pages map[int]*Page
}

func (v *View) expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

func (v *View) snapshot() *View {
	out := *v
	out.pages = nil
	return &out
}

type Candidate struct {
	ParticipantID string          `json:"participantId"`
	DisplayName   string          `json:"displayName"`
	Tags          []string        `json:"tags"`
	Answers       []script.Answer `json:"answers,omitempty"`
}

type Page struct {
	ViewID     uuid.UUID   `json:"viewId"`
	Generation int         `json:"generation"`
	Number     int         `json:"page"`
	Candidates []Candidate `json:"candidates"`
	HasMore    bool        `json:"hasMore"`
}

type Service struct {
	profiles   profile.Repository
	negotiator Negotiator
	transport  transport.Transport
	clock      clockwork.Clock
	cfg        Config
	logger     zerolog.Logger

	mu       sync.Mutex
	views    map[uuid.UUID]*View
	byViewer map[string]uuid.UUID
}

func NewService(
	profiles profile.Repository,
	negotiator Negotiator,
	tr transport.Transport,
	clk clockwork.Clock,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5
	}
	if cfg.DefaultScript == "" {
		cfg.DefaultScript = "swipe"
	}
	return &Service{
		profiles:   profiles,
		negotiator: negotiator,
		transport:  tr,
		clock:      clk,
		cfg:        cfg,
		logger:     logger.With().Str("service", "browser").Logger(),
		views:      make(map[uuid.UUID]*View),
		byViewer:   make(map[string]uuid.UUID),
	}
}

// Open starts a view for viewer over candidates tagged tag. Opening again
// replaces the viewer's previous view.
func (s *Service) Open(ctx context.Context, viewer, tag, scriptID string) (*View, error) {
	viewer = strings.TrimSpace(viewer)
	if viewer == "" {
		return nil, profile.ErrMissingParticipant
	}
	if scriptID == "" {
		scriptID = s.cfg.DefaultScript
	}
	p, err := s.profiles.Get(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", neg.ErrNotRegistered, viewer)
	}
	active, err := s.negotiator.ActiveSessionFor(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if active != nil && active.Status.IsActive() {
		return nil, &neg.AlreadyActiveError{SessionID: active.ID, Participant: viewer}
	}

	now := s.clock.Now()
	v := &View{
		ID:         uuid.New(),
		Viewer:     viewer,
		Tag:        strings.ToLower(strings.TrimSpace(tag)),
		ScriptID:   scriptID,
		Generation: 1,
		PageSize:   s.cfg.PageSize,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.TTL),
		pages:      make(map[int]*Page),
	}

	s.mu.Lock()
	if old, ok := s.byViewer[viewer]; ok {
		delete(s.views, old)
	}
	s.views[v.ID] = v
	s.byViewer[viewer] = v.ID
	s.mu.Unlock()

	s.logger.Debug().Str("view_id", v.ID.String()).Str("participant", viewer).Str("tag", v.Tag).Msg("view opened")
	return v.snapshot(), nil
}

// Page returns page n (1-based) of the view, regenerating an expired view
// first, and pushes it to the viewer as a listing. The store is read without
// holding the service lock; a page fetched for a generation that was replaced
// meanwhile is returned but not cached.
func (s *Service) Page(ctx context.Context, viewID uuid.UUID, n int) (*Page, error) {
	if n < 1 {
		return nil, ErrPageOutOfRange
	}
	s.mu.Lock()
	v, ok := s.views[viewID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrViewNotFound
	}
	if v.expired(s.clock.Now()) {
		s.regenerate(v)
	}
	if page, ok := v.pages[n]; ok {
		s.mu.Unlock()
		return page, nil
	}
	snap := v.snapshot()
	s.mu.Unlock()

	list, err := s.profiles.List(ctx, profile.Filter{Tag: snap.Tag, Exclude: []string{snap.Viewer}}, snap.PageSize+1, (n-1)*snap.PageSize)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 && n > 1 {
		return nil, ErrPageOutOfRange
	}
	page := &Page{
		ViewID:     snap.ID,
		Generation: snap.Generation,
		Number:     n,
		HasMore:    len(list) > snap.PageSize,
		Candidates: make([]Candidate, 0, len(list)),
	}
	if page.HasMore {
		list = list[:snap.PageSize]
	}
	for _, p := range list {
		page.Candidates = append(page.Candidates, Candidate{
			ParticipantID: p.ParticipantID,
			DisplayName:   p.Name(),
			Tags:          p.Tags,
			Answers:       p.Answers,
		})
	}

	s.mu.Lock()
	stored := false
	if cur, ok := s.views[viewID]; ok && cur.Generation == snap.Generation {
		if cached, ok := cur.pages[n]; ok {
			page = cached
		} else {
			cur.pages[n] = page
			stored = true
		}
	}
	s.mu.Unlock()
	if stored {
		s.pushListing(ctx, snap, page)
	}
	return page, nil
}

func (s *Service) pushListing(ctx context.Context, v *View, page *Page) {
	if s.transport == nil {
		return
	}
	msg := transport.Message{
		Kind:    transport.KindListing,
		Title:   fmt.Sprintf("Candidates, page %d", page.Number),
		Body:    v.ID.String(),
		Signals: []event.Signal{event.SignalSelect},
	}
	if len(page.Candidates) == 0 {
		msg.Body = "Nobody matches right now. Try again later."
	}
	for _, c := range page.Candidates {
		msg.Fields = append(msg.Fields, transport.Field{Name: c.ParticipantID, Value: c.DisplayName})
	}
	if _, err := s.transport.Send(context.WithoutCancel(ctx), event.DirectSurface(v.Viewer), msg); err != nil {
		s.logger.Debug().Err(err).Str("view_id", v.ID.String()).Msg("listing not delivered")
	}
}

// Regenerate redraws the view from the same criterion. It never initiates.
func (s *Service) Regenerate(ctx context.Context, viewID uuid.UUID) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[viewID]
	if !ok {
		return nil, ErrViewNotFound
	}
	s.regenerate(v)
	return v.snapshot(), nil
}

func (s *Service) regenerate(v *View) {
	v.Generation++
	v.ExpiresAt = s.clock.Now().Add(s.cfg.TTL)
	v.pages = make(map[int]*Page)
}

// OnSelection handles the viewer picking candidate from the view.
func (s *Service) OnSelection(ctx context.Context, viewID uuid.UUID, viewer, candidate string) (*neg.Session, error) {
	s.mu.Lock()
	v, ok := s.views[viewID]
	var snap *View
	if ok {
		snap = v.snapshot()
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrViewNotFound
	}
	if snap.Viewer != viewer {
		return nil, ErrNotViewer
	}
	if candidate == viewer {
		return nil, neg.ErrSelfPairing
	}
	p, err := s.profiles.Get(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if p == nil || (snap.Tag != "" && !p.HasTag(snap.Tag)) {
		return nil, ErrNotCandidate
	}

	session, err := s.negotiator.Initiate(ctx, viewer, candidate, snap.ScriptID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.byViewer[viewer] == viewID {
		delete(s.byViewer, viewer)
	}
	delete(s.views, viewID)
	s.mu.Unlock()

	s.logger.Info().
		Str("view_id", viewID.String()).
		Str("participant", viewer).
		Str("candidate", candidate).
		Str("session_id", session.ID.String()).
		Msg("candidate selected")
	return session, nil
}

// Prune drops views that expired more than one TTL ago.
func (s *Service) Prune() int {
	cutoff := s.clock.Now().Add(-s.cfg.TTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, v := range s.views {
		if v.ExpiresAt.Before(cutoff) {
			delete(s.views, id)
			if s.byViewer[v.Viewer] == id {
				delete(s.byViewer, v.Viewer)
			}
			n++
		}
	}
	return n
}
