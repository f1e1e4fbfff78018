package browser

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	neg "github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/profile"
	"github.com/pairing-hub/pairing-hub/internal/domain/transport"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/sqlite"
)

type fakeNegotiator struct {
	mu        sync.Mutex
	active    map[string]*neg.Session
	initiated [][3]string
}

func (f *fakeNegotiator) Initiate(_ context.Context, initiator, counterpart, scriptID string) (*neg.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated = append(f.initiated, [3]string{initiator, counterpart, scriptID})
	return neg.NewSession(scriptID, initiator, counterpart, time.Now()), nil
}

func (f *fakeNegotiator) ActiveSessionFor(_ context.Context, participant string) (*neg.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[participant], nil
}

type listingTransport struct {
	mu       sync.Mutex
	listings map[string]int
}

func (l *listingTransport) Send(_ context.Context, surfaceID string, msg transport.Message) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if msg.Kind == transport.KindListing {
		l.listings[surfaceID]++
	}
	return "m", nil
}

func (l *listingTransport) CreatePrivateSurface(context.Context, []string) (string, error) {
	return "", nil
}

func (l *listingTransport) DestroySurface(context.Context, string) error {
	return nil
}

type fixture struct {
	svc   *Service
	neg   *fakeNegotiator
	tr    *listingTransport
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := sqlite.NewProfileRepository(db)

	clk := clockwork.NewFakeClock()
	save := func(id string, tags ...string) {
		require.NoError(t, repo.Save(ctx, profile.NewProfile(id, "", tags, nil, clk.Now())))
	}
	save("viewer", "hiking")
	for i := 1; i <= 7; i++ {
		save(fmt.Sprintf("c%d", i), "hiking")
	}
	save("loner", "chess")

	f := &fixture{
		neg:   &fakeNegotiator{active: make(map[string]*neg.Session)},
		tr:    &listingTransport{listings: make(map[string]int)},
		clock: clk,
	}
	f.svc = NewService(repo, f.neg, f.tr, clk, Config{TTL: time.Hour, PageSize: 3}, zerolog.Nop())
	return f
}

func ids(p *Page) []string {
	out := make([]string, 0, len(p.Candidates))
	for _, c := range p.Candidates {
		out = append(out, c.ParticipantID)
	}
	return out
}

func TestOpen_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, "stranger", "hiking", "")
	assert.ErrorIs(t, err, neg.ErrNotRegistered)

	pending := neg.NewSession("swipe", "viewer", "c1", time.Now())
	f.neg.active["viewer"] = pending
	_, err = f.svc.Open(ctx, "viewer", "hiking", "")
	assert.ErrorIs(t, err, neg.ErrAlreadyActive)

	pending.Status = neg.StatusConfirmed
	v, err := f.svc.Open(ctx, "viewer", "hiking", "")
	require.NoError(t, err)
	assert.Equal(t, "swipe", v.ScriptID)
	assert.Equal(t, 1, v.Generation)
}

func TestPage_LazyPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Open(ctx, "viewer", "Hiking", "")
	require.NoError(t, err)

	first, err := f.svc.Page(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids(first))
	assert.True(t, first.HasMore)

	last, err := f.svc.Page(ctx, v.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"c7"}, ids(last))
	assert.False(t, last.HasMore)

	_, err = f.svc.Page(ctx, v.ID, 4)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	_, err = f.svc.Page(ctx, v.ID, 0)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	_, err = f.svc.Page(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, ErrViewNotFound)

	again, err := f.svc.Page(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 2, f.tr.listings["dm:viewer"])
}

func TestRegenerate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Open(ctx, "viewer", "hiking", "")
	require.NoError(t, err)
	before, err := f.svc.Page(ctx, v.ID, 1)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.svc.Regenerate(ctx, v.ID)
		require.NoError(t, err)
	}
	after, err := f.svc.Page(ctx, v.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, 4, after.Generation)
	assert.Equal(t, ids(before), ids(after))
	assert.Empty(t, f.neg.initiated)
}

func TestPage_ExpiredViewRegenerates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Open(ctx, "viewer", "hiking", "")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	page, err := f.svc.Page(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Generation)

	f.clock.Advance(3 * time.Hour)
	assert.Equal(t, 1, f.svc.Prune())
	_, err = f.svc.Page(ctx, v.ID, 1)
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestOnSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Open(ctx, "viewer", "hiking", "match")
	require.NoError(t, err)

	_, err = f.svc.OnSelection(ctx, v.ID, "c1", "c2")
	assert.ErrorIs(t, err, ErrNotViewer)
	_, err = f.svc.OnSelection(ctx, v.ID, "viewer", "loner")
	assert.ErrorIs(t, err, ErrNotCandidate)
	_, err = f.svc.OnSelection(ctx, v.ID, "viewer", "viewer")
	assert.ErrorIs(t, err, neg.ErrSelfPairing)

	s, err := f.svc.OnSelection(ctx, v.ID, "viewer", "c2")
	require.NoError(t, err)
	assert.Equal(t, "c2", s.Counterpart)
	assert.Equal(t, [][3]string{{"viewer", "c2", "match"}}, f.neg.initiated)

	_, err = f.svc.OnSelection(ctx, v.ID, "viewer", "c3")
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestOpen_ReplacesPreviousView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Open(ctx, "viewer", "hiking", "")
	require.NoError(t, err)
	second, err := f.svc.Open(ctx, "viewer", "chess", "")
	require.NoError(t, err)

	_, err = f.svc.Page(ctx, first.ID, 1)
	assert.ErrorIs(t, err, ErrViewNotFound)
	page, err := f.svc.Page(ctx, second.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"loner"}, ids(page))
}
