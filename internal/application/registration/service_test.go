package registration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairing-hub/pairing-hub/internal/application/correlator"
	"github.com/pairing-hub/pairing-hub/internal/application/dialog"
	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	neg "github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
	"github.com/pairing-hub/pairing-hub/internal/domain/transport"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/bus"
	"github.com/pairing-hub/pairing-hub/internal/infrastructure/sqlite"
)

type recordingTransport struct {
	mu       sync.Mutex
	sent     []transport.Message
	surfaces []string
	next     int
}

func (r *recordingTransport) Send(_ context.Context, surfaceID string, msg transport.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	r.surfaces = append(r.surfaces, surfaceID)
	return "m", nil
}

func (r *recordingTransport) CreatePrivateSurface(context.Context, []string) (string, error) {
	return "", nil
}

func (r *recordingTransport) DestroySurface(context.Context, string) error {
	return nil
}

// nextOf waits for the next message of kind, skipping any before it.
func (r *recordingTransport) nextOf(t *testing.T, kind transport.MessageKind) transport.Message {
	t.Helper()
	var found transport.Message
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for r.next < len(r.sent) {
			msg := r.sent[r.next]
			r.next++
			if msg.Kind == kind {
				found = msg
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)
	return found
}

type fixture struct {
	svc    *Service
	runner *dialog.Runner
	bus    *bus.Bus
	clock  *clockwork.FakeClock
	tr     *recordingTransport
	repo   *sqlite.ProfileRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	catalog, err := script.Default()
	require.NoError(t, err)

	f := &fixture{
		bus:   bus.New(16, zerolog.Nop()),
		clock: clockwork.NewFakeClock(),
		tr:    &recordingTransport{},
		repo:  sqlite.NewProfileRepository(db),
	}
	f.runner = dialog.NewRunner(correlator.New(f.bus, zerolog.Nop()), f.tr, f.clock, zerolog.Nop())
	f.svc = NewService(f.repo, catalog, f.runner, f.clock, 300*time.Second, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.svc.Shutdown(ctx)
	})
	return f
}

// holding reports whether a registration still holds the participant's
// direct surface.
func (f *fixture) holding(participant string) bool {
	release, err := f.runner.Hold(dialog.OwnerNegotiation, participant)
	if err != nil {
		return true
	}
	release()
	return false
}

func (f *fixture) answer(t *testing.T, participant, prompt, text string) {
	t.Helper()
	msg := f.tr.nextOf(t, transport.KindPrompt)
	require.Equal(t, prompt, msg.Body)
	f.bus.Publish(event.Inbound{
		EventID:       uuid.New(),
		ParticipantID: participant,
		SourceID:      event.DirectSurface(participant),
		Kind:          event.KindMessage,
		Text:          text,
	})
}

func TestStart_CompletesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, "ada", "Ada", []string{"Hiking", "hiking"}))
	assert.ErrorIs(t, f.svc.Start(ctx, "ada", "Ada", nil), ErrRegistrationInProgress)

	f.answer(t, "ada", "How old are you?", "17")
	f.answer(t, "ada", "Please enter your age as a whole number between 18 and 89.", "30")
	f.answer(t, "ada", "Where are you located?", "Berlin")
	f.answer(t, "ada", "What's your favourite colour?", "green")
	f.answer(t, "ada", "What's your favourite animal?", "otter")
	f.answer(t, "ada", "How tall are you?", "170cm")
	f.answer(t, "ada", "What makes you happy?", "sunny days")

	assert.Eventually(t, func() bool { return !f.holding("ada") }, 2*time.Second, 2*time.Millisecond)
	p, err := f.svc.Get(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Equal(t, []string{"hiking"}, p.Tags)
	require.Len(t, p.Answers, 6)
	age, ok := p.Answer("age")
	require.True(t, ok)
	assert.Equal(t, script.AnswerInteger, age.Kind)
	assert.Equal(t, int64(30), age.Int)
	happy, _ := p.Answer("happy_reason")
	assert.Equal(t, "sunny days", happy.Text)

	done := f.tr.nextOf(t, transport.KindNotice)
	assert.Equal(t, "You're registered!", done.Body)
}

func TestRegister_TimeoutSavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := f.svc.Register(ctx, "bob", "", nil)
		errCh <- err
	}()
	f.answer(t, "bob", "How old are you?", "42")
	f.tr.nextOf(t, transport.KindPrompt)
	f.clock.Advance(300 * time.Second)

	assert.ErrorIs(t, <-errCh, neg.ErrTimeout)
	_, err := f.svc.Get(ctx, "bob")
	assert.ErrorIs(t, err, neg.ErrNotRegistered)
	notice := f.tr.nextOf(t, transport.KindNotice)
	assert.Contains(t, notice.Body, "timed out")
	assert.False(t, f.holding("bob"))
}

func TestStart_Validation(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.svc.Start(context.Background(), "  ", "", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))
	assert.ErrorIs(t, f.svc.Start(context.Background(), "ada", "", nil), ErrShuttingDown)
}

func TestStart_RefusedDuringNegotiation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release, err := f.runner.Hold(dialog.OwnerNegotiation, "cleo", "dev")
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Start(ctx, "cleo", "Cleo", nil), dialog.ErrParticipantBusy)
	assert.ErrorIs(t, f.svc.Start(ctx, "cleo", "Cleo", nil), dialog.ErrParticipantBusy, "a refused start leaves nothing in progress")

	release()
	require.NoError(t, f.svc.Start(ctx, "cleo", "Cleo", nil))
	f.tr.nextOf(t, transport.KindPrompt)
	_, err = f.runner.Hold(dialog.OwnerNegotiation, "cleo")
	assert.ErrorIs(t, err, dialog.ErrParticipantBusy)
}
