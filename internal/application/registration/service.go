// Package registration collects a participant's profile over their direct
// surface.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/pairing-hub/pairing-hub/internal/application/dialog"
	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	neg "github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/profile"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
	"github.com/pairing-hub/pairing-hub/internal/domain/transport"
)

var (
	ErrRegistrationInProgress = errors.New("registration already in progress")
	ErrShuttingDown           = errors.New("registration service is shutting down")
)

// Service runs one registration dialog per participant at a time.
type Service struct {
	profiles      profile.Repository
	scripts       *script.Catalog
	runner        *dialog.Runner
	clock         clockwork.Clock
	answerTimeout time.Duration
	logger        zerolog.Logger

	base    context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	active  map[string]struct{}
	stopped bool
}

func NewService(
	profiles profile.Repository,
	scripts *script.Catalog,
	runner *dialog.Runner,
	clk clockwork.Clock,
	answerTimeout time.Duration,
	logger zerolog.Logger,
) *Service {
	if answerTimeout <= 0 {
		answerTimeout = 300 * time.Second
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		profiles:      profiles,
		scripts:       scripts,
		runner:        runner,
		clock:         clk,
		answerTimeout: answerTimeout,
		logger:        logger.With().Str("service", "registration").Logger(),
		base:          base,
		stopAll:       stop,
		active:        make(map[string]struct{}),
	}
}

// Start validates the request and runs the dialog in the background.
func (s *Service) Start(ctx context.Context, participant, displayName string, tags []string) error {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return profile.ErrMissingParticipant
	}
	sc, ok := s.scripts.Get(script.RegistrationID)
	if !ok {
		return fmt.Errorf("%w: %s", neg.ErrUnknownScript, script.RegistrationID)
	}
	release, err := s.claim(participant)
	if err != nil {
		return err
	}
	go func() {
		defer release()
		if _, err := s.run(s.base, sc, participant, displayName, tags); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Info().Err(err).Str("participant", participant).Msg("registration not completed")
		}
	}()
	return nil
}

// Register runs the dialog and returns the saved profile.
func (s *Service) Register(ctx context.Context, participant, displayName string, tags []string) (*profile.Profile, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return nil, profile.ErrMissingParticipant
	}
	sc, ok := s.scripts.Get(script.RegistrationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", neg.ErrUnknownScript, script.RegistrationID)
	}
	release, err := s.claim(participant)
	if err != nil {
		return nil, err
	}
	defer release()

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()
	return s.run(rctx, sc, participant, displayName, tags)
}

// Get returns the participant's profile or ErrNotRegistered.
func (s *Service) Get(ctx context.Context, participant string) (*profile.Profile, error) {
	p, err := s.profiles.Get(ctx, participant)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", neg.ErrNotRegistered, participant)
	}
	return p, nil
}

// claim marks the participant as registering and holds their direct surface
// so no negotiation prompts them at the same time.
func (s *Service) claim(participant string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrShuttingDown
	}
	if _, ok := s.active[participant]; ok {
		return nil, ErrRegistrationInProgress
	}
	unhold, err := s.runner.Hold(dialog.OwnerRegistration, participant)
	if err != nil {
		return nil, err
	}
	s.active[participant] = struct{}{}
	s.wg.Add(1)
	return func() {
		unhold()
		s.mu.Lock()
		delete(s.active, participant)
		s.mu.Unlock()
		s.wg.Done()
	}, nil
}

func (s *Service) run(ctx context.Context, sc *script.Script, participant, displayName string, tags []string) (*profile.Profile, error) {
	surface := event.DirectSurface(participant)
	logger := s.logger.With().Str("participant", participant).Logger()
	notify := func(body string) {
		s.runner.Notify(context.WithoutCancel(ctx), surface, transport.Message{
			Kind:  transport.KindNotice,
			Title: sc.Title,
			Body:  body,
		})
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = participant
	}
	vars := map[string]string{"name": name}
	answers := make([]script.Answer, 0, len(sc.Steps))
	for _, st := range sc.Steps {
		ans, err := s.runner.RunStep(ctx, dialog.StepRequest{
			Step:           st,
			Responder:      participant,
			SurfaceID:      surface,
			Title:          sc.Title,
			Vars:           vars,
			DefaultTimeout: s.answerTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, neg.ErrTimeout) {
				notify("Registration timed out. Start again whenever you're ready.")
			}
			logger.Info().Str("step", st.Key).Err(err).Msg("registration stopped")
			return nil, err
		}
		answers = append(answers, ans)
	}

	p := profile.NewProfile(participant, displayName, tags, answers, s.clock.Now())
	if err := s.profiles.Save(ctx, p); err != nil {
		logger.Error().Err(err).Msg("failed to save profile")
		notify("Something went wrong saving your profile. Please try again.")
		return nil, err
	}
	logger.Info().Int("answers", len(answers)).Msg("participant registered")
	notify("You're registered!")
	return p, nil
}

// Shutdown cancels running dialogs and waits for them to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.stopAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
