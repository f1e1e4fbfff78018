// Package negotiation drives paired sessions through the negotiation state
// machine.
package negotiation

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

	"github.com/pairing-hub/pairing-hub/internal/application/dialog"
	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	neg "github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/profile"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
	"github.com/pairing-hub/pairing-hub/internal/domain/transport"
)

var ErrShuttingDown = errors.New("negotiation engine is shutting down")

const (
	defaultInvite      = "{initiator} would like to connect with you. React to accept or reject."
	defaultClosePrompt = "React to close this chat. Both of you need to accept."
)

// Config holds the default windows applied when a script leaves them unset.
type Config struct {
	InviteTimeout time.Duration
	AnswerTimeout time.Duration
	CloseTimeout  time.Duration
	CloseGrace    time.Duration
}

func DefaultConfig() Config {
	return Config{
		InviteTimeout: 60 * time.Second,
		AnswerTimeout: 300 * time.Second,
		CloseTimeout:  60 * time.Second,
		CloseGrace:    10 * time.Second,
	}
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine runs one goroutine per in-flight negotiation. The store arbitrates
// every status change; the engine only follows what the store accepted.
type Engine struct {
	repo      neg.Repository
	profiles  profile.Repository
	scripts   *script.Catalog
	runner    *dialog.Runner
	transport transport.Transport
	clock     clockwork.Clock
	cfg       Config
	logger    zerolog.Logger

	base    context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	runs      map[uuid.UUID]*run
	closing   map[uuid.UUID]struct{}
	teardowns map[string]clockwork.Timer
	stopped   bool
}

func NewEngine(
	repo neg.Repository,
	profiles profile.Repository,
	scripts *script.Catalog,
	runner *dialog.Runner,
	tr transport.Transport,
	clk clockwork.Clock,
	cfg Config,
	logger zerolog.Logger,
) *Engine {
	def := DefaultConfig()
	if cfg.InviteTimeout <= 0 {
		cfg.InviteTimeout = def.InviteTimeout
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = def.AnswerTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.CloseGrace < 0 {
		cfg.CloseGrace = 0
	}
	base, stop := context.WithCancel(context.Background())
	return &Engine{
		repo:      repo,
		profiles:  profiles,
		scripts:   scripts,
		runner:    runner,
		transport: tr,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.With().Str("service", "negotiation").Logger(),
		base:      base,
		stopAll:   stop,
		runs:      make(map[uuid.UUID]*run),
		closing:   make(map[uuid.UUID]struct{}),
		teardowns: make(map[string]clockwork.Timer),
	}
}

// Initiate creates a PENDING session between initiator and counterpart and
// starts its flow. Validation and timeouts inside the flow never surface here;
// they end as terminal transitions plus notifications.
func (e *Engine) Initiate(ctx context.Context, initiator, counterpart, scriptID string) (*neg.Session, error) {
	initiator = strings.TrimSpace(initiator)
	counterpart = strings.TrimSpace(counterpart)
	if initiator == "" || counterpart == "" {
		return nil, fmt.Errorf("initiator and counterpart are required")
	}
	if initiator == counterpart {
		return nil, neg.ErrSelfPairing
	}
	sc, ok := e.scripts.Get(scriptID)
	if !ok || scriptID == script.RegistrationID {
		return nil, fmt.Errorf("%w: %s", neg.ErrUnknownScript, scriptID)
	}
	if e.isStopped() {
		return nil, ErrShuttingDown
	}
	if sc.RequireProfiles {
		for _, p := range []string{initiator, counterpart} {
			if err := e.requireProfile(ctx, p); err != nil {
				return nil, err
			}
		}
	}

	release, err := e.runner.Hold(dialog.OwnerNegotiation, initiator, counterpart)
	if err != nil {
		return nil, err
	}

	s := neg.NewSession(sc.ID, initiator, counterpart, e.clock.Now())
	if err := e.repo.TryCreate(ctx, s); err != nil {
		release()
		var active *neg.AlreadyActiveError
		if errors.As(err, &active) {
			e.remindActive(ctx, s, active)
		}
		return nil, err
	}

	e.logger.Info().
		Str("session_id", s.ID.String()).
		Str("initiator", initiator).
		Str("counterpart", counterpart).
		Str("script", sc.ID).
		Msg("negotiation initiated")

	out := *s
	e.spawn(s, sc, release)
	return &out, nil
}

func (e *Engine) requireProfile(ctx context.Context, participant string) error {
	p, err := e.profiles.Get(ctx, participant)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", neg.ErrNotRegistered, participant)
	}
	return nil
}

// remindActive points the initiator at the session that blocks them and, when
// that session already has a private surface, nudges it.
func (e *Engine) remindActive(ctx context.Context, attempted *neg.Session, active *neg.AlreadyActiveError) {
	ctx = context.WithoutCancel(ctx)
	body := "You already have an active negotiation. Finish or close it first."
	if active.Participant != "" && active.Participant != attempted.Initiator {
		body = fmt.Sprintf("%s is already in an active negotiation.", active.Participant)
	}
	sessionID := active.SessionID
	e.runner.Notify(ctx, event.DirectSurface(attempted.Initiator), transport.Message{
		Kind:      transport.KindNotice,
		Body:      body,
		SessionID: &sessionID,
	})

	existing, err := e.repo.GetByID(ctx, active.SessionID)
	if err != nil || existing == nil || existing.Surface() == "" {
		return
	}
	e.runner.Notify(ctx, existing.Surface(), transport.Message{
		Kind:      transport.KindNotice,
		Body:      fmt.Sprintf("%s tried to start another negotiation. This chat is still open.", attempted.Initiator),
		Mentions:  []string{attempted.Initiator},
		SessionID: &sessionID,
	})
}

// spawn runs the session's flow. release is called once the flow exits.
func (e *Engine) spawn(s *neg.Session, sc *script.Script, release func()) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		release()
		e.logger.Warn().Str("session_id", s.ID.String()).Msg("engine stopped, session left for recovery")
		return
	}
	ctx, cancel := context.WithCancel(e.base)
	r := &run{cancel: cancel, done: make(chan struct{})}
	e.runs[s.ID] = r
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer close(r.done)
		defer cancel()
		defer e.forget(s.ID, r)
		defer release()
		e.negotiate(ctx, s, sc)
	}()
}

func (e *Engine) forget(id uuid.UUID, r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs[id] == r {
		delete(e.runs, id)
	}
}

func (e *Engine) running(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[id]
	return ok
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// done returns a channel closed when the session's flow has exited.
func (e *Engine) done(id uuid.UUID) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runs[id]; ok {
		return r.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// cancelRun stops the session's flow and waits for it to exit.
func (e *Engine) cancelRun(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) scriptFor(s *neg.Session) *script.Script {
	if sc, ok := e.scripts.Get(s.ScriptID); ok {
		return sc
	}
	return &script.Script{ID: s.ScriptID, Title: s.ScriptID}
}

func (e *Engine) vars(ctx context.Context, s *neg.Session) map[string]string {
	return map[string]string{
		"initiator":   e.displayName(ctx, s.Initiator),
		"counterpart": e.displayName(ctx, s.Counterpart),
	}
}

func (e *Engine) displayName(ctx context.Context, participant string) string {
	p, err := e.profiles.Get(ctx, participant)
	if err != nil || p == nil {
		return participant
	}
	return p.Name()
}

func (e *Engine) stepTimeout(st script.Step) time.Duration {
	if st.Kind == script.StepConfirm {
		return st.TimeoutOr(e.cfg.InviteTimeout)
	}
	return st.TimeoutOr(e.cfg.AnswerTimeout)
}

func (e *Engine) inviteTimeout(sc *script.Script) time.Duration {
	if sc.InviteTimeout > 0 {
		return sc.InviteTimeout
	}
	return e.cfg.InviteTimeout
}

func (e *Engine) closeTimeout(sc *script.Script) time.Duration {
	if sc.CloseTimeout > 0 {
		return sc.CloseTimeout
	}
	return e.cfg.CloseTimeout
}

// ActiveSessionFor returns the participant's active session, else their most
// recent confirmed one, else nil.
func (e *Engine) ActiveSessionFor(ctx context.Context, participant string) (*neg.Session, error) {
	return e.repo.GetActiveFor(ctx, participant)
}

func (e *Engine) Get(ctx context.Context, sessionID uuid.UUID) (*neg.Session, error) {
	s, err := e.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, neg.ErrNotFound
	}
	return s, nil
}

func (e *Engine) History(ctx context.Context, participant string, limit, offset int) ([]*neg.CompletedPairing, error) {
	return e.repo.ListCompleted(ctx, participant, limit, offset)
}

// ProcessStale times out active sessions older than olderThan that have no
// flow in this process.
func (e *Engine) ProcessStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	recovered, _, err := e.timeOutStale(ctx, e.clock.Now().Add(-olderThan), limit)
	if recovered > 0 {
		e.logger.Info().Int("count", recovered).Msg("stale sessions timed out")
	}
	return recovered, err
}

// RecoverOrphans times out every active session created before before, i.e.
// those left behind by a previous process. It waits until ready is closed or
// grace has passed so the closing notices have a stream to go to.
func (e *Engine) RecoverOrphans(ctx context.Context, before time.Time, ready <-chan struct{}, grace time.Duration, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	select {
	case <-ready:
	case <-e.clock.After(grace):
		e.logger.Warn().Dur("grace", grace).Msg("no bridge connected, recovering orphans anyway")
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	total := 0
	for {
		recovered, listed, err := e.timeOutStale(ctx, before, batch)
		total += recovered
		if err != nil {
			return total, err
		}
		if listed < batch || recovered == 0 {
			break
		}
	}
	if total > 0 {
		e.logger.Info().Int("count", total).Msg("orphaned sessions timed out")
	}
	return total, nil
}

// timeOutStale returns how many sessions it timed out and how many the store
// listed.
func (e *Engine) timeOutStale(ctx context.Context, before time.Time, limit int) (int, int, error) {
	stale, err := e.repo.ListStale(ctx, before, limit)
	if err != nil {
		return 0, 0, err
	}
	recovered := 0
	for _, s := range stale {
		if e.running(s.ID) {
			continue
		}
		if err := e.finish(ctx, s, s.Status, neg.StatusTimedOut, "expired without a response"); err == nil {
			recovered++
		}
	}
	return recovered, len(stale), nil
}

// PurgeTerminal removes rejected and timed-out sessions older than retention.
func (e *Engine) PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := e.repo.PurgeTerminal(ctx, e.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info().Int64("count", n).Msg("terminal sessions purged")
	}
	return n, nil
}

// Shutdown cancels every outstanding wait, tears down surfaces pending
// destruction and waits for flows to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	pending := e.teardowns
	e.teardowns = make(map[string]clockwork.Timer)
	e.mu.Unlock()

	e.stopAll()
	for surfaceID, t := range pending {
		if t.Stop() {
			e.destroySurface(ctx, surfaceID)
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
