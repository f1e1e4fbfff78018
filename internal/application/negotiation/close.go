package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pairing-hub/pairing-hub/internal/application/dialog"
	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	neg "github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
	"github.com/pairing-hub/pairing-hub/internal/domain/transport"
)

// RequestClose closes the participant's session. A session still being
// negotiated is withdrawn at once; a confirmed one runs the closing handshake
// and returns its outcome.
func (e *Engine) RequestClose(ctx context.Context, participant string, sessionID uuid.UUID) error {
	s, err := e.authorize(ctx, participant, sessionID)
	if err != nil {
		return err
	}
	if s.Status.IsActive() {
		return e.withdraw(ctx, participant, s)
	}
	if s.Status != neg.StatusConfirmed {
		return fmt.Errorf("%w: %s", neg.ErrNotConfirmed, s.Status)
	}
	if err := e.beginClosing(s.ID); err != nil {
		return err
	}
	defer e.endClosing(s.ID)

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.base, cancel)
	defer stop()
	return e.handshake(hctx, participant, s)
}

// StartClose validates a close request and runs the handshake in the
// background.
func (e *Engine) StartClose(ctx context.Context, participant string, sessionID uuid.UUID) error {
	s, err := e.authorize(ctx, participant, sessionID)
	if err != nil {
		return err
	}
	if s.Status.IsActive() {
		return e.withdraw(ctx, participant, s)
	}
	if s.Status != neg.StatusConfirmed {
		return fmt.Errorf("%w: %s", neg.ErrNotConfirmed, s.Status)
	}
	if err := e.beginClosing(s.ID); err != nil {
		return err
	}
	go func() {
		defer e.endClosing(s.ID)
		if err := e.handshake(e.base, participant, s); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Info().Err(err).Str("session_id", s.ID.String()).Msg("close request failed")
		}
	}()
	return nil
}

func (e *Engine) authorize(ctx context.Context, participant string, sessionID uuid.UUID) (*neg.Session, error) {
	s, err := e.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Involves(participant) {
		return nil, neg.ErrNotParticipant
	}
	return s, nil
}

func (e *Engine) beginClosing(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrShuttingDown
	}
	if _, ok := e.closing[id]; ok {
		return neg.ErrCloseInProgress
	}
	e.closing[id] = struct{}{}
	e.wg.Add(1)
	return nil
}

func (e *Engine) endClosing(id uuid.UUID) {
	e.mu.Lock()
	delete(e.closing, id)
	e.mu.Unlock()
	e.wg.Done()
}

// withdraw stops the session's flow and closes it from whatever active status
// the store holds once the flow has exited.
func (e *Engine) withdraw(ctx context.Context, participant string, s *neg.Session) error {
	if err := e.cancelRun(ctx, s.ID); err != nil {
		return err
	}
	cur, err := e.Get(ctx, s.ID)
	if err != nil {
		return err
	}
	if !cur.Status.IsActive() {
		return fmt.Errorf("%w: now %s", neg.ErrStaleTransition, cur.Status)
	}
	return e.finish(ctx, cur, cur.Status, neg.StatusClosed, e.displayName(ctx, participant)+" withdrew")
}

// handshake asks both participants to accept the close within one deadline.
// Any rejection or a missing accept leaves the session CONFIRMED.
func (e *Engine) handshake(ctx context.Context, participant string, s *neg.Session) error {
	sc := e.scriptFor(s)
	vars := e.vars(ctx, s)
	body := sc.ClosePrompt
	if body == "" {
		body = defaultClosePrompt
	}
	logger := e.logger.With().Str("session_id", s.ID.String()).Logger()
	logger.Info().Str("participant", participant).Msg("close requested")

	_, err := e.runner.AskEach(ctx, dialog.Prompt{
		SurfaceID:  s.Surface(),
		Responders: []string{s.Initiator, s.Counterpart},
		Kind:       event.KindReaction,
		Signals:    decisionSignals,
		Message: transport.Message{
			Kind:      transport.KindPrompt,
			Title:     sc.Title,
			Body:      script.Render(body, vars),
			Mentions:  []string{s.Initiator, s.Counterpart},
			Signals:   decisionSignals,
			SessionID: &s.ID,
		},
		Timeout: e.closeTimeout(sc),
	}, func(in event.Inbound) error {
		if in.Signal == event.SignalReject {
			return neg.ErrDeclined
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Info().Err(err).Msg("closing handshake failed")
		e.runner.Notify(context.WithoutCancel(ctx), s.Surface(), transport.Message{
			Kind:      transport.KindNotice,
			Body:      "The close request needs an accept from both of you. The chat stays open.",
			SessionID: &s.ID,
		})
		return fmt.Errorf("%w: %w", neg.ErrHandshakeFailed, err)
	}
	return e.closeConfirmed(ctx, s)
}

func (e *Engine) closeConfirmed(ctx context.Context, s *neg.Session) error {
	now := e.clock.Now()
	err := e.repo.Close(ctx, s.ID, now)
	if err != nil && neg.IsStoreError(err) {
		cur, gerr := e.repo.GetByID(ctx, s.ID)
		switch {
		case gerr != nil:
		case cur == nil:
			err = nil
		case cur.Status == neg.StatusConfirmed:
			e.logger.Warn().Err(err).Str("session_id", s.ID.String()).Msg("retrying close after store fault")
			err = e.repo.Close(ctx, s.ID, now)
		}
	}
	if err != nil {
		return err
	}
	s.Status = neg.StatusClosed
	s.UpdatedAt = now.UTC()
	e.logger.Info().Str("session_id", s.ID.String()).Msg("negotiation closed")
	e.notifyParties(ctx, s, neg.StatusClosed, "both of you agreed")
	e.scheduleTeardown(s.Surface())
	return nil
}

// scheduleTeardown destroys the surface after the close grace period.
func (e *Engine) scheduleTeardown(surfaceID string) {
	if surfaceID == "" {
		return
	}
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		e.destroySurface(context.Background(), surfaceID)
		return
	}
	e.teardowns[surfaceID] = e.clock.AfterFunc(e.cfg.CloseGrace, func() {
		e.mu.Lock()
		delete(e.teardowns, surfaceID)
		e.mu.Unlock()
		e.destroySurface(context.Background(), surfaceID)
	})
	e.mu.Unlock()
}

func (e *Engine) destroySurface(ctx context.Context, surfaceID string) {
	if err := e.transport.DestroySurface(ctx, surfaceID); err != nil {
		ev := e.logger.Warn()
		if errors.Is(err, transport.ErrSurfaceNotFound) {
			ev = e.logger.Debug()
		}
		ev.Err(err).Str("surface_id", surfaceID).Msg("failed to destroy surface")
	}
}
