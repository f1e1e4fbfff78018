package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pairing-hub/pairing-hub/internal/application/dialog"
	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	neg "github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
	"github.com/pairing-hub/pairing-hub/internal/domain/transport"
)

var decisionSignals = []event.Signal{event.SignalAccept, event.SignalReject}

// negotiate runs one session from PENDING to CONFIRMED or a terminal status.
// Answers stay in memory until the CONFIRMED write.
func (e *Engine) negotiate(ctx context.Context, s *neg.Session, sc *script.Script) {
	logger := e.logger.With().Str("session_id", s.ID.String()).Logger()
	vars := e.vars(ctx, s)
	var answers []script.Answer

	for _, st := range sc.StepsIn(script.PhaseBeforeInvite) {
		ans, err := e.ask(ctx, s, sc, st, vars)
		if err != nil {
			e.abort(ctx, logger, s, neg.StatusPending, st.Key, err)
			return
		}
		if st.Kind == script.StepConfirm && !ans.Bool {
			_ = e.finish(ctx, s, neg.StatusPending, neg.StatusRejected, vars["initiator"]+" cancelled the request")
			return
		}
		answers = append(answers, ans)
	}

	x := e.runner.Open(dialog.Prompt{
		SurfaceID:  event.DirectSurface(s.Counterpart),
		Responders: []string{s.Counterpart},
		Kind:       event.KindReaction,
		Signals:    decisionSignals,
		Message:    e.inviteMessage(ctx, s, sc, vars),
		Timeout:    e.inviteTimeout(sc),
	})
	if err := x.Send(ctx); err != nil {
		x.Close()
		e.abort(ctx, logger, s, neg.StatusPending, "invite", err)
		return
	}
	if err := e.transition(ctx, s, neg.StatusPending, neg.StatusAwaitingResponse, neg.Update{}); err != nil {
		x.Close()
		logger.Warn().Err(err).Msg("invite sent but session moved on")
		return
	}
	reply, err := x.Wait(ctx, nil)
	x.Close()
	if err != nil {
		e.abort(ctx, logger, s, neg.StatusAwaitingResponse, "invite", err)
		return
	}
	if reply.Signal == event.SignalReject {
		_ = e.finish(ctx, s, neg.StatusAwaitingResponse, neg.StatusRejected, vars["counterpart"]+" declined")
		return
	}

	for _, st := range sc.StepsIn(script.PhaseAfterAccept) {
		ans, err := e.ask(ctx, s, sc, st, vars)
		if err != nil {
			e.abort(ctx, logger, s, neg.StatusAwaitingResponse, st.Key, err)
			return
		}
		answers = append(answers, ans)
	}

	surface, err := e.transport.CreatePrivateSurface(ctx, []string{s.Initiator, s.Counterpart})
	if err != nil {
		e.abort(ctx, logger, s, neg.StatusAwaitingResponse, "surface", err)
		return
	}
	update := neg.Update{Answers: answers, SurfaceID: &surface}
	if err := e.transition(ctx, s, neg.StatusAwaitingResponse, neg.StatusConfirmed, update); err != nil {
		e.destroySurface(context.WithoutCancel(ctx), surface)
		if ctx.Err() != nil || errors.Is(err, neg.ErrStaleTransition) || errors.Is(err, neg.ErrNotFound) {
			logger.Info().Err(err).Msg("confirmation superseded")
			return
		}
		e.abort(ctx, logger, s, neg.StatusAwaitingResponse, "confirm", err)
		return
	}

	logger.Info().Str("surface_id", surface).Int("answers", len(answers)).Msg("negotiation confirmed")
	e.welcome(ctx, s, sc, vars)
}

func (e *Engine) ask(ctx context.Context, s *neg.Session, sc *script.Script, st script.Step, vars map[string]string) (script.Answer, error) {
	responder := s.Participant(st.Responder)
	return e.runner.RunStep(ctx, dialog.StepRequest{
		Step:           st,
		Responder:      responder,
		SurfaceID:      event.DirectSurface(responder),
		Title:          sc.Title,
		Vars:           vars,
		DefaultTimeout: e.stepTimeout(st),
		SessionID:      &s.ID,
	})
}

func (e *Engine) inviteMessage(ctx context.Context, s *neg.Session, sc *script.Script, vars map[string]string) transport.Message {
	body := sc.Invite
	if body == "" {
		body = defaultInvite
	}
	msg := transport.Message{
		Kind:      transport.KindInvite,
		Title:     sc.Title,
		Body:      script.Render(body, vars),
		Mentions:  []string{s.Counterpart},
		Signals:   decisionSignals,
		SessionID: &s.ID,
	}
	if !sc.ShareProfile {
		return msg
	}
	p, err := e.profiles.Get(ctx, s.Initiator)
	if err != nil || p == nil {
		return msg
	}
	for _, a := range p.Answers {
		msg.Fields = append(msg.Fields, transport.Field{Name: fieldName(a.Key), Value: a.String()})
	}
	return msg
}

func fieldName(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

func (e *Engine) welcome(ctx context.Context, s *neg.Session, sc *script.Script, vars map[string]string) {
	ctx = context.WithoutCancel(ctx)
	intro := transport.Message{
		Kind:      transport.KindNotice,
		Title:     sc.Title,
		Body:      script.Render("{initiator} and {counterpart}, you're connected. Say hi!", vars),
		Mentions:  []string{s.Initiator, s.Counterpart},
		SessionID: &s.ID,
	}
	for _, a := range s.Answers {
		intro.Fields = append(intro.Fields, transport.Field{Name: fieldName(a.Key), Value: a.String()})
	}
	e.runner.Notify(ctx, s.Surface(), intro)
	for _, p := range []string{s.Initiator, s.Counterpart} {
		e.runner.Notify(ctx, event.DirectSurface(p), transport.Message{
			Kind:      transport.KindNotice,
			Body:      fmt.Sprintf("You're connected with %s.", e.displayName(ctx, s.Other(p))),
			Fields:    []transport.Field{{Name: "surface", Value: s.Surface()}},
			SessionID: &s.ID,
		})
	}
}

// abort ends a flow that failed at step. A cancelled flow is left alone: the
// canceller owns the session's next transition.
func (e *Engine) abort(ctx context.Context, logger zerolog.Logger, s *neg.Session, from neg.Status, step string, err error) {
	if ctx.Err() != nil {
		logger.Debug().Str("step", step).Msg("flow cancelled")
		return
	}
	reason := "something went wrong"
	switch {
	case errors.Is(err, neg.ErrTimeout):
		reason = "no response in time"
		logger.Info().Str("step", step).Err(err).Msg("step timed out")
	case errors.Is(err, transport.ErrUndeliverable), errors.Is(err, transport.ErrSurfaceNotFound):
		reason = "the message could not be delivered"
		logger.Warn().Str("step", step).Err(err).Msg("step undeliverable")
	default:
		logger.Error().Str("step", step).Err(err).Msg("step failed")
	}
	_ = e.finish(ctx, s, from, neg.StatusTimedOut, reason)
}

// finish moves s to a terminal status and notifies both participants once.
// Only the caller whose write the store accepted sends notifications.
func (e *Engine) finish(ctx context.Context, s *neg.Session, from, to neg.Status, reason string) error {
	if err := e.transition(ctx, s, from, to, neg.Update{}); err != nil {
		ev := e.logger.Error()
		if errors.Is(err, neg.ErrStaleTransition) || errors.Is(err, neg.ErrNotFound) {
			ev = e.logger.Debug()
		}
		ev.Err(err).
			Str("session_id", s.ID.String()).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("terminal transition not applied")
		return err
	}
	e.logger.Info().
		Str("session_id", s.ID.String()).
		Str("status", string(to)).
		Str("reason", reason).
		Msg("negotiation finished")
	e.notifyParties(ctx, s, to, reason)
	return nil
}

func (e *Engine) notifyParties(ctx context.Context, s *neg.Session, status neg.Status, reason string) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range []string{s.Initiator, s.Counterpart} {
		other := e.displayName(ctx, s.Other(p))
		var title, body string
		switch status {
		case neg.StatusRejected:
			title = "Negotiation rejected"
			body = fmt.Sprintf("Your negotiation with %s was rejected: %s.", other, reason)
		case neg.StatusClosed:
			title = "Chat closed"
			body = fmt.Sprintf("Your chat with %s is closed: %s.", other, reason)
		default:
			title = "Negotiation timed out"
			body = fmt.Sprintf("Your negotiation with %s timed out: %s.", other, reason)
		}
		e.runner.Notify(ctx, event.DirectSurface(p), transport.Message{
			Kind:      transport.KindNotice,
			Title:     title,
			Body:      body,
			SessionID: &s.ID,
		})
	}
}

// transition applies a compare-and-set status change. After a store fault the
// session is re-read: a committed write is accepted, a moved-on session is
// stale, and an unchanged one is retried once.
func (e *Engine) transition(ctx context.Context, s *neg.Session, from, to neg.Status, update neg.Update) error {
	if !neg.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", neg.ErrInvalidTransition, from, to)
	}
	if update.At.IsZero() {
		update.At = e.clock.Now()
	}
	err := e.repo.UpdateStatus(ctx, s.ID, from, to, update)
	if err != nil && neg.IsStoreError(err) {
		err = e.recoverTransition(ctx, s, from, to, update, err)
	}
	if err != nil {
		return err
	}
	s.Status = to
	s.UpdatedAt = update.At.UTC()
	if update.Answers != nil {
		s.Answers = update.Answers
	}
	if update.SurfaceID != nil {
		s.SurfaceID = update.SurfaceID
	}
	return nil
}

func (e *Engine) recoverTransition(ctx context.Context, s *neg.Session, from, to neg.Status, update neg.Update, cause error) error {
	cur, err := e.repo.GetByID(ctx, s.ID)
	if err != nil {
		return cause
	}
	switch {
	case cur == nil:
		return neg.ErrNotFound
	case cur.Status == to:
		return nil
	case cur.Status != from:
		return fmt.Errorf("%w: now %s", neg.ErrStaleTransition, cur.Status)
	}
	e.logger.Warn().
		Err(cause).
		Str("session_id", s.ID.String()).
		Str("to", string(to)).
		Msg("retrying status change after store fault")
	return e.repo.UpdateStatus(ctx, s.ID, from, to, update)
}
