// Package dialog runs prompts against the platform: subscribe, arm the
// deadline, send, then wait.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/pairing-hub/pairing-hub/internal/application/await"
	"github.com/pairing-hub/pairing-hub/internal/application/correlator"
	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	"github.com/pairing-hub/pairing-hub/internal/domain/script"
	"github.com/pairing-hub/pairing-hub/internal/domain/transport"
)

const defaultInvalidPrompt = "That answer didn't work, please try again."

// ErrParticipantBusy is returned by Hold when another kind of flow already
// talks to the participant on their direct surface.
var ErrParticipantBusy = errors.New("participant is busy in another conversation")

// Owner names the kind of flow holding a participant's direct surface.
type Owner string

const (
	OwnerNegotiation  Owner = "negotiation"
	OwnerRegistration Owner = "registration"
)

type hold struct {
	owner Owner
	count int
}

// Prompt is one question sent to a surface and answered by responders.
type Prompt struct {
	SurfaceID  string
	Responders []string
	Kind       event.Kind
	Signals    []event.Signal
	Message    transport.Message
	// Invalid is sent back to the surface whenever a responder's answer is
	// rejected. Empty disables the re-prompt.
	Invalid string
	Timeout time.Duration
}

// StepRequest binds a script step to a concrete responder and surface.
type StepRequest struct {
	Step           script.Step
	Responder      string
	SurfaceID      string
	Title          string
	Vars           map[string]string
	DefaultTimeout time.Duration
	SessionID      *uuid.UUID
}

// Runner executes prompts.
type Runner struct {
	correlator *correlator.Correlator
	transport  transport.Transport
	clock      clockwork.Clock
	logger     zerolog.Logger

	mu    sync.Mutex
	holds map[string]*hold
}

func NewRunner(corr *correlator.Correlator, tr transport.Transport, clk clockwork.Clock, logger zerolog.Logger) *Runner {
	return &Runner{
		correlator: corr,
		transport:  tr,
		clock:      clk,
		logger:     logger.With().Str("service", "dialog").Logger(),
		holds:      make(map[string]*hold),
	}
}

// Hold reserves the direct surfaces of participants for owner. Two flows of
// the same owner may share a participant; any other owner gets
// ErrParticipantBusy. Nothing is reserved on error. The returned release is
// safe to call more than once.
func (r *Runner) Hold(owner Owner, participants ...string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range participants {
		if h, ok := r.holds[p]; ok && h.owner != owner {
			return nil, fmt.Errorf("%w: %s is in a %s", ErrParticipantBusy, p, h.owner)
		}
	}
	for _, p := range participants {
		h, ok := r.holds[p]
		if !ok {
			h = &hold{owner: owner}
			r.holds[p] = h
		}
		h.count++
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for _, p := range participants {
				h, ok := r.holds[p]
				if !ok {
					continue
				}
				if h.count--; h.count == 0 {
					delete(r.holds, p)
				}
			}
		})
	}, nil
}

// Exchange is an armed prompt. Its deadline runs from Open, so responses
// arriving right after Send are never missed.
type Exchange struct {
	runner *Runner
	prompt Prompt
	waiter *await.Waiter
}

// Open subscribes for the prompt's answers and arms its deadline.
func (r *Runner) Open(p Prompt) *Exchange {
	sub := r.correlator.Watch(correlator.Filter{
		Kind:       p.Kind,
		SourceID:   p.SurfaceID,
		Responders: p.Responders,
		Signals:    p.Signals,
	})
	return &Exchange{runner: r, prompt: p, waiter: await.Arm(r.clock, sub, p.Timeout)}
}

func (x *Exchange) Send(ctx context.Context) error {
	if _, err := x.runner.transport.Send(ctx, x.prompt.SurfaceID, x.prompt.Message); err != nil {
		return fmt.Errorf("send prompt to %s: %w", x.prompt.SurfaceID, err)
	}
	return nil
}

// Wait returns the first event validate accepts.
func (x *Exchange) Wait(ctx context.Context, validate await.Validator) (event.Inbound, error) {
	return x.waiter.Next(ctx, validate, x.reprompt(ctx))
}

// WaitEach waits for one accepted event from every responder.
func (x *Exchange) WaitEach(ctx context.Context, validate await.Validator) (map[string]event.Inbound, error) {
	return x.waiter.Each(ctx, x.prompt.Responders, validate, x.reprompt(ctx))
}

func (x *Exchange) Close() {
	x.waiter.Close()
}

func (x *Exchange) reprompt(ctx context.Context) await.InvalidFunc {
	p := x.prompt
	if p.Invalid == "" {
		return nil
	}
	logger := x.runner.logger
	return func(in event.Inbound, cause error) {
		logger.Debug().
			Str("participant", in.ParticipantID).
			Str("surface_id", p.SurfaceID).
			Err(cause).
			Msg("invalid response")
		msg := transport.Message{
			Kind:      transport.KindPrompt,
			Body:      p.Invalid,
			Mentions:  []string{in.ParticipantID},
			Signals:   p.Message.Signals,
			SessionID: p.Message.SessionID,
		}
		if _, err := x.runner.transport.Send(ctx, p.SurfaceID, msg); err != nil {
			logger.Warn().Err(err).Str("surface_id", p.SurfaceID).Msg("failed to re-prompt")
		}
	}
}

// Ask sends p and returns the first event validate accepts.
func (r *Runner) Ask(ctx context.Context, p Prompt, validate await.Validator) (event.Inbound, error) {
	x := r.Open(p)
	defer x.Close()
	if err := x.Send(ctx); err != nil {
		return event.Inbound{}, err
	}
	return x.Wait(ctx, validate)
}

// AskEach sends p and waits for one accepted event from every responder
// under a single deadline.
func (r *Runner) AskEach(ctx context.Context, p Prompt, validate await.Validator) (map[string]event.Inbound, error) {
	x := r.Open(p)
	defer x.Close()
	if err := x.Send(ctx); err != nil {
		return nil, err
	}
	return x.WaitEach(ctx, validate)
}

// RunStep asks a script step and returns the evaluated answer.
func (r *Runner) RunStep(ctx context.Context, req StepRequest) (script.Answer, error) {
	st := req.Step
	p := Prompt{
		SurfaceID:  req.SurfaceID,
		Responders: []string{req.Responder},
		Kind:       st.EventKind(),
		Message: transport.Message{
			Kind:      transport.KindPrompt,
			Title:     req.Title,
			Body:      script.Render(st.Prompt, req.Vars),
			Mentions:  []string{req.Responder},
			SessionID: req.SessionID,
		},
		Invalid: st.InvalidPrompt,
		Timeout: st.TimeoutOr(req.DefaultTimeout),
	}
	if p.Invalid == "" {
		p.Invalid = defaultInvalidPrompt
	}
	p.Invalid = script.Render(p.Invalid, req.Vars)
	if st.Kind == script.StepConfirm {
		p.Signals = []event.Signal{event.SignalAccept, event.SignalReject}
		p.Message.Signals = p.Signals
	}

	var answer script.Answer
	_, err := r.Ask(ctx, p, func(in event.Inbound) error {
		a, err := st.Evaluate(in)
		if err != nil {
			return err
		}
		answer = a
		return nil
	})
	if err != nil {
		return script.Answer{}, err
	}
	r.logger.Debug().
		Str("participant", req.Responder).
		Str("step", st.Key).
		Msg("step answered")
	return answer, nil
}

// Notify sends a notice and logs delivery failures. Notices are best effort.
func (r *Runner) Notify(ctx context.Context, surfaceID string, msg transport.Message) {
	if msg.Kind == "" {
		msg.Kind = transport.KindNotice
	}
	if _, err := r.transport.Send(ctx, surfaceID, msg); err != nil {
		ev := r.logger.Warn()
		if errors.Is(err, transport.ErrUndeliverable) {
			ev = r.logger.Info()
		}
		ev.Err(err).Str("surface_id", surfaceID).Msg("notice not delivered")
	}
}
