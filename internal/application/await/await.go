// Package await is the single timed-wait primitive every negotiation step uses.
package await

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pairing-hub/pairing-hub/internal/domain/event"
	"github.com/pairing-hub/pairing-hub/internal/domain/negotiation"
)

var ErrStreamClosed = errors.New("event stream closed")

// Validator inspects a candidate event. Returning an error that wraps
// negotiation.ErrInvalidResponse keeps the wait going; any other error ends it.
type Validator func(event.Inbound) error

// InvalidFunc is told about each rejected candidate, typically to re-prompt.
type InvalidFunc func(event.Inbound, error)

// Waiter is a subscription with a deadline armed at creation. The deadline is
// fixed: invalid responses never extend it.
type Waiter struct {
	sub      event.Subscription
	timer    clockwork.Timer
	deadline time.Time
}

// Arm starts the deadline for sub. Arm before sending the prompt so a fast
// response cannot race the subscription.
func Arm(clk clockwork.Clock, sub event.Subscription, timeout time.Duration) *Waiter {
	return &Waiter{
		sub:      sub,
		timer:    clk.NewTimer(timeout),
		deadline: clk.Now().Add(timeout),
	}
}

func (w *Waiter) Deadline() time.Time {
	return w.deadline
}

// Close stops the timer and detaches the subscription.
func (w *Waiter) Close() {
	w.timer.Stop()
	w.sub.Close()
}

// Next returns the first event accepted by validate.
func (w *Waiter) Next(ctx context.Context, validate Validator, onInvalid InvalidFunc) (event.Inbound, error) {
	for {
		select {
		case <-ctx.Done():
			return event.Inbound{}, ctx.Err()
		case <-w.timer.Chan():
			return event.Inbound{}, negotiation.ErrTimeout
		case in, ok := <-w.sub.Events():
			if !ok {
				return event.Inbound{}, ErrStreamClosed
			}
			if validate == nil {
				return in, nil
			}
			err := validate(in)
			if err == nil {
				return in, nil
			}
			if !errors.Is(err, negotiation.ErrInvalidResponse) {
				return in, err
			}
			if onInvalid != nil {
				onInvalid(in, err)
			}
		}
	}
}

// Each waits until every participant in want has produced one accepted event,
// all within the same deadline. Later events from a participant who already
// answered are ignored.
func (w *Waiter) Each(ctx context.Context, want []string, validate Validator, onInvalid InvalidFunc) (map[string]event.Inbound, error) {
	got := make(map[string]event.Inbound, len(want))
	pending := make(map[string]struct{}, len(want))
	for _, p := range want {
		pending[p] = struct{}{}
	}
	for len(pending) > 0 {
		in, err := w.Next(ctx, func(in event.Inbound) error {
			if _, ok := pending[in.ParticipantID]; !ok {
				return negotiation.ErrInvalidResponse
			}
			if validate == nil {
				return nil
			}
			return validate(in)
		}, func(in event.Inbound, err error) {
			if _, ok := pending[in.ParticipantID]; ok && onInvalid != nil {
				onInvalid(in, err)
			}
		})
		if err != nil {
			return got, err
		}
		got[in.ParticipantID] = in
		delete(pending, in.ParticipantID)
	}
	return got, nil
}
