package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Knetic/govaluate"

	"github.com/pairing-hub/pairing-hub/internal/domain/event"
)

// StepKind is the kind of answer a step collects.
type StepKind string

const (
	StepConfirm StepKind = "confirm"
	StepText    StepKind = "text"
	StepInteger StepKind = "integer"
)

// Responder names which side of a pair answers a step.
type Responder string

const (
	ResponderInitiator   Responder = "initiator"
	ResponderCounterpart Responder = "counterpart"
)

// Phase places a step before the invite is sent or after it is accepted.
type Phase string

const (
	PhaseBeforeInvite Phase = "before_invite"
	PhaseAfterAccept  Phase = "after_accept"
)

var (
	ErrInvalidAnswer = errors.New("invalid response")
	ErrInvalidScript = errors.New("invalid script")
)

// Step is one prompt of a script.
type Step struct {
	Key           string        `yaml:"key" json:"key"`
	Prompt        string        `yaml:"prompt" json:"prompt"`
	InvalidPrompt string        `yaml:"invalid_prompt" json:"invalidPrompt,omitempty"`
	Kind          StepKind      `yaml:"kind" json:"kind"`
	Responder     Responder     `yaml:"responder" json:"responder"`
	Phase         Phase         `yaml:"phase" json:"phase"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	Rule          string        `yaml:"rule" json:"rule,omitempty"`

	rule *govaluate.EvaluableExpression
}

// Script is a named negotiation or dialog definition.
type Script struct {
	ID              string        `yaml:"id" json:"id"`
	Title           string        `yaml:"title" json:"title"`
	Invite          string        `yaml:"invite" json:"invite,omitempty"`
	ClosePrompt     string        `yaml:"close_prompt" json:"closePrompt,omitempty"`
	InviteTimeout   time.Duration `yaml:"invite_timeout" json:"inviteTimeout,omitempty"`
	CloseTimeout    time.Duration `yaml:"close_timeout" json:"closeTimeout,omitempty"`
	RequireProfiles bool          `yaml:"require_profiles" json:"requireProfiles"`
	ShareProfile    bool          `yaml:"share_profile" json:"shareProfile"`
	Steps           []Step        `yaml:"steps" json:"steps"`
}

// StepsIn returns the steps of the given phase in declaration order.
func (s *Script) StepsIn(phase Phase) []Step {
	out := make([]Step, 0, len(s.Steps))
	for _, st := range s.Steps {
		if st.Phase == phase {
			out = append(out, st)
		}
	}
	return out
}

func (s *Script) validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidScript)
	}
	if s.InviteTimeout < 0 || s.CloseTimeout < 0 {
		return fmt.Errorf("%w: %s: negative timeout", ErrInvalidScript, s.ID)
	}
	seen := make(map[string]struct{}, len(s.Steps))
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Responder == "" {
			st.Responder = ResponderInitiator
		}
		if st.Phase == "" {
			st.Phase = PhaseBeforeInvite
		}
		if err := st.compile(); err != nil {
			return fmt.Errorf("%w: %s/%s: %v", ErrInvalidScript, s.ID, st.Key, err)
		}
		if _, dup := seen[st.Key]; dup {
			return fmt.Errorf("%w: %s: duplicate step %q", ErrInvalidScript, s.ID, st.Key)
		}
		seen[st.Key] = struct{}{}
	}
	return nil
}

func (st *Step) compile() error {
	if strings.TrimSpace(st.Key) == "" {
		return errors.New("missing key")
	}
	if strings.TrimSpace(st.Prompt) == "" {
		return errors.New("missing prompt")
	}
	switch st.Kind {
	case StepConfirm, StepText, StepInteger:
	default:
		return fmt.Errorf("unknown kind %q", st.Kind)
	}
	switch st.Responder {
	case ResponderInitiator, ResponderCounterpart:
	default:
		return fmt.Errorf("unknown responder %q", st.Responder)
	}
	switch st.Phase {
	case PhaseBeforeInvite, PhaseAfterAccept:
	default:
		return fmt.Errorf("unknown phase %q", st.Phase)
	}
	if st.Responder == ResponderCounterpart && st.Phase == PhaseBeforeInvite {
		return errors.New("counterpart steps must run after the invite is accepted")
	}
	if st.Timeout < 0 {
		return errors.New("negative timeout")
	}
	if st.Rule == "" {
		return nil
	}
	if st.Kind == StepConfirm {
		return errors.New("confirm steps cannot carry a rule")
	}
	expr, err := govaluate.NewEvaluableExpression(st.Rule)
	if err != nil {
		return fmt.Errorf("rule: %w", err)
	}
	st.rule = expr
	return nil
}

// EventKind is the inbound event kind that answers the step.
func (st Step) EventKind() event.Kind {
	if st.Kind == StepConfirm {
		return event.KindReaction
	}
	return event.KindMessage
}

// TimeoutOr returns the step timeout, or def when the step does not set one.
func (st Step) TimeoutOr(def time.Duration) time.Duration {
	if st.Timeout > 0 {
		return st.Timeout
	}
	return def
}

// Evaluate turns an inbound event into an answer. A declined confirmation is a
// valid answer with Bool false. Anything unusable returns an error wrapping
// ErrInvalidAnswer.
func (st Step) Evaluate(in event.Inbound) (Answer, error) {
	ans := Answer{Key: st.Key, ParticipantID: in.ParticipantID}
	switch st.Kind {
	case StepConfirm:
		ans.Kind = AnswerBoolean
		switch in.Signal {
		case event.SignalAccept:
			ans.Bool = true
		case event.SignalReject:
			ans.Bool = false
		default:
			return Answer{}, fmt.Errorf("%w: expected accept or reject", ErrInvalidAnswer)
		}
		return ans, nil
	case StepInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(in.Text), 10, 64)
		if err != nil {
			return Answer{}, fmt.Errorf("%w: not a whole number", ErrInvalidAnswer)
		}
		if err := st.check(map[string]interface{}{"value": float64(n)}); err != nil {
			return Answer{}, err
		}
		ans.Kind = AnswerInteger
		ans.Int = n
		return ans, nil
	default:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return Answer{}, fmt.Errorf("%w: empty answer", ErrInvalidAnswer)
		}
		params := map[string]interface{}{
			"value":  text,
			"length": float64(utf8.RuneCountInString(text)),
		}
		if err := st.check(params); err != nil {
			return Answer{}, err
		}
		ans.Kind = AnswerText
		ans.Text = text
		return ans, nil
	}
}

func (st Step) check(params map[string]interface{}) error {
	if st.rule == nil {
		return nil
	}
	result, err := st.rule.Evaluate(params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
	}
	ok, isBool := result.(bool)
	if !isBool || !ok {
		return fmt.Errorf("%w: rule %q not satisfied", ErrInvalidAnswer, st.Rule)
	}
	return nil
}

// Render substitutes {placeholders} in text.
func Render(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
