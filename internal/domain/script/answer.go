package script

import "strconv"

// AnswerKind is the stored type of an answer.
type AnswerKind string

const (
	AnswerText    AnswerKind = "TEXT"
	AnswerInteger AnswerKind = "INTEGER"
	AnswerBoolean AnswerKind = "BOOLEAN"
)

// Answer is one collected response. Only the field matching Kind is meaningful.
type Answer struct {
	Key           string     `json:"key"`
	ParticipantID string     `json:"participantId"`
	Kind          AnswerKind `json:"kind"`
	Text          string     `json:"text,omitempty"`
	Int           int64      `json:"int,omitempty"`
	Bool          bool       `json:"bool,omitempty"`
}

func (a Answer) String() string {
	switch a.Kind {
	case AnswerInteger:
		return strconv.FormatInt(a.Int, 10)
	case AnswerBoolean:
		if a.Bool {
			return "yes"
		}
		return "no"
	default:
		return a.Text
	}
}
