package profile

import (
	"errors"
	"strings"
	"time"

	"github.com/pairing-hub/pairing-hub/internal/domain/script"
)

var ErrMissingParticipant = errors.New("profile has no participant")

// Profile is a registered participant.
type Profile struct {
	ParticipantID string          `json:"participantId"`
	DisplayName   string          `json:"displayName"`
	Tags          []string        `json:"tags"`
	Answers       []script.Answer `json:"answers"`
	RegisteredAt  time.Time       `json:"registeredAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// NewProfile builds a profile from completed registration answers.
func NewProfile(participantID, displayName string, tags []string, answers []script.Answer, now time.Time) *Profile {
	now = now.UTC()
	return &Profile{
		ParticipantID: participantID,
		DisplayName:   strings.TrimSpace(displayName),
		Tags:          normalizeTags(tags),
		Answers:       answers,
		RegisteredAt:  now,
		UpdatedAt:     now,
	}
}

// Name returns the display name, falling back to the participant id.
func (p *Profile) Name() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ParticipantID
}

func (p *Profile) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Answer returns the answer stored under key.
func (p *Profile) Answer(key string) (script.Answer, bool) {
	for _, a := range p.Answers {
		if a.Key == key {
			return a, true
		}
	}
	return script.Answer{}, false
}

func (p *Profile) Validate() error {
	if strings.TrimSpace(p.ParticipantID) == "" {
		return ErrMissingParticipant
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Filter narrows a profile listing.
type Filter struct {
	Tag     string
	Exclude []string
}
