package transport

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_transport.go -package=mocks . Transport

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pairing-hub/pairing-hub/internal/domain/event"
)

// MessageKind tells the bridge how to render a message.
type MessageKind string

const (
	KindPrompt  MessageKind = "PROMPT"
	KindInvite  MessageKind = "INVITE"
	KindNotice  MessageKind = "NOTICE"
	KindListing MessageKind = "LISTING"
)

var (
	ErrSurfaceNotFound = errors.New("surface not found")
	ErrUndeliverable   = errors.New("message undeliverable")
)

// Field is a labelled value rendered alongside the body.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is an outbound message.
type Message struct {
	Kind      MessageKind    `json:"kind"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body"`
	Fields    []Field        `json:"fields,omitempty"`
	Mentions  []string       `json:"mentions,omitempty"`
	Signals   []event.Signal `json:"signals,omitempty"`
	SessionID *uuid.UUID     `json:"sessionId,omitempty"`
}

// Transport is the outbound side of the messaging platform.
type Transport interface {
	Send(ctx context.Context, surfaceID string, msg Message) (string, error)
	CreatePrivateSurface(ctx context.Context, participants []string) (string, error)
	DestroySurface(ctx context.Context, surfaceID string) error
}
