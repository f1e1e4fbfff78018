package negotiation

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for session persistence. Implementations
// enforce the single active slot per participant and the unique live pair.
type Repository interface {
	// TryCreate inserts a PENDING session or fails with *AlreadyActiveError.
	TryCreate(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	GetBySurface(ctx context.Context, surfaceID string) (*Session, error)
	// GetActiveFor prefers the participant's active session, then the latest confirmed one.
	GetActiveFor(ctx context.Context, participant string) (*Session, error)
	// UpdateStatus moves a session from -> to, failing with ErrStaleTransition
	// when the stored status is not from.
	UpdateStatus(ctx context.Context, sessionID uuid.UUID, from, to Status, update Update) error
	// Close removes a confirmed session and records the completed pairing.
	Close(ctx context.Context, sessionID uuid.UUID, closedAt time.Time) error

	ListStale(ctx context.Context, before time.Time, limit int) ([]*Session, error)
	ListCompleted(ctx context.Context, participant string, limit, offset int) ([]*CompletedPairing, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}
