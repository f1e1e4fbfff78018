package negotiation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pairing-hub/pairing-hub/internal/domain/script"
)

var (
	ErrAlreadyActive     = errors.New("participant already has an active negotiation")
	ErrSelfPairing       = errors.New("cannot pair a participant with themselves")
	ErrInvalidResponse   = script.ErrInvalidAnswer
	ErrTimeout           = errors.New("response deadline elapsed")
	ErrDeclined          = errors.New("negotiation declined")
	ErrNotFound          = errors.New("session not found")
	ErrNotParticipant    = errors.New("not a participant of this session")
	ErrNotConfirmed      = errors.New("session is not confirmed")
	ErrHandshakeFailed   = errors.New("closing handshake failed")
	ErrCloseInProgress   = errors.New("closing handshake already in progress")
	ErrStaleTransition   = errors.New("session status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownScript     = errors.New("unknown script")
	ErrNotRegistered     = errors.New("participant is not registered")
)

// AlreadyActiveError reports the session that blocks a new negotiation.
type AlreadyActiveError struct {
	SessionID   uuid.UUID
	Participant string
}

func (e *AlreadyActiveError) Error() string {
	if e.Participant == "" {
		return fmt.Sprintf("pair already negotiating in session %s", e.SessionID)
	}
	return fmt.Sprintf("%s already has an active negotiation (session %s)", e.Participant, e.SessionID)
}

func (e *AlreadyActiveError) Is(target error) bool {
	return target == ErrAlreadyActive
}

// StoreError wraps a storage fault.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err is or wraps a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
