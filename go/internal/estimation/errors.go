package estimation

import (
	"errors"
	"fmt"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

var (
	// ErrSessionNotFound is terminal for the current flow: the session view must be left.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNameTaken is returned when joining with a display name already used in the session.
	ErrNameTaken = errors.New("name already taken")
	// ErrNotAuthorized is returned when a non-manager tries to reveal, hide or clear.
	ErrNotAuthorized = errors.New("only the session creator or managers can do this")
	// ErrRoundLocked is returned when an estimate is changed while cards are revealed.
	ErrRoundLocked = errors.New("cannot change estimate - cards are already revealed")
	// ErrRejoinRequired means the cached identity is missing or no longer a participant.
	ErrRejoinRequired = errors.New("not a participant of this session, join again")
	ErrInvalidName    = errors.New("name is required")
	ErrInvalidCard    = errors.New("card is not part of this session's deck")
	ErrNotLoaded      = errors.New("session state not loaded yet")
)

// PersistenceError wraps a failed store read or write. It is recoverable: callers
// revert optimistic state and may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err is a store failure.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// sessionReadError translates a store error for a session read.
func sessionReadError(op string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return ErrSessionNotFound
	}
	return persistenceError(op, err)
}
