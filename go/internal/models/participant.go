package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is a named member of a session. Exactly one participant per session is the creator.
type Participant struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`
	IsCreator bool      `json:"is_creator"`
	JoinedAt  time.Time `json:"joined_at"`
}
