package models

import (
	"time"

	"github.com/google/uuid"
)

// Estimate is a participant's card for the current round. Estimates are keyed by
// (session, participant name); the name must therefore never change once joined.
type Estimate struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	UserName  string    `json:"user_name"`
	Value     *string   `json:"estimate"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasValue reports whether a card has been chosen.
func (e *Estimate) HasValue() bool {
	return e != nil && e.Value != nil && *e.Value != ""
}

// ValueOrEmpty returns the chosen card or "" when none was chosen.
func (e *Estimate) ValueOrEmpty() string {
	if !e.HasValue() {
		return ""
	}
	return *e.Value
}
