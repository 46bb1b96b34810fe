package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a shared estimation room. The ID doubles as the join code.
type Session struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	CreatorName        string     `json:"creator_name"`
	SizingType         SizingType `json:"sizing_type"`
	AllowMembersManage bool       `json:"allow_members_manage"`
	CardsRevealed      bool       `json:"cards_revealed"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SessionUpdate carries the mutable fields of a session. Nil fields are left untouched.
type SessionUpdate struct {
	CardsRevealed *bool `json:"cards_revealed,omitempty"`
}

// Deck returns the cards a participant can choose from in this session.
func (s *Session) Deck() []string {
	return s.SizingType.Deck()
}

// CanManage reports whether a participant may reveal, hide or clear the round.
func (s *Session) CanManage(p *Participant) bool {
	if p == nil {
		return false
	}
	return p.IsCreator || s.AllowMembersManage
}
