package changefeed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/models"
)

// Table identifies the entity a change belongs to.
type Table string

const (
	TableSession     Table = "sessions"
	TableParticipant Table = "session_users"
	TableEstimate    Table = "estimates"
)

// Operation is the kind of row change.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// DefaultSubjectPrefix is the NATS subject prefix change events are published under.
const DefaultSubjectPrefix = "poker.changes"

// Event is a single committed row change for a session. Before is set for updates and
// deletes, After for inserts and updates.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	SessionID   uuid.UUID       `json:"session_id"`
	Table       Table           `json:"table"`
	Operation   Operation       `json:"operation"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Subject returns the NATS subject for the event under prefix.
func (e Event) Subject(prefix string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, e.SessionID, e.Table)
}

// SessionFilter returns the subject filter matching every change of one session.
func SessionFilter(prefix string, sessionID uuid.UUID) string {
	return fmt.Sprintf("%s.%s.>", prefix, sessionID)
}

// ParseTable validates a table name coming off the wire.
func ParseTable(s string) (Table, error) {
	switch t := Table(strings.ToLower(s)); t {
	case TableSession, TableParticipant, TableEstimate:
		return t, nil
	}
	return "", fmt.Errorf("unknown table %q", s)
}

// ParseOperation validates an operation name coming off the wire.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToUpper(s)); op {
	case OpInsert, OpUpdate, OpDelete:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Validate checks that the event carries the row images its operation requires.
func (e Event) Validate() error {
	if _, err := ParseTable(string(e.Table)); err != nil {
		return err
	}
	switch e.Operation {
	case OpInsert:
		if len(e.After) == 0 {
			return fmt.Errorf("%s insert without new row", e.Table)
		}
	case OpUpdate:
		if len(e.After) == 0 {
			return fmt.Errorf("%s update without new row", e.Table)
		}
	case OpDelete:
		if len(e.Before) == 0 {
			return fmt.Errorf("%s delete without old row", e.Table)
		}
	default:
		return fmt.Errorf("unknown operation %q", e.Operation)
	}
	return nil
}

// DecodeSession decodes a sessions row image.
func DecodeSession(raw json.RawMessage) (*models.Session, error) {
	var s models.Session
	if err := decode(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// DecodeParticipant decodes a session_users row image.
func DecodeParticipant(raw json.RawMessage) (*models.Participant, error) {
	var p models.Participant
	if err := decode(raw, &p); err != nil {
		return nil, fmt.Errorf("decode participant: %w", err)
	}
	return &p, nil
}

// DecodeEstimate decodes an estimates row image.
func DecodeEstimate(raw json.RawMessage) (*models.Estimate, error) {
	var e models.Estimate
	if err := decode(raw, &e); err != nil {
		return nil, fmt.Errorf("decode estimate: %w", err)
	}
	return &e, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("empty row image")
	}
	return json.Unmarshal(raw, v)
}

// NewEvent builds an event from typed row images. Either image may be nil.
func NewEvent(sessionID uuid.UUID, table Table, op Operation, before, after any) (Event, error) {
	ev := Event{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Table:       table,
		Operation:   op,
		CommittedAt: time.Now().UTC(),
	}
	var err error
	if before != nil {
		if ev.Before, err = json.Marshal(before); err != nil {
			return Event{}, fmt.Errorf("marshal old row: %w", err)
		}
	}
	if after != nil {
		if ev.After, err = json.Marshal(after); err != nil {
			return Event{}, fmt.Errorf("marshal new row: %w", err)
		}
	}
	return ev, nil
}
