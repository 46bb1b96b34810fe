package estimation

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/models"
)

// Store defines what the core needs from the session store. Implementations return
// models.ErrNotFound and models.ErrConflict for missing and duplicate records.
type Store interface {
	ReadSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	UpdateSession(ctx context.Context, id uuid.UUID, upd models.SessionUpdate) error
	InsertParticipant(ctx context.Context, sessionID uuid.UUID, name string, isCreator bool) (*models.Participant, error)
	ReadParticipant(ctx context.Context, sessionID uuid.UUID, name string) (*models.Participant, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	DeleteParticipant(ctx context.Context, sessionID, id uuid.UUID) error
	UpsertEstimate(ctx context.Context, sessionID uuid.UUID, name string, value *string) (*models.Estimate, error)
	ListEstimates(ctx context.Context, sessionID uuid.UUID) ([]models.Estimate, error)
	DeleteAllEstimates(ctx context.Context, sessionID uuid.UUID) error
}

// Subscriber opens a change feed for one session. The returned channel is closed when
// the subscription ends for any reason; events are not replayed across subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan changefeed.Event, error)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, sessionID uuid.UUID) (<-chan changefeed.Event, error)

func (f SubscriberFunc) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan changefeed.Event, error) {
	return f(ctx, sessionID)
}
