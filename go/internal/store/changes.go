package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/sqlutil"
	"github.com/mcdev12/planningpoker/go/internal/store/db"
)

// ChangeRepository reads and acknowledges rows of the session_changes outbox.
type ChangeRepository struct {
	queries *db.Queries
}

func NewChangeRepository(conn *sql.DB) *ChangeRepository {
	return &ChangeRepository{queries: db.New(conn)}
}

// FetchChange returns an unsent change by id, models.ErrNotFound if it is unknown or
// already sent.
func (r *ChangeRepository) FetchChange(ctx context.Context, id uuid.UUID) (*changefeed.Event, error) {
	row, err := r.queries.FetchChangeByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch change by ID: %w", err)
	}
	ev, err := dbChangeToEvent(row)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *ChangeRepository) FetchUnsent(ctx context.Context, limit int32) ([]changefeed.Event, error) {
	rows, err := r.queries.FetchUnsentChanges(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent changes: %w", err)
	}
	events := make([]changefeed.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := dbChangeToEvent(row)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r *ChangeRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	if err := r.queries.MarkChangeSent(ctx, id); err != nil {
		return fmt.Errorf("failed to mark change as sent: %w", err)
	}
	return nil
}

func (r *ChangeRepository) CountPending(ctx context.Context) (int64, error) {
	n, err := r.queries.CountPendingChanges(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending changes: %w", err)
	}
	return n, nil
}

func dbChangeToEvent(row db.SessionChange) (changefeed.Event, error) {
	table, err := changefeed.ParseTable(row.TableName)
	if err != nil {
		return changefeed.Event{}, fmt.Errorf("change %s: %w", row.ID, err)
	}
	op, err := changefeed.ParseOperation(row.Operation)
	if err != nil {
		return changefeed.Event{}, fmt.Errorf("change %s: %w", row.ID, err)
	}
	return changefeed.Event{
		ID:          row.ID,
		SessionID:   row.SessionID,
		Table:       table,
		Operation:   op,
		Before:      sqlutil.FromNullRawMessage(row.Before),
		After:       sqlutil.FromNullRawMessage(row.After),
		CommittedAt: row.CreatedAt,
	}, nil
}
