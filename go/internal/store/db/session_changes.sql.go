package db

import (
	"context"

	"github.com/google/uuid"
)

const fetchChangeByID = `
SELECT id, session_id, table_name, operation, before, after, created_at, sent_at
FROM session_changes
WHERE id = $1 AND sent_at IS NULL
`

func (q *Queries) FetchChangeByID(ctx context.Context, id uuid.UUID) (SessionChange, error) {
	row := q.db.QueryRowContext(ctx, fetchChangeByID, id)
	var i SessionChange
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.TableName,
		&i.Operation,
		&i.Before,
		&i.After,
		&i.CreatedAt,
		&i.SentAt,
	)
	return i, err
}

const fetchUnsentChanges = `
SELECT id, session_id, table_name, operation, before, after, created_at, sent_at
FROM session_changes
WHERE sent_at IS NULL
ORDER BY created_at
LIMIT $1
`

func (q *Queries) FetchUnsentChanges(ctx context.Context, limit int32) ([]SessionChange, error) {
	rows, err := q.db.QueryContext(ctx, fetchUnsentChanges, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SessionChange
	for rows.Next() {
		var i SessionChange
		if err := rows.Scan(
			&i.ID,
			&i.SessionID,
			&i.TableName,
			&i.Operation,
			&i.Before,
			&i.After,
			&i.CreatedAt,
			&i.SentAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markChangeSent = `
UPDATE session_changes
SET sent_at = NOW()
WHERE id = $1
`

func (q *Queries) MarkChangeSent(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, markChangeSent, id)
	return err
}

const countPendingChanges = `
SELECT COUNT(*) FROM session_changes WHERE sent_at IS NULL
`

func (q *Queries) CountPendingChanges(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countPendingChanges)
	var count int64
	err := row.Scan(&count)
	return count, err
}
