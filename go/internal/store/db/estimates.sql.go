package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const upsertEstimate = `
INSERT INTO estimates (session_id, user_name, estimate)
VALUES ($1, $2, $3)
ON CONFLICT (session_id, user_name)
DO UPDATE SET estimate = EXCLUDED.estimate, updated_at = clock_timestamp()
RETURNING id, session_id, user_name, estimate, created_at, updated_at
`

type UpsertEstimateParams struct {
	SessionID uuid.UUID
	UserName  string
	Estimate  sql.NullString
}

func (q *Queries) UpsertEstimate(ctx context.Context, arg UpsertEstimateParams) (Estimate, error) {
	row := q.db.QueryRowContext(ctx, upsertEstimate, arg.SessionID, arg.UserName, arg.Estimate)
	var i Estimate
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.UserName,
		&i.Estimate,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listEstimates = `
SELECT id, session_id, user_name, estimate, created_at, updated_at
FROM estimates
WHERE session_id = $1
`

func (q *Queries) ListEstimates(ctx context.Context, sessionID uuid.UUID) ([]Estimate, error) {
	rows, err := q.db.QueryContext(ctx, listEstimates, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Estimate
	for rows.Next() {
		var i Estimate
		if err := rows.Scan(
			&i.ID,
			&i.SessionID,
			&i.UserName,
			&i.Estimate,
			&i.CreatedAt,
			&i.UpdatedAt,
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

const deleteSessionEstimates = `
DELETE FROM estimates
WHERE session_id = $1
`

func (q *Queries) DeleteSessionEstimates(ctx context.Context, sessionID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, deleteSessionEstimates, sessionID)
	return err
}
