package db

import (
	"context"

	"github.com/google/uuid"
)

const insertSessionUser = `
INSERT INTO session_users (session_id, name, is_creator)
VALUES ($1, $2, $3)
RETURNING id, session_id, name, is_creator, joined_at
`

type InsertSessionUserParams struct {
	SessionID uuid.UUID
	Name      string
	IsCreator bool
}

func (q *Queries) InsertSessionUser(ctx context.Context, arg InsertSessionUserParams) (SessionUser, error) {
	row := q.db.QueryRowContext(ctx, insertSessionUser, arg.SessionID, arg.Name, arg.IsCreator)
	var i SessionUser
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.Name,
		&i.IsCreator,
		&i.JoinedAt,
	)
	return i, err
}

const getSessionUserByName = `
SELECT id, session_id, name, is_creator, joined_at
FROM session_users
WHERE session_id = $1 AND name = $2
`

type GetSessionUserByNameParams struct {
	SessionID uuid.UUID
	Name      string
}

func (q *Queries) GetSessionUserByName(ctx context.Context, arg GetSessionUserByNameParams) (SessionUser, error) {
	row := q.db.QueryRowContext(ctx, getSessionUserByName, arg.SessionID, arg.Name)
	var i SessionUser
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.Name,
		&i.IsCreator,
		&i.JoinedAt,
	)
	return i, err
}

const listSessionUsers = `
SELECT id, session_id, name, is_creator, joined_at
FROM session_users
WHERE session_id = $1
ORDER BY joined_at, id
`

func (q *Queries) ListSessionUsers(ctx context.Context, sessionID uuid.UUID) ([]SessionUser, error) {
	rows, err := q.db.QueryContext(ctx, listSessionUsers, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SessionUser
	for rows.Next() {
		var i SessionUser
		if err := rows.Scan(
			&i.ID,
			&i.SessionID,
			&i.Name,
			&i.IsCreator,
			&i.JoinedAt,
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

const deleteSessionUser = `
DELETE FROM session_users
WHERE session_id = $1 AND id = $2
`

type DeleteSessionUserParams struct {
	SessionID uuid.UUID
	ID        uuid.UUID
}

func (q *Queries) DeleteSessionUser(ctx context.Context, arg DeleteSessionUserParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSessionUser, arg.SessionID, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
