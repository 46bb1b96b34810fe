package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const createSession = `
INSERT INTO sessions (name, creator_name, sizing_type, allow_members_manage)
VALUES ($1, $2, $3, $4)
RETURNING id, name, creator_name, sizing_type, allow_members_manage, cards_revealed, created_at, updated_at
`

type CreateSessionParams struct {
	Name               string
	CreatorName        string
	SizingType         string
	AllowMembersManage bool
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error) {
	row := q.db.QueryRowContext(ctx, createSession,
		arg.Name,
		arg.CreatorName,
		arg.SizingType,
		arg.AllowMembersManage,
	)
	var i Session
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.CreatorName,
		&i.SizingType,
		&i.AllowMembersManage,
		&i.CardsRevealed,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getSession = `
SELECT id, name, creator_name, sizing_type, allow_members_manage, cards_revealed, created_at, updated_at
FROM sessions
WHERE id = $1
`

func (q *Queries) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	row := q.db.QueryRowContext(ctx, getSession, id)
	var i Session
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.CreatorName,
		&i.SizingType,
		&i.AllowMembersManage,
		&i.CardsRevealed,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const updateSessionRevealed = `
UPDATE sessions
SET cards_revealed = COALESCE($2, cards_revealed),
    updated_at = clock_timestamp()
WHERE id = $1
`

type UpdateSessionRevealedParams struct {
	ID            uuid.UUID
	CardsRevealed sql.NullBool
}

func (q *Queries) UpdateSessionRevealed(ctx context.Context, arg UpdateSessionRevealedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateSessionRevealed, arg.ID, arg.CardsRevealed)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
