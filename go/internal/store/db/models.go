package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Session struct {
	ID                 uuid.UUID
	Name               string
	CreatorName        string
	SizingType         string
	AllowMembersManage bool
	CardsRevealed      bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type SessionUser struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Name      string
	IsCreator bool
	JoinedAt  time.Time
}

type Estimate struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	UserName  string
	Estimate  sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SessionChange struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	TableName string
	Operation string
	Before    pqtype.NullRawMessage
	After     pqtype.NullRawMessage
	CreatedAt time.Time
	SentAt    sql.NullTime
}
