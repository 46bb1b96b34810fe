package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/sqlutil"
	"github.com/mcdev12/planningpoker/go/internal/store/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// CreateSessionRequest carries the fields of a new session and its creator.
type CreateSessionRequest struct {
	Name               string
	CreatorName        string
	SizingType         models.SizingType
	AllowMembersManage bool
}

// PostgresStore is the relational session store. Row changes reach the change feed
// through the session_changes triggers, not through this type.
type PostgresStore struct {
	db      *sql.DB
	queries *db.Queries
}

// NewPostgresStore creates a store on an open database.
func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      conn,
		queries: db.New(conn),
	}
}

// CreateSession inserts the session and its creator in one transaction.
func (s *PostgresStore) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.Session, *models.Participant, error) {
	var (
		session db.Session
		creator db.SessionUser
	)
	err := sqlutil.Run(ctx, s.db, nil, s.queries.WithTx, func(q *db.Queries) error {
		var err error
		session, err = q.CreateSession(ctx, db.CreateSessionParams{
			Name:               req.Name,
			CreatorName:        req.CreatorName,
			SizingType:         string(req.SizingType),
			AllowMembersManage: req.AllowMembersManage,
		})
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		creator, err = q.InsertSessionUser(ctx, db.InsertSessionUserParams{
			SessionID: session.ID,
			Name:      req.CreatorName,
			IsCreator: true,
		})
		if err != nil {
			return fmt.Errorf("failed to add creator: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, translate(err)
	}
	return dbSessionToModel(session), dbUserToModel(creator), nil
}

// ReadSession returns models.ErrNotFound when the session does not exist.
func (s *PostgresStore) ReadSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row, err := s.queries.GetSession(ctx, id)
	if err != nil {
		return nil, translate(fmt.Errorf("failed to get session: %w", err))
	}
	return dbSessionToModel(row), nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, id uuid.UUID, upd models.SessionUpdate) error {
	n, err := s.queries.UpdateSessionRevealed(ctx, db.UpdateSessionRevealedParams{
		ID:            id,
		CardsRevealed: sqlutil.ToSqlBool(upd.CardsRevealed),
	})
	if err != nil {
		return translate(fmt.Errorf("failed to update session: %w", err))
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertParticipant(ctx context.Context, sessionID uuid.UUID, name string, isCreator bool) (*models.Participant, error) {
	row, err := s.queries.InsertSessionUser(ctx, db.InsertSessionUserParams{
		SessionID: sessionID,
		Name:      name,
		IsCreator: isCreator,
	})
	if err != nil {
		return nil, translate(fmt.Errorf("failed to insert participant: %w", err))
	}
	return dbUserToModel(row), nil
}

func (s *PostgresStore) ReadParticipant(ctx context.Context, sessionID uuid.UUID, name string) (*models.Participant, error) {
	row, err := s.queries.GetSessionUserByName(ctx, db.GetSessionUserByNameParams{
		SessionID: sessionID,
		Name:      name,
	})
	if err != nil {
		return nil, translate(fmt.Errorf("failed to get participant: %w", err))
	}
	return dbUserToModel(row), nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := s.queries.ListSessionUsers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	out := make([]models.Participant, len(rows))
	for i, row := range rows {
		out[i] = *dbUserToModel(row)
	}
	return out, nil
}

func (s *PostgresStore) DeleteParticipant(ctx context.Context, sessionID, id uuid.UUID) error {
	n, err := s.queries.DeleteSessionUser(ctx, db.DeleteSessionUserParams{SessionID: sessionID, ID: id})
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertEstimate(ctx context.Context, sessionID uuid.UUID, name string, value *string) (*models.Estimate, error) {
	row, err := s.queries.UpsertEstimate(ctx, db.UpsertEstimateParams{
		SessionID: sessionID,
		UserName:  name,
		Estimate:  sqlutil.ToSqlString(value),
	})
	if err != nil {
		return nil, translate(fmt.Errorf("failed to upsert estimate: %w", err))
	}
	return dbEstimateToModel(row), nil
}

func (s *PostgresStore) ListEstimates(ctx context.Context, sessionID uuid.UUID) ([]models.Estimate, error) {
	rows, err := s.queries.ListEstimates(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list estimates: %w", err)
	}
	out := make([]models.Estimate, len(rows))
	for i, row := range rows {
		out[i] = *dbEstimateToModel(row)
	}
	return out, nil
}

func (s *PostgresStore) DeleteAllEstimates(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.queries.DeleteSessionEstimates(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete estimates: %w", err)
	}
	return nil
}

// translate maps driver errors onto the store sentinels, keeping the original in the chain.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", models.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func dbSessionToModel(row db.Session) *models.Session {
	return &models.Session{
		ID:                 row.ID,
		Name:               row.Name,
		CreatorName:        row.CreatorName,
		SizingType:         models.SizingType(row.SizingType),
		AllowMembersManage: row.AllowMembersManage,
		CardsRevealed:      row.CardsRevealed,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func dbUserToModel(row db.SessionUser) *models.Participant {
	return &models.Participant{
		ID:        row.ID,
		SessionID: row.SessionID,
		Name:      row.Name,
		IsCreator: row.IsCreator,
		JoinedAt:  row.JoinedAt,
	}
}

func dbEstimateToModel(row db.Estimate) *models.Estimate {
	return &models.Estimate{
		ID:        row.ID,
		SessionID: row.SessionID,
		UserName:  row.UserName,
		Value:     sqlutil.FromSqlStringPtr(row.Estimate),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
