package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/store/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to POKER_TEST_DATABASE_URL and applies migrations. The tests
// only touch sessions they create, so a shared database is fine.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("POKER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("POKER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	conn, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, ApplyMigrations(ctx, conn))
	// Applying twice is a no-op.
	require.NoError(t, ApplyMigrations(ctx, conn))
	return conn
}

func TestPostgresStore_SessionLifecycle(t *testing.T) {
	conn := setupTestDB(t)
	ctx := context.Background()
	s := NewPostgresStore(conn)

	session, creator, err := s.CreateSession(ctx, CreateSessionRequest{
		Name:        "Sprint 12",
		CreatorName: "alice",
		SizingType:  models.SizingFibonacci,
	})
	require.NoError(t, err)
	assert.True(t, creator.IsCreator)
	assert.False(t, session.CardsRevealed)

	_, err = s.InsertParticipant(ctx, session.ID, "alice", false)
	assert.ErrorIs(t, err, models.ErrConflict)
	_, err = s.InsertParticipant(ctx, uuid.New(), "bob", false)
	assert.ErrorIs(t, err, models.ErrNotFound)

	bob, err := s.InsertParticipant(ctx, session.ID, "bob", false)
	require.NoError(t, err)
	got, err := s.ReadParticipant(ctx, session.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.ID)

	ps, err := s.ListParticipants(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "alice", ps[0].Name)
	assert.Equal(t, "bob", ps[1].Name)

	first, err := s.UpsertEstimate(ctx, session.ID, "bob", nil)
	require.NoError(t, err)
	assert.Nil(t, first.Value)
	second, err := s.UpsertEstimate(ctx, session.ID, "bob", ptr("8"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "8", second.ValueOrEmpty())

	revealed := true
	require.NoError(t, s.UpdateSession(ctx, session.ID, models.SessionUpdate{CardsRevealed: &revealed}))
	read, err := s.ReadSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, read.CardsRevealed)

	require.NoError(t, s.DeleteAllEstimates(ctx, session.ID))
	es, err := s.ListEstimates(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, es)

	require.NoError(t, s.DeleteParticipant(ctx, session.ID, bob.ID))
	assert.ErrorIs(t, s.DeleteParticipant(ctx, session.ID, bob.ID), models.ErrNotFound)
	_, err = s.ReadParticipant(ctx, session.ID, "bob")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.UpdateSession(ctx, uuid.New(), models.SessionUpdate{CardsRevealed: &revealed}), models.ErrNotFound)
}

func TestChangeRepository_RecordsChanges(t *testing.T) {
	conn := setupTestDB(t)
	ctx := context.Background()
	s := NewPostgresStore(conn)
	repo := NewChangeRepository(conn)

	session, _, err := s.CreateSession(ctx, CreateSessionRequest{
		Name:        "Changes",
		CreatorName: "alice",
		SizingType:  models.SizingTShirt,
	})
	require.NoError(t, err)
	_, err = s.UpsertEstimate(ctx, session.ID, "alice", ptr("M"))
	require.NoError(t, err)

	all, err := repo.FetchUnsent(ctx, 10000)
	require.NoError(t, err)
	var mine []changefeed.Event
	for _, ev := range all {
		if ev.SessionID == session.ID {
			mine = append(mine, ev)
		}
	}
	require.Len(t, mine, 2, "creator insert and estimate insert")
	assert.Equal(t, changefeed.TableParticipant, mine[0].Table)
	assert.Equal(t, changefeed.OpInsert, mine[0].Operation)
	assert.Equal(t, changefeed.TableEstimate, mine[1].Table)
	for _, ev := range mine {
		require.NoError(t, ev.Validate())
	}

	est, err := changefeed.DecodeEstimate(mine[1].After)
	require.NoError(t, err)
	assert.Equal(t, "alice", est.UserName)
	assert.Equal(t, "M", est.ValueOrEmpty())

	fetched, err := repo.FetchChange(ctx, mine[1].ID)
	require.NoError(t, err)
	assert.Equal(t, mine[1].ID, fetched.ID)

	require.NoError(t, repo.MarkSent(ctx, mine[1].ID))
	_, err = repo.FetchChange(ctx, mine[1].ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	for _, ev := range mine[:1] {
		require.NoError(t, repo.MarkSent(ctx, ev.ID))
	}
}

func TestPostgresStore_RacingTogglesFollowCommitOrder(t *testing.T) {
	conn := setupTestDB(t)
	ctx := context.Background()
	s := NewPostgresStore(conn)

	session, _, err := s.CreateSession(ctx, CreateSessionRequest{
		Name:        "Race",
		CreatorName: "alice",
		SizingType:  models.SizingFibonacci,
	})
	require.NoError(t, err)

	// The hiding transaction starts first but has to wait for the reveal's row lock,
	// so it commits last.
	hideTx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer hideTx.Rollback()
	revealTx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer revealTx.Rollback()

	_, err = db.New(revealTx).UpdateSessionRevealed(ctx, db.UpdateSessionRevealedParams{
		ID:            session.ID,
		CardsRevealed: sql.NullBool{Bool: true, Valid: true},
	})
	require.NoError(t, err)

	hidden := make(chan error, 1)
	go func() {
		_, err := db.New(hideTx).UpdateSessionRevealed(ctx, db.UpdateSessionRevealedParams{
			ID:            session.ID,
			CardsRevealed: sql.NullBool{Bool: false, Valid: true},
		})
		if err == nil {
			err = hideTx.Commit()
		}
		hidden <- err
	}()

	require.Eventually(t, func() bool {
		var waiting int
		err := conn.QueryRowContext(ctx, `SELECT count(*) FROM pg_locks WHERE NOT granted`).Scan(&waiting)
		return err == nil && waiting > 0
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, revealTx.Commit())
	require.NoError(t, <-hidden)

	final, err := s.ReadSession(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, final.CardsRevealed)

	all, err := NewChangeRepository(conn).FetchUnsent(ctx, 10000)
	require.NoError(t, err)
	var updates []*models.Session
	for _, ev := range all {
		if ev.SessionID == session.ID && ev.Table == changefeed.TableSession {
			after, err := changefeed.DecodeSession(ev.After)
			require.NoError(t, err)
			updates = append(updates, after)
		}
	}
	require.Len(t, updates, 2)
	assert.True(t, updates[0].CardsRevealed)
	assert.False(t, updates[1].CardsRevealed)
	assert.True(t, updates[1].UpdatedAt.After(updates[0].UpdatedAt),
		"the last committed toggle must carry the newest updated_at")
}
