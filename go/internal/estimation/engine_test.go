package estimation

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_LoadSnapshot(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	join(t, st, s.ID, "bob")
	join(t, st, s.ID, "carol")
	vote(t, st, s.ID, "bob", "5")
	vote(t, st, s.ID, "alice", "8")

	e := loadedEngine(t, st, s.ID, "alice", nil)
	snap := e.Snapshot()

	assert.True(t, e.Loaded())
	assert.Equal(t, []string{"alice", "bob", "carol"}, participantNames(snap))
	assert.Equal(t, map[string]string{"alice": "8", "bob": "5"}, estimateValues(snap))
	require.NotNil(t, snap.SelectedCard)
	assert.Equal(t, "8", *snap.SelectedCard)
	assert.Equal(t, 2, snap.VotedCount())
}

func TestEngine_LoadSnapshotSessionNotFound(t *testing.T) {
	e := newTestEngine(newTestStore(), uuid.New(), "alice", nil)
	err := e.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, e.Loaded())
}

func TestEngine_ParticipantNotices(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	events := recordEvents(t, st, s.ID)
	rec := &noticeRecorder{}
	e := loadedEngine(t, st, s.ID, "alice", rec)

	bob := join(t, st, s.ID, "bob")
	require.NoError(t, st.DeleteParticipant(context.Background(), s.ID, bob.ID))
	applyAll(t, e, events())

	got := rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, Notice{Kind: NoticeJoined, UserName: "bob"}, got[0])
	assert.Equal(t, Notice{Kind: NoticeLeft, UserName: "bob"}, got[1])
	assert.Equal(t, []string{"alice"}, participantNames(e.Snapshot()))
}

func TestEngine_SelfChangesAreSilent(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	events := recordEvents(t, st, s.ID)
	rec := &noticeRecorder{}
	e := loadedEngine(t, st, s.ID, "bob", rec)

	join(t, st, s.ID, "bob")
	vote(t, st, s.ID, "bob", "3")
	vote(t, st, s.ID, "bob", "5")
	applyAll(t, e, events())

	assert.Empty(t, rec.all())
	assert.Equal(t, map[string]string{"bob": "5"}, estimateValues(e.Snapshot()))
}

func TestEngine_EstimateNotices(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	join(t, st, s.ID, "bob")
	events := recordEvents(t, st, s.ID)
	rec := &noticeRecorder{}
	e := loadedEngine(t, st, s.ID, "alice", rec)

	_, err := st.UpsertEstimate(context.Background(), s.ID, "bob", nil)
	require.NoError(t, err)
	vote(t, st, s.ID, "bob", "3")
	vote(t, st, s.ID, "bob", "3")
	vote(t, st, s.ID, "bob", "8")
	applyAll(t, e, events())

	assert.Equal(t, []Notice{
		{Kind: NoticeSubmitted, UserName: "bob", Value: "3"},
		{Kind: NoticeChanged, UserName: "bob", Previous: "3", Value: "8"},
	}, rec.all())
	assert.Equal(t, "bob changed their estimate", rec.all()[1].String())
}

func TestEngine_ClearingAnEstimateIsAChange(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	join(t, st, s.ID, "bob")
	vote(t, st, s.ID, "bob", "5")
	events := recordEvents(t, st, s.ID)
	rec := &noticeRecorder{}
	e := loadedEngine(t, st, s.ID, "alice", rec)

	_, err := st.UpsertEstimate(context.Background(), s.ID, "bob", nil)
	require.NoError(t, err)
	applyAll(t, e, events())

	assert.Equal(t, []Notice{{Kind: NoticeChanged, UserName: "bob", Previous: "5"}}, rec.all())
	assert.Equal(t, map[string]string{"bob": ""}, estimateValues(e.Snapshot()))
}

func TestEngine_ApplyChangeIsIdempotent(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	events := recordEvents(t, st, s.ID)
	rec := &noticeRecorder{}
	e := loadedEngine(t, st, s.ID, "alice", rec)

	join(t, st, s.ID, "bob")
	vote(t, st, s.ID, "bob", "3")
	vote(t, st, s.ID, "bob", "5")
	evs := events()
	applyAll(t, e, evs)
	once := e.Snapshot()
	noticesOnce := rec.kinds()

	// At-least-once delivery: everything again, then the first events once more.
	applyAll(t, e, evs)
	applyAll(t, e, evs[:2])
	twice := e.Snapshot()

	assert.Equal(t, participantNames(once), participantNames(twice))
	assert.Equal(t, estimateValues(once), estimateValues(twice))
	assert.Equal(t, map[string]string{"bob": "5"}, estimateValues(twice))
	assert.Equal(t, noticesOnce, rec.kinds())
}

func TestEngine_ConvergesUnderPermutation(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	base := loadedEngine(t, st, s.ID, "alice", nil).Snapshot()
	events := recordEvents(t, st, s.ID)

	join(t, st, s.ID, "bob")
	join(t, st, s.ID, "carol")
	vote(t, st, s.ID, "bob", "3")
	vote(t, st, s.ID, "carol", "5")
	vote(t, st, s.ID, "bob", "8")
	evs := events()
	require.Len(t, evs, 5)

	want := loadedEngine(t, st, s.ID, "alice", nil).Snapshot()

	permute(evs, func(order []changefeed.Event) {
		e := newTestEngine(st, s.ID, "alice", nil)
		e.proj = base.Clone()
		e.loaded = true
		applyAll(t, e, order)

		got := e.Snapshot()
		assert.Equal(t, participantNames(want), participantNames(got))
		assert.Equal(t, estimateValues(want), estimateValues(got))
	})
}

// permute calls fn with every ordering of evs.
func permute(evs []changefeed.Event, fn func([]changefeed.Event)) {
	var rec func(k int)
	rec = func(k int) {
		if k == len(evs) {
			fn(append([]changefeed.Event(nil), evs...))
			return
		}
		for i := k; i < len(evs); i++ {
			evs[k], evs[i] = evs[i], evs[k]
			rec(k + 1)
			evs[k], evs[i] = evs[i], evs[k]
		}
	}
	rec(0)
}

func TestEngine_BulkClearNoticedOnce(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	join(t, st, s.ID, "bob")
	join(t, st, s.ID, "carol")
	vote(t, st, s.ID, "alice", "3")
	vote(t, st, s.ID, "bob", "5")
	vote(t, st, s.ID, "carol", "8")
	events := recordEvents(t, st, s.ID)
	rec := &noticeRecorder{}
	e := loadedEngine(t, st, s.ID, "alice", rec)
	require.NotNil(t, e.Snapshot().SelectedCard)

	require.NoError(t, st.DeleteAllEstimates(context.Background(), s.ID))
	evs := events()
	require.Len(t, evs, 3)
	applyAll(t, e, evs)
	// Redelivery of the last delete must not announce a second reset.
	applyAll(t, e, evs[2:])

	assert.Equal(t, []NoticeKind{NoticeRoundReset}, rec.kinds())
	snap := e.Snapshot()
	assert.Empty(t, snap.Estimates)
	assert.Nil(t, snap.SelectedCard)
}

func TestEngine_RevealAndHide(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	join(t, st, s.ID, "bob")
	vote(t, st, s.ID, "bob", "5")
	events := recordEvents(t, st, s.ID)
	rec := &noticeRecorder{}
	e := loadedEngine(t, st, s.ID, "alice", rec)
	ctx := context.Background()

	revealed := true
	require.NoError(t, st.UpdateSession(ctx, s.ID, models.SessionUpdate{CardsRevealed: &revealed}))
	applyAll(t, e, events())
	assert.Equal(t, []NoticeKind{NoticeRevealed}, rec.kinds())
	assert.True(t, e.Stats().Revealed)
	assert.Equal(t, 1, e.Stats().TotalVotes)

	// The hide reloads from the store, so changes whose events were never delivered
	// show up anyway.
	hidden := false
	require.NoError(t, st.UpdateSession(ctx, s.ID, models.SessionUpdate{CardsRevealed: &hidden}))
	hideEvents := events()
	require.NoError(t, st.DeleteAllEstimates(ctx, s.ID))
	events()
	rec.reset()
	applyAll(t, e, hideEvents)

	assert.Equal(t, []NoticeKind{NoticeHidden}, rec.kinds())
	snap := e.Snapshot()
	assert.False(t, snap.Session.CardsRevealed)
	assert.Empty(t, snap.Estimates)
	assert.False(t, e.Stats().Revealed)

	// A redelivered hide matches the projection and does not reload again.
	rec.reset()
	applyAll(t, e, hideEvents)
	assert.Empty(t, rec.kinds())
}

func TestEngine_IgnoresStaleSessionUpdate(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	events := recordEvents(t, st, s.ID)
	e := loadedEngine(t, st, s.ID, "alice", nil)
	ctx := context.Background()

	revealed, hidden := true, false
	require.NoError(t, st.UpdateSession(ctx, s.ID, models.SessionUpdate{CardsRevealed: &revealed}))
	require.NoError(t, st.UpdateSession(ctx, s.ID, models.SessionUpdate{CardsRevealed: &hidden}))
	require.NoError(t, st.UpdateSession(ctx, s.ID, models.SessionUpdate{CardsRevealed: &revealed}))
	evs := events()
	require.Len(t, evs, 3)

	applyAll(t, e, []changefeed.Event{evs[2], evs[0], evs[1]})
	assert.True(t, e.Snapshot().Session.CardsRevealed)
}

func TestEngine_IgnoresMalformedAndForeignEvents(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	rec := &noticeRecorder{}
	e := loadedEngine(t, st, s.ID, "alice", rec)
	before := e.Snapshot()
	ctx := context.Background()

	malformed := []changefeed.Event{
		{ID: uuid.New(), SessionID: s.ID, Table: changefeed.TableEstimate, Operation: changefeed.OpInsert, After: json.RawMessage(`{"id": 5}`)},
		{ID: uuid.New(), SessionID: s.ID, Table: changefeed.TableParticipant, Operation: changefeed.OpDelete},
		{ID: uuid.New(), SessionID: s.ID, Table: "votes", Operation: changefeed.OpInsert, After: json.RawMessage(`{}`)},
		{ID: uuid.New(), SessionID: s.ID, Table: changefeed.TableSession, Operation: "TRUNCATE"},
	}
	for _, ev := range malformed {
		assert.NoError(t, e.ApplyChange(ctx, ev))
	}

	foreign, err := changefeed.NewEvent(uuid.New(), changefeed.TableParticipant, changefeed.OpInsert, nil,
		models.Participant{ID: uuid.New(), Name: "mallory", JoinedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, e.ApplyChange(ctx, foreign))

	assert.Equal(t, participantNames(before), participantNames(e.Snapshot()))
	assert.Empty(t, e.Snapshot().Estimates)
	assert.Empty(t, rec.all())
}

func TestEngine_DropsEventsBeforeSnapshot(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	events := recordEvents(t, st, s.ID)
	e := newTestEngine(st, s.ID, "alice", nil)

	join(t, st, s.ID, "bob")
	applyAll(t, e, events())
	assert.False(t, e.Loaded())
	assert.Empty(t, e.Snapshot().Participants)
}

func TestEngine_RunResubscribesAndReloads(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	rec := &noticeRecorder{}
	clock := clockwork.NewFakeClock()

	subs := make(chan chan changefeed.Event, 2)
	feed := SubscriberFunc(func(ctx context.Context, sessionID uuid.UUID) (<-chan changefeed.Event, error) {
		ch := make(chan changefeed.Event, 4)
		subs <- ch
		return ch, nil
	})
	e := NewEngine(EngineConfig{
		SessionID:        s.ID,
		UserName:         "alice",
		Store:            st,
		Feed:             feed,
		Notifier:         rec,
		Clock:            clock,
		ResubscribeDelay: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	first := receive(t, subs)
	require.Eventually(t, func() bool { return len(rec.kinds()) == 1 }, time.Second, 5*time.Millisecond)

	// bob joins while the feed is down; that insert is never delivered.
	join(t, st, s.ID, "bob")
	close(first)

	require.Eventually(t, func() bool { return len(rec.kinds()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	receive(t, subs)
	require.Eventually(t, func() bool {
		return len(participantNames(e.Snapshot())) == 2
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.kinds()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []NoticeKind{NoticeConnected, NoticeDisconnected, NoticeConnected}, rec.kinds())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestEngine_RunStopsWhenSessionMissing(t *testing.T) {
	st := newTestStore()
	e := NewEngine(EngineConfig{
		SessionID: uuid.New(),
		UserName:  "alice",
		Store:     st,
		Feed:      st,
	})
	err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_RunStopsWhenFeedReportsMissingSession(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	clock := clockwork.NewFakeClock()
	attempts := 0
	feed := SubscriberFunc(func(ctx context.Context, sessionID uuid.UUID) (<-chan changefeed.Event, error) {
		attempts++
		return nil, fmt.Errorf("dial session feed: %w", models.ErrNotFound)
	})
	e := NewEngine(EngineConfig{
		SessionID: s.ID,
		UserName:  "alice",
		Store:     st,
		Feed:      feed,
		Clock:     clock,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := e.Run(ctx)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, attempts)
}

func TestEngine_SessionDeleteEndsRun(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	rec := &noticeRecorder{}

	subs := make(chan chan changefeed.Event, 1)
	feed := SubscriberFunc(func(ctx context.Context, sessionID uuid.UUID) (<-chan changefeed.Event, error) {
		ch := make(chan changefeed.Event, 1)
		subs <- ch
		return ch, nil
	})
	e := NewEngine(EngineConfig{
		SessionID: s.ID,
		UserName:  "alice",
		Store:     st,
		Feed:      feed,
		Notifier:  rec,
		Clock:     clockwork.NewFakeClock(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	ch := receive(t, subs)
	require.Eventually(t, func() bool { return len(rec.kinds()) == 1 }, time.Second, 5*time.Millisecond)

	deleted, err := changefeed.NewEvent(s.ID, changefeed.TableSession, changefeed.OpDelete, s, nil)
	require.NoError(t, err)
	ch <- deleted

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionNotFound)
	case <-time.After(time.Second):
		t.Fatal("Run kept going after the session was deleted")
	}
	assert.Equal(t, []NoticeKind{NoticeConnected}, rec.kinds())
}

func TestEngine_ApplySessionDelete(t *testing.T) {
	st := newTestStore()
	s := createSession(t, st, "alice", false)
	e := loadedEngine(t, st, s.ID, "alice", nil)

	deleted, err := changefeed.NewEvent(s.ID, changefeed.TableSession, changefeed.OpDelete, s, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, e.ApplyChange(context.Background(), deleted), ErrSessionNotFound)
}

func receive(t *testing.T, subs <-chan chan changefeed.Event) chan changefeed.Event {
	t.Helper()
	select {
	case ch := <-subs:
		return ch
	case <-time.After(time.Second):
		t.Fatal("no subscription")
		return nil
	}
}
