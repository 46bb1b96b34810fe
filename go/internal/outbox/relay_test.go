package outbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu      sync.Mutex
	changes []changefeed.Event
	sent    map[uuid.UUID]bool
}

func newFakeRepo(evs ...changefeed.Event) *fakeRepo {
	return &fakeRepo{changes: evs, sent: make(map[uuid.UUID]bool)}
}

func (r *fakeRepo) FetchChange(ctx context.Context, id uuid.UUID) (*changefeed.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.changes {
		if ev.ID == id && !r.sent[id] {
			out := ev
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *fakeRepo) FetchUnsent(ctx context.Context, limit int32) ([]changefeed.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []changefeed.Event
	for _, ev := range r.changes {
		if !r.sent[ev.ID] && int32(len(out)) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkSent(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[id] = true
	return nil
}

func (r *fakeRepo) CountPending(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.changes) - len(r.sent)), nil
}

type fakePublisher struct {
	mu        sync.Mutex
	failures  int
	published []uuid.UUID
}

func (p *fakePublisher) Publish(ctx context.Context, ev changefeed.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("nats: timeout")
	}
	p.published = append(p.published, ev.ID)
	return nil
}

func (p *fakePublisher) ids() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.published...)
}

func testChange(t *testing.T, sessionID uuid.UUID) changefeed.Event {
	t.Helper()
	ev, err := changefeed.NewEvent(sessionID, changefeed.TableEstimate, changefeed.OpInsert, nil,
		models.Estimate{ID: uuid.New(), SessionID: sessionID, UserName: "bob"})
	require.NoError(t, err)
	return ev
}

func TestRelay_ProcessUnsentInOrder(t *testing.T) {
	sid := uuid.New()
	a, b, c := testChange(t, sid), testChange(t, sid), testChange(t, sid)
	repo := newFakeRepo(a, b, c)
	pub := &fakePublisher{}
	reg := prometheus.NewRegistry()
	relay := NewRelay(repo, pub, NewPrometheusMetrics(reg), clockwork.NewFakeClock(), DefaultRelayConfig())

	require.NoError(t, relay.ProcessUnsent(context.Background()))

	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, pub.ids())
	pending, _ := repo.CountPending(context.Background())
	assert.Zero(t, pending)
	processed, _ := relay.Stats()
	assert.Equal(t, uint64(3), processed)

	m := relay.metrics.(*PrometheusMetrics)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.eventCounter.WithLabelValues("estimates", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.outboxLag))
}

func TestRelay_HandleNotification(t *testing.T) {
	ev := testChange(t, uuid.New())
	repo := newFakeRepo(ev)
	pub := &fakePublisher{}
	relay := NewRelay(repo, pub, nil, clockwork.NewFakeClock(), DefaultRelayConfig())
	ctx := context.Background()

	require.NoError(t, relay.HandleNotification(ctx, ev.ID.String()))
	// A second notification for the same change is a no-op.
	require.NoError(t, relay.HandleNotification(ctx, ev.ID.String()))
	assert.Equal(t, []uuid.UUID{ev.ID}, pub.ids())

	assert.Error(t, relay.HandleNotification(ctx, "not-a-uuid"))
}

func TestRelay_RetriesWithBackoff(t *testing.T) {
	ev := testChange(t, uuid.New())
	repo := newFakeRepo(ev)
	pub := &fakePublisher{failures: 2}
	clock := clockwork.NewFakeClock()
	cfg := RelayConfig{MaxRetries: 3, RetryDelay: time.Second, BatchSize: 10}
	relay := NewRelay(repo, pub, nil, clock, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- relay.ProcessUnsent(ctx) }()

	// First retry waits one delay, the second waits two.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	require.NoError(t, <-done)
	assert.Equal(t, []uuid.UUID{ev.ID}, pub.ids())
}

func TestRelay_StopsBatchOnFailure(t *testing.T) {
	sid := uuid.New()
	a, b := testChange(t, sid), testChange(t, sid)
	repo := newFakeRepo(a, b)
	pub := &fakePublisher{failures: 1}
	relay := NewRelay(repo, pub, nil, clockwork.NewFakeClock(), RelayConfig{MaxRetries: 0, BatchSize: 10})

	require.NoError(t, relay.ProcessUnsent(context.Background()))
	assert.Empty(t, pub.ids(), "later changes wait for the failed one")

	require.NoError(t, relay.ProcessUnsent(context.Background()))
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, pub.ids())
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

type fakeListener bool

func (l fakeListener) Running() bool { return bool(l) }

func TestHealthChecker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ev := testChange(t, uuid.New())

	t.Run("healthy", func(t *testing.T) {
		relay := NewRelay(newFakeRepo(), &fakePublisher{}, nil, clock, DefaultRelayConfig())
		h := NewHealthChecker(relay, fakeListener(true), newFakeRepo(), fakePinger{}, fakeConn(true), time.Minute)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"healthy":true`)
	})

	t.Run("dependencies down", func(t *testing.T) {
		relay := NewRelay(newFakeRepo(), &fakePublisher{}, nil, clock, DefaultRelayConfig())
		h := NewHealthChecker(relay, fakeListener(false), newFakeRepo(), fakePinger{err: errors.New("refused")}, fakeConn(false), time.Minute)

		status := h.Check(context.Background())
		assert.False(t, status.Healthy)
		assert.False(t, status.DatabaseConnected)
		assert.False(t, status.NATSConnected)
		assert.Len(t, status.Errors, 3)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("stale backlog", func(t *testing.T) {
		repo := newFakeRepo(testChange(t, uuid.New()))
		relay := NewRelay(repo, &fakePublisher{}, nil, clock, DefaultRelayConfig())
		require.NoError(t, relay.HandleNotification(context.Background(), repo.changes[0].ID.String()))
		repo.changes = append(repo.changes, ev)

		h := NewHealthChecker(relay, fakeListener(true), repo, fakePinger{}, fakeConn(true), time.Minute)
		assert.True(t, h.Check(context.Background()).Healthy)

		clock.Advance(2 * time.Minute)
		status := h.Check(context.Background())
		assert.False(t, status.Healthy)
		assert.Equal(t, int64(1), status.PendingEvents)
	})
}
