package estimation

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/store"
	"github.com/stretchr/testify/require"
)

// noticeRecorder collects notices for assertions.
type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) kinds() []NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NoticeKind, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Kind)
	}
	return out
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func (r *noticeRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = nil
}

func newTestStore() *store.MemoryStore {
	return store.NewMemoryStore(clockwork.NewFakeClock())
}

func createSession(t *testing.T, st *store.MemoryStore, creator string, allowMembers bool) *models.Session {
	t.Helper()
	s, _, err := st.CreateSession(context.Background(), store.CreateSessionRequest{
		Name:               "Sprint 42",
		CreatorName:        creator,
		SizingType:         models.SizingFibonacci,
		AllowMembersManage: allowMembers,
	})
	require.NoError(t, err)
	return s
}

func join(t *testing.T, st Store, sessionID uuid.UUID, name string) *models.Participant {
	t.Helper()
	p, err := st.InsertParticipant(context.Background(), sessionID, name, false)
	require.NoError(t, err)
	return p
}

func vote(t *testing.T, st Store, sessionID uuid.UUID, name, card string) *models.Estimate {
	t.Helper()
	e, err := st.UpsertEstimate(context.Background(), sessionID, name, &card)
	require.NoError(t, err)
	return e
}

func newTestEngine(st Store, sessionID uuid.UUID, name string, rec *noticeRecorder) *Engine {
	cfg := EngineConfig{
		SessionID: sessionID,
		UserName:  name,
		Store:     st,
	}
	if rec != nil {
		cfg.Notifier = rec
	}
	if sub, ok := st.(Subscriber); ok {
		cfg.Feed = sub
	}
	return NewEngine(cfg)
}

func loadedEngine(t *testing.T, st Store, sessionID uuid.UUID, name string, rec *noticeRecorder) *Engine {
	t.Helper()
	e := newTestEngine(st, sessionID, name, rec)
	require.NoError(t, e.LoadSnapshot(context.Background()))
	return e
}

// recordEvents subscribes to the store and returns a func draining what was published.
func recordEvents(t *testing.T, st *store.MemoryStore, sessionID uuid.UUID) func() []changefeed.Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := st.Subscribe(ctx, sessionID)
	require.NoError(t, err)
	return func() []changefeed.Event {
		var out []changefeed.Event
		for {
			select {
			case ev := <-ch:
				out = append(out, ev)
			default:
				return out
			}
		}
	}
}

func applyAll(t *testing.T, e *Engine, events []changefeed.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, e.ApplyChange(context.Background(), ev))
	}
}

func estimateValues(p Projection) map[string]string {
	out := make(map[string]string, len(p.Estimates))
	for name, e := range p.Estimates {
		out[name] = e.ValueOrEmpty()
	}
	return out
}

func participantNames(p Projection) []string {
	out := make([]string, 0, len(p.Participants))
	for _, pt := range p.Participants {
		out = append(out, pt.Name)
	}
	return out
}

func ptr(s string) *string { return &s }
