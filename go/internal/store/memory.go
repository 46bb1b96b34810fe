package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultSubscriberBuffer is the per-subscriber event buffer of a MemoryStore.
const DefaultSubscriberBuffer = 256

// MemoryStore is an in-process session store that publishes the same row changes the
// Postgres triggers record. A subscriber that falls a full buffer behind is cut off;
// it is expected to resubscribe and reload.
type MemoryStore struct {
	mu           sync.RWMutex
	clock        clockwork.Clock
	last         time.Time
	buffer       int
	sessions     map[uuid.UUID]*models.Session
	participants map[uuid.UUID][]models.Participant
	estimates    map[uuid.UUID]map[string]models.Estimate
	subs         map[*memorySub]struct{}
}

type memorySub struct {
	sessionID uuid.UUID // uuid.Nil receives every session
	ch        chan changefeed.Event
}

// NewMemoryStore creates an empty store. clock may be nil.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:        clock,
		buffer:       DefaultSubscriberBuffer,
		sessions:     make(map[uuid.UUID]*models.Session),
		participants: make(map[uuid.UUID][]models.Participant),
		estimates:    make(map[uuid.UUID]map[string]models.Estimate),
		subs:         make(map[*memorySub]struct{}),
	}
}

// now returns strictly increasing timestamps so join order and update order are total.
// Must be called with mu held.
func (m *MemoryStore) now() time.Time {
	t := m.clock.Now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *MemoryStore) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.Session, *models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := &models.Session{
		ID:                 uuid.New(),
		Name:               req.Name,
		CreatorName:        req.CreatorName,
		SizingType:         req.SizingType,
		AllowMembersManage: req.AllowMembersManage,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.sessions[s.ID] = s
	m.estimates[s.ID] = make(map[string]models.Estimate)

	creator := m.insertParticipantLocked(s.ID, req.CreatorName, true)
	out := *s
	return &out, &creator, nil
}

func (m *MemoryStore) ReadSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id uuid.UUID, upd models.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	before := *s
	if upd.CardsRevealed != nil {
		s.CardsRevealed = *upd.CardsRevealed
	}
	s.UpdatedAt = m.now()
	m.emitLocked(id, changefeed.TableSession, changefeed.OpUpdate, before, *s)
	return nil
}

func (m *MemoryStore) InsertParticipant(ctx context.Context, sessionID uuid.UUID, name string, isCreator bool) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, models.ErrNotFound
	}
	for _, p := range m.participants[sessionID] {
		if p.Name == name || (isCreator && p.IsCreator) {
			return nil, models.ErrConflict
		}
	}
	p := m.insertParticipantLocked(sessionID, name, isCreator)
	return &p, nil
}

func (m *MemoryStore) insertParticipantLocked(sessionID uuid.UUID, name string, isCreator bool) models.Participant {
	p := models.Participant{
		ID:        uuid.New(),
		SessionID: sessionID,
		Name:      name,
		IsCreator: isCreator,
		JoinedAt:  m.now(),
	}
	m.participants[sessionID] = append(m.participants[sessionID], p)
	m.emitLocked(sessionID, changefeed.TableParticipant, changefeed.OpInsert, nil, p)
	return p
}

func (m *MemoryStore) ReadParticipant(ctx context.Context, sessionID uuid.UUID, name string) (*models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.participants[sessionID] {
		if p.Name == name {
			out := p
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryStore) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Participant{}, m.participants[sessionID]...), nil
}

func (m *MemoryStore) DeleteParticipant(ctx context.Context, sessionID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.participants[sessionID]
	for i, p := range list {
		if p.ID == id {
			m.participants[sessionID] = append(list[:i:i], list[i+1:]...)
			m.emitLocked(sessionID, changefeed.TableParticipant, changefeed.OpDelete, p, nil)
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MemoryStore) UpsertEstimate(ctx context.Context, sessionID uuid.UUID, name string, value *string) (*models.Estimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.estimates[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}

	var v *string
	if value != nil {
		c := *value
		v = &c
	}
	now := m.now()
	if existing, ok := set[name]; ok {
		updated := existing
		updated.Value = v
		updated.UpdatedAt = now
		set[name] = updated
		m.emitLocked(sessionID, changefeed.TableEstimate, changefeed.OpUpdate, existing, updated)
		return &updated, nil
	}

	e := models.Estimate{
		ID:        uuid.New(),
		SessionID: sessionID,
		UserName:  name,
		Value:     v,
		CreatedAt: now,
		UpdatedAt: now,
	}
	set[name] = e
	m.emitLocked(sessionID, changefeed.TableEstimate, changefeed.OpInsert, nil, e)
	return &e, nil
}

func (m *MemoryStore) ListEstimates(ctx context.Context, sessionID uuid.UUID) ([]models.Estimate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedEstimates(m.estimates[sessionID]), nil
}

// DeleteAllEstimates removes every estimate, publishing one delete per row.
func (m *MemoryStore) DeleteAllEstimates(ctx context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.estimates[sessionID]
	if !ok {
		return nil
	}
	for _, e := range sortedEstimates(set) {
		delete(set, e.UserName)
		m.emitLocked(sessionID, changefeed.TableEstimate, changefeed.OpDelete, e, nil)
	}
	return nil
}

func sortedEstimates(set map[string]models.Estimate) []models.Estimate {
	out := make([]models.Estimate, 0, len(set))
	for _, e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Subscribe streams the changes of one session, starting with the next commit.
func (m *MemoryStore) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan changefeed.Event, error) {
	return m.subscribe(ctx, sessionID), nil
}

// SubscribeAll streams the changes of every session.
func (m *MemoryStore) SubscribeAll(ctx context.Context) (<-chan changefeed.Event, error) {
	return m.subscribe(ctx, uuid.Nil), nil
}

func (m *MemoryStore) subscribe(ctx context.Context, sessionID uuid.UUID) <-chan changefeed.Event {
	sub := &memorySub{sessionID: sessionID, ch: make(chan changefeed.Event, m.buffer)}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		m.dropLocked(sub)
		m.mu.Unlock()
	}()
	return sub.ch
}

func (m *MemoryStore) dropLocked(sub *memorySub) {
	if _, ok := m.subs[sub]; ok {
		delete(m.subs, sub)
		close(sub.ch)
	}
}

// emitLocked must be called with mu held so subscribers observe commit order.
func (m *MemoryStore) emitLocked(sessionID uuid.UUID, table changefeed.Table, op changefeed.Operation, before, after any) {
	if len(m.subs) == 0 {
		return
	}
	ev, err := changefeed.NewEvent(sessionID, table, op, before, after)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to build change event")
		return
	}
	ev.CommittedAt = m.last
	for sub := range m.subs {
		if sub.sessionID != uuid.Nil && sub.sessionID != sessionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Warn().Str("session_id", sessionID.String()).Msg("subscriber too slow, dropping subscription")
			m.dropLocked(sub)
		}
	}
}
