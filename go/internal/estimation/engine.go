package estimation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultResubscribeDelay is how long Run waits before resubscribing after the feed ends.
const DefaultResubscribeDelay = 2 * time.Second

// Clock is the subset of clockwork.Clock the engine uses.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// EngineConfig wires an Engine. Store, Feed, SessionID and UserName are required.
type EngineConfig struct {
	SessionID        uuid.UUID
	UserName         string
	Store            Store
	Feed             Subscriber
	Notifier         Notifier
	Logger           *zerolog.Logger
	Clock            Clock
	ResubscribeDelay time.Duration
}

// Engine owns the local projection of one session for one identity. It loads a
// snapshot, folds change events into it and reloads after every resubscription.
type Engine struct {
	sessionID uuid.UUID
	self      string
	store     Store
	feed      Subscriber
	notifier  Notifier
	logger    zerolog.Logger
	clock     Clock
	delay     time.Duration

	mu     sync.RWMutex
	proj   Projection
	loaded bool
	intent uint64
}

// NewEngine creates an engine for cfg.UserName in cfg.SessionID.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		sessionID: cfg.SessionID,
		self:      cfg.UserName,
		store:     cfg.Store,
		feed:      cfg.Feed,
		notifier:  cfg.Notifier,
		clock:     cfg.Clock,
		delay:     cfg.ResubscribeDelay,
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if cfg.Logger != nil {
		e.logger = *cfg.Logger
	} else {
		e.logger = zerolog.Nop()
	}
	e.logger = e.logger.With().Str("session_id", cfg.SessionID.String()).Str("user_name", cfg.UserName).Logger()
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.delay <= 0 {
		e.delay = DefaultResubscribeDelay
	}
	return e
}

// SessionID returns the session this engine tracks.
func (e *Engine) SessionID() uuid.UUID { return e.sessionID }

// UserName returns the local identity.
func (e *Engine) UserName() string { return e.self }

// Snapshot returns a copy of the current projection.
func (e *Engine) Snapshot() Projection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.proj.Clone()
}

// Loaded reports whether a snapshot has been installed.
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Stats aggregates the current estimates. It is empty while cards are hidden.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	revealed := e.proj.Session != nil && e.proj.Session.CardsRevealed
	return Aggregate(e.proj.EstimateList(), revealed)
}

// LoadSnapshot reads the session, its participants and its estimates and installs them
// as the projection. The local selection is taken from the identity's stored estimate.
func (e *Engine) LoadSnapshot(ctx context.Context) error {
	var (
		session      *models.Session
		participants []models.Participant
		estimates    []models.Estimate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := e.store.ReadSession(gctx, e.sessionID)
		if err != nil {
			return sessionReadError("read session", err)
		}
		session = s
		return nil
	})
	g.Go(func() error {
		ps, err := e.store.ListParticipants(gctx, e.sessionID)
		if err != nil {
			return persistenceError("list participants", err)
		}
		participants = ps
		return nil
	})
	g.Go(func() error {
		es, err := e.store.ListEstimates(gctx, e.sessionID)
		if err != nil {
			return persistenceError("list estimates", err)
		}
		estimates = es
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	proj := newProjection(session, participants, estimates)
	if own, ok := proj.Estimates[e.self]; ok && own.HasValue() {
		v := *own.Value
		proj.SelectedCard = &v
	}

	e.mu.Lock()
	e.proj = proj
	e.loaded = true
	e.intent++
	e.mu.Unlock()

	e.logger.Debug().
		Int("participants", len(participants)).
		Int("estimates", len(estimates)).
		Bool("cards_revealed", session.CardsRevealed).
		Msg("Loaded session snapshot")
	return nil
}

// ApplyChange folds one change event into the projection. Malformed events and events
// for other sessions are logged and ignored. A session delete returns ErrSessionNotFound
// and a hide transition reloads the whole state; nothing else returns an error.
func (e *Engine) ApplyChange(ctx context.Context, ev changefeed.Event) error {
	if ev.SessionID != e.sessionID {
		e.logger.Warn().Str("event_session_id", ev.SessionID.String()).Msg("Ignoring change for another session")
		return nil
	}
	if err := ev.Validate(); err != nil {
		e.logger.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("Ignoring malformed change")
		return nil
	}

	var (
		notices []Notice
		reload  bool
		deleted bool
		err     error
	)

	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		e.logger.Debug().Str("event_id", ev.ID.String()).Msg("Dropping change received before snapshot")
		return nil
	}
	switch ev.Table {
	case changefeed.TableSession:
		if ev.Operation == changefeed.OpDelete {
			deleted = true
			break
		}
		notices, reload, err = e.applySession(ev)
	case changefeed.TableParticipant:
		notices, err = e.applyParticipant(ev)
	case changefeed.TableEstimate:
		notices, err = e.applyEstimate(ev)
	}
	e.mu.Unlock()

	if deleted {
		return ErrSessionNotFound
	}
	if err != nil {
		e.logger.Warn().Err(err).
			Str("event_id", ev.ID.String()).
			Str("table", string(ev.Table)).
			Str("operation", string(ev.Operation)).
			Msg("Ignoring undecodable change")
		return nil
	}

	for _, n := range notices {
		e.notifier.Notify(n)
	}

	if reload {
		e.logger.Info().Msg("Cards hidden, reloading session state")
		if err := e.LoadSnapshot(ctx); err != nil {
			return fmt.Errorf("reload after hide: %w", err)
		}
		e.notifier.Notify(Notice{Kind: NoticeHidden})
	}
	return nil
}

// applySession must be called with mu held.
func (e *Engine) applySession(ev changefeed.Event) ([]Notice, bool, error) {
	if ev.Operation != changefeed.OpUpdate {
		return nil, false, nil
	}
	next, err := changefeed.DecodeSession(ev.After)
	if err != nil {
		return nil, false, err
	}
	prev := e.proj.Session
	if prev != nil && next.UpdatedAt.Before(prev.UpdatedAt) {
		return nil, false, nil
	}
	e.proj.Session = next

	if prev == nil || prev.CardsRevealed == next.CardsRevealed {
		return nil, false, nil
	}
	if next.CardsRevealed {
		return []Notice{{Kind: NoticeRevealed}}, false, nil
	}
	return nil, true, nil
}

// applyParticipant must be called with mu held.
func (e *Engine) applyParticipant(ev changefeed.Event) ([]Notice, error) {
	switch ev.Operation {
	case changefeed.OpInsert:
		p, err := changefeed.DecodeParticipant(ev.After)
		if err != nil {
			return nil, err
		}
		if !e.proj.addParticipant(*p) || p.Name == e.self {
			return nil, nil
		}
		return []Notice{{Kind: NoticeJoined, UserName: p.Name}}, nil
	case changefeed.OpDelete:
		p, err := changefeed.DecodeParticipant(ev.Before)
		if err != nil {
			return nil, err
		}
		removed, ok := e.proj.removeParticipant(p.ID)
		if !ok || removed.Name == e.self {
			return nil, nil
		}
		return []Notice{{Kind: NoticeLeft, UserName: removed.Name}}, nil
	}
	return nil, nil
}

// applyEstimate must be called with mu held.
func (e *Engine) applyEstimate(ev changefeed.Event) ([]Notice, error) {
	switch ev.Operation {
	case changefeed.OpInsert:
		est, err := changefeed.DecodeEstimate(ev.After)
		if err != nil {
			return nil, err
		}
		prev, hadPrev, applied := e.proj.mergeEstimate(*est)
		if !applied || est.UserName == e.self || !est.HasValue() {
			return nil, nil
		}
		if hadPrev && prev.ID == est.ID && prev.ValueOrEmpty() == est.ValueOrEmpty() {
			return nil, nil
		}
		return []Notice{{Kind: NoticeSubmitted, UserName: est.UserName, Value: est.ValueOrEmpty()}}, nil
	case changefeed.OpUpdate:
		est, err := changefeed.DecodeEstimate(ev.After)
		if err != nil {
			return nil, err
		}
		prev, hadPrev, applied := e.proj.replaceEstimate(*est)
		if !applied || est.UserName == e.self {
			return nil, nil
		}
		prior := ""
		if hadPrev {
			prior = prev.ValueOrEmpty()
		}
		switch {
		case prior == est.ValueOrEmpty():
			return nil, nil
		case prior == "":
			return []Notice{{Kind: NoticeSubmitted, UserName: est.UserName, Value: est.ValueOrEmpty()}}, nil
		default:
			return []Notice{{Kind: NoticeChanged, UserName: est.UserName, Previous: prior, Value: est.ValueOrEmpty()}}, nil
		}
	case changefeed.OpDelete:
		est, err := changefeed.DecodeEstimate(ev.Before)
		if err != nil {
			return nil, err
		}
		before := len(e.proj.Estimates)
		if _, ok := e.proj.removeEstimate(est.ID); !ok {
			return nil, nil
		}
		if before > 0 && len(e.proj.Estimates) == 0 {
			e.proj.SelectedCard = nil
			e.intent++
			return []Notice{{Kind: NoticeRoundReset}}, nil
		}
	}
	return nil, nil
}

// Run subscribes to the session feed, loads a snapshot and folds events until ctx is
// done. Whenever the feed ends it waits, resubscribes and loads a fresh snapshot, since
// events missed while disconnected are never replayed. Run returns ErrSessionNotFound
// when the session disappears and ctx.Err() on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	connected := false
	for {
		err := e.runOnce(ctx, &connected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrSessionNotFound) {
			e.logger.Warn().Msg("Session no longer exists, stopping")
			return err
		}
		if err != nil {
			e.logger.Warn().Err(err).Dur("retry_in", e.delay).Msg("Session feed interrupted")
		} else {
			e.logger.Info().Dur("retry_in", e.delay).Msg("Session feed closed")
		}
		if connected {
			connected = false
			e.notifier.Notify(Notice{Kind: NoticeDisconnected})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(e.delay):
		}
	}
}

func (e *Engine) runOnce(ctx context.Context, connected *bool) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before reading so nothing committed between the two is lost.
	events, err := e.feed.Subscribe(subCtx, e.sessionID)
	if err != nil {
		return sessionReadError("subscribe", err)
	}
	if err := e.LoadSnapshot(subCtx); err != nil {
		return err
	}
	*connected = true
	e.notifier.Notify(Notice{Kind: NoticeConnected})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := e.ApplyChange(subCtx, ev); err != nil {
				return err
			}
		}
	}
}
