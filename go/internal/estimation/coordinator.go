package estimation

import (
	"context"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog"
)

// Coordinator gates round actions for the engine's identity and writes them to the
// store. Confirmation of every write arrives through the change feed.
type Coordinator struct {
	engine   *Engine
	store    Store
	notifier Notifier
	logger   zerolog.Logger
}

// NewCoordinator creates a coordinator acting as engine's identity.
func NewCoordinator(engine *Engine, store Store) *Coordinator {
	return &Coordinator{
		engine:   engine,
		store:    store,
		notifier: engine.notifier,
		logger:   engine.logger,
	}
}

// CanManage reports whether the local identity may reveal, hide or clear.
func (c *Coordinator) CanManage() bool {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	return c.canManageLocked()
}

func (c *Coordinator) canManageLocked() bool {
	p := &c.engine.proj
	if p.Session == nil {
		return false
	}
	return p.Session.CanManage(p.Participant(c.engine.self))
}

// ToggleReveal flips cards_revealed for the whole session.
func (c *Coordinator) ToggleReveal(ctx context.Context) error {
	c.engine.mu.RLock()
	if !c.engine.loaded {
		c.engine.mu.RUnlock()
		return ErrNotLoaded
	}
	allowed := c.canManageLocked()
	revealed := c.engine.proj.Session.CardsRevealed
	c.engine.mu.RUnlock()

	if !allowed {
		return ErrNotAuthorized
	}

	next := !revealed
	if err := c.store.UpdateSession(ctx, c.engine.sessionID, models.SessionUpdate{CardsRevealed: &next}); err != nil {
		c.logger.Error().Err(err).Bool("cards_revealed", next).Msg("Failed to toggle reveal")
		return sessionReadError("update session", err)
	}
	c.logger.Info().Bool("cards_revealed", next).Msg("Toggled reveal")
	return nil
}

// ClearRound hides the cards and then deletes every estimate of the session. The two
// writes are not atomic; readers may briefly see hidden but uncleared estimates.
func (c *Coordinator) ClearRound(ctx context.Context) error {
	c.engine.mu.RLock()
	if !c.engine.loaded {
		c.engine.mu.RUnlock()
		return ErrNotLoaded
	}
	allowed := c.canManageLocked()
	c.engine.mu.RUnlock()

	if !allowed {
		return ErrNotAuthorized
	}

	hidden := false
	if err := c.store.UpdateSession(ctx, c.engine.sessionID, models.SessionUpdate{CardsRevealed: &hidden}); err != nil {
		c.logger.Error().Err(err).Msg("Failed to hide cards before clearing")
		return sessionReadError("hide cards", err)
	}
	if err := c.store.DeleteAllEstimates(ctx, c.engine.sessionID); err != nil {
		c.logger.Error().Err(err).Msg("Failed to clear estimates")
		return persistenceError("clear estimates", err)
	}
	c.logger.Info().Msg("Cleared round")
	return nil
}

// SelectEstimate records card as the identity's estimate. The local selection changes
// immediately and is restored if the write fails, unless a newer selection or a round
// reset happened in the meantime.
func (c *Coordinator) SelectEstimate(ctx context.Context, card string) error {
	e := c.engine

	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	if e.proj.Session.CardsRevealed {
		e.mu.Unlock()
		return ErrRoundLocked
	}
	if !e.proj.Session.SizingType.HasCard(card) {
		e.mu.Unlock()
		return ErrInvalidCard
	}
	previous := e.proj.SelectedCard
	selected := card
	e.proj.SelectedCard = &selected
	e.intent++
	intent := e.intent
	e.mu.Unlock()

	value := card
	if _, err := c.store.UpsertEstimate(ctx, e.sessionID, e.self, &value); err != nil {
		e.mu.Lock()
		if e.intent == intent {
			e.proj.SelectedCard = previous
		}
		e.mu.Unlock()
		c.logger.Error().Err(err).Str("card", card).Msg("Failed to submit estimate")
		return persistenceError("submit estimate", err)
	}

	if previous != nil && *previous != card {
		c.notifier.Notify(Notice{Kind: NoticeOwnChanged, UserName: e.self, Previous: *previous, Value: card})
	} else if previous == nil {
		c.notifier.Notify(Notice{Kind: NoticeOwnSubmitted, UserName: e.self, Value: card})
	}
	return nil
}
