package estimation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
)

// CachedIdentity is a locally remembered membership. It is only a hint: it must be
// revalidated against the store before use.
type CachedIdentity struct {
	SessionID uuid.UUID `json:"sessionId"`
	UserName  string    `json:"userName"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// IdentityCache defines what the resolver needs from the local identity store.
// Lookup returns nil, nil when nothing is cached for the session.
type IdentityCache interface {
	Lookup(ctx context.Context, sessionID uuid.UUID) (*CachedIdentity, error)
	Remember(ctx context.Context, sessionID uuid.UUID, userName string) error
	Forget(ctx context.Context, sessionID uuid.UUID) error
	LastUsedName(ctx context.Context) (string, error)
}

// IdentityResolver answers whether a display name is a member of a session and runs
// the join and re-entry flows. Cache may be nil on the server side.
type IdentityResolver struct {
	store Store
	cache IdentityCache
}

// NewIdentityResolver creates a resolver. cache may be nil.
func NewIdentityResolver(store Store, cache IdentityCache) *IdentityResolver {
	return &IdentityResolver{store: store, cache: cache}
}

// NormalizeName trims a display name and rejects empty ones.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

// Resolve returns the participant named name, or nil when absent.
func (r *IdentityResolver) Resolve(ctx context.Context, sessionID uuid.UUID, name string) (*models.Participant, error) {
	p, err := r.store.ReadParticipant(ctx, sessionID, name)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("read participant", err)
	}
	return p, nil
}

// Join adds name to the session. The name check is backed by the store's uniqueness
// constraint, so a concurrent join of the same name also yields ErrNameTaken.
func (r *IdentityResolver) Join(ctx context.Context, sessionID uuid.UUID, name string) (*models.Participant, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.ReadSession(ctx, sessionID); err != nil {
		return nil, sessionReadError("read session", err)
	}

	existing, err := r.Resolve(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrNameTaken
	}

	p, err := r.store.InsertParticipant(ctx, sessionID, name, false)
	if errors.Is(err, models.ErrConflict) {
		return nil, ErrNameTaken
	}
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, persistenceError("insert participant", err)
	}

	r.remember(ctx, sessionID, name)
	log.Info().Str("session_id", sessionID.String()).Str("user_name", name).Msg("Participant joined")
	return p, nil
}

// Remember caches name as the identity for the session, for example after creating it.
func (r *IdentityResolver) Remember(ctx context.Context, sessionID uuid.UUID, name string) {
	r.remember(ctx, sessionID, name)
}

func (r *IdentityResolver) remember(ctx context.Context, sessionID uuid.UUID, name string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Remember(ctx, sessionID, name); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to cache identity")
	}
}

// Revalidate checks the cached identity for the session against the store. It returns
// ErrRejoinRequired when nothing is cached or the participant no longer exists, and
// drops the stale cache entry in the latter case.
func (r *IdentityResolver) Revalidate(ctx context.Context, sessionID uuid.UUID) (*models.Participant, error) {
	if r.cache == nil {
		return nil, ErrRejoinRequired
	}
	cached, err := r.cache.Lookup(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to read identity cache")
		return nil, ErrRejoinRequired
	}
	if cached == nil {
		return nil, ErrRejoinRequired
	}

	if _, err := r.store.ReadSession(ctx, sessionID); err != nil {
		return nil, sessionReadError("read session", err)
	}
	p, err := r.Resolve(ctx, sessionID, cached.UserName)
	if err != nil {
		return nil, err
	}
	if p == nil {
		if err := r.cache.Forget(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to drop stale identity")
		}
		return nil, ErrRejoinRequired
	}
	return p, nil
}

// Leave removes the participant from the session and forgets the cached identity.
func (r *IdentityResolver) Leave(ctx context.Context, sessionID uuid.UUID, name string) error {
	p, err := r.Resolve(ctx, sessionID, name)
	if err != nil {
		return err
	}
	if p != nil {
		if err := r.store.DeleteParticipant(ctx, sessionID, p.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return persistenceError("delete participant", err)
		}
	}
	if r.cache != nil {
		if err := r.cache.Forget(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to forget identity")
		}
	}
	return nil
}
