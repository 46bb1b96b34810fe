package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// StateProvider defines the reads the gateway needs from the session store
type StateProvider interface {
	ReadSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	ListEstimates(ctx context.Context, sessionID uuid.UUID) ([]models.Estimate, error)
}

// SessionState is a point-in-time snapshot for clients that (re)connect
type SessionState struct {
	Session      *models.Session      `json:"session"`
	Participants []models.Participant `json:"participants"`
	Estimates    []models.Estimate    `json:"estimates"`
	ServerTime   time.Time            `json:"server_time"`
}

// StateHandler handles HTTP requests for session state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// LoadState reads the three parts of a session concurrently.
func LoadState(ctx context.Context, provider StateProvider, sessionID uuid.UUID) (*SessionState, error) {
	state := &SessionState{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := provider.ReadSession(gctx, sessionID)
		state.Session = s
		return err
	})
	g.Go(func() error {
		ps, err := provider.ListParticipants(gctx, sessionID)
		state.Participants = ps
		return err
	})
	g.Go(func() error {
		es, err := provider.ListEstimates(gctx, sessionID)
		state.Estimates = es
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if state.Participants == nil {
		state.Participants = []models.Participant{}
	}
	if state.Estimates == nil {
		state.Estimates = []models.Estimate{}
	}
	state.ServerTime = time.Now().UTC()
	return state, nil
}

// HandleGetSessionState handles GET /api/sessions/{id}/state
func (h *StateHandler) HandleGetSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid session ID format", http.StatusBadRequest)
		return
	}

	state, err := LoadState(r.Context(), h.stateProvider, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to get session state")
		http.Error(w, "Failed to get session state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode session state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{id}/state", h.HandleGetSessionState)
}
