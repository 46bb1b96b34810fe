package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/estimation"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/store"
	"github.com/rs/zerolog/log"
)

// Sessions defines what the HTTP API needs from the session store.
type Sessions interface {
	estimation.Store
	CreateSession(ctx context.Context, req store.CreateSessionRequest) (*models.Session, *models.Participant, error)
}

// Handler serves the administrative endpoints and the session data surface that
// remote clients use as their store.
type Handler struct {
	sessions Sessions
	identity *estimation.IdentityResolver
	sizing   []models.SizingType
}

// NewHandler creates the API handler. Only the given sizing types may be used for new
// sessions; an empty list enables all of them.
func NewHandler(sessions Sessions, enabled []models.SizingType) *Handler {
	if len(enabled) == 0 {
		enabled = models.AllSizingTypes()
	}
	return &Handler{
		sessions: sessions,
		identity: estimation.NewIdentityResolver(sessions, nil),
		sizing:   enabled,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.CreateSession)
	mux.HandleFunc("POST /api/sessions/{id}/join", h.JoinSession)
	mux.HandleFunc("POST /api/sessions/{id}/check-user", h.CheckUser)

	mux.HandleFunc("GET /api/sessions/{id}", h.GetSession)
	mux.HandleFunc("PATCH /api/sessions/{id}", h.UpdateSession)
	mux.HandleFunc("GET /api/sessions/{id}/participants", h.ListParticipants)
	mux.HandleFunc("DELETE /api/sessions/{id}/participants/{pid}", h.DeleteParticipant)
	mux.HandleFunc("GET /api/sessions/{id}/estimates", h.ListEstimates)
	mux.HandleFunc("PUT /api/sessions/{id}/estimates/{name}", h.PutEstimate)
	mux.HandleFunc("DELETE /api/sessions/{id}/estimates", h.DeleteEstimates)
}

// CreateSession handles POST /api/sessions. The session and its creator are written
// together.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, errSessionName)
		return
	}
	creator, err := estimation.NormalizeName(req.CreatorName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sizing := models.SizingFibonacci
	if req.SizingType != "" {
		if sizing, err = models.ParseSizingType(req.SizingType); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", errInvalidBody, err))
			return
		}
	}
	if !slices.Contains(h.sizing, sizing) {
		writeError(w, r, errSizingDisabled)
		return
	}

	session, participant, err := h.sessions.CreateSession(r.Context(), store.CreateSessionRequest{
		Name:               name,
		CreatorName:        creator,
		SizingType:         sizing,
		AllowMembersManage: req.AllowMembersManage,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("creator", creator).
		Str("sizing_type", string(sizing)).
		Msg("Session created")
	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: session.ID.String(),
		Creator:   participant,
	})
}

// JoinSession handles POST /api/sessions/{id}/join.
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	var req UserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.identity.Join(r.Context(), sessionID, req.UserName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{Participant: p})
}

// CheckUser handles POST /api/sessions/{id}/check-user.
func (h *Handler) CheckUser(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	var req UserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name, err := estimation.NormalizeName(req.UserName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.identity.Resolve(r.Context(), sessionID, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckUserResponse{Exists: p != nil, User: p})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	s, err := h.sessions.ReadSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateSession handles PATCH /api/sessions/{id}. Only cards_revealed is mutable.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	var upd models.SessionUpdate
	if err := decodeBody(r, &upd); err != nil {
		writeError(w, r, err)
		return
	}
	if upd.CardsRevealed == nil {
		writeError(w, r, errNothingToUpdate)
		return
	}
	if err := h.sessions.UpdateSession(r.Context(), sessionID, upd); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	ps, err := h.sessions.ListParticipants(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []models.Participant{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handler) DeleteParticipant(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(r.PathValue("pid"))
	if err != nil {
		writeError(w, r, errInvalidID)
		return
	}
	if err := h.sessions.DeleteParticipant(r.Context(), sessionID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListEstimates(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	es, err := h.sessions.ListEstimates(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if es == nil {
		es = []models.Estimate{}
	}
	writeJSON(w, http.StatusOK, es)
}

// PutEstimate handles PUT /api/sessions/{id}/estimates/{name}. Only participants can
// vote; cards are checked against the session's deck and refused while the round is
// revealed.
func (h *Handler) PutEstimate(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	name, err := estimation.NormalizeName(r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req EstimateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.sessions.ReadSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.CardsRevealed {
		writeError(w, r, estimation.ErrRoundLocked)
		return
	}
	if req.Value != nil && *req.Value != "" && !s.SizingType.HasCard(*req.Value) {
		writeError(w, r, estimation.ErrInvalidCard)
		return
	}
	if _, err := h.sessions.ReadParticipant(r.Context(), sessionID, name); err != nil {
		writeError(w, r, err)
		return
	}

	e, err := h.sessions.UpsertEstimate(r.Context(), sessionID, name, req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) DeleteEstimates(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	if err := h.sessions.DeleteAllEstimates(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, errInvalidSessionID)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}
