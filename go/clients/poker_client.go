package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/api"
	"github.com/mcdev12/planningpoker/go/internal/estimation"
	"github.com/mcdev12/planningpoker/go/internal/gateway"
	"github.com/mcdev12/planningpoker/go/internal/models"
)

// PokerClient talks to the planning poker HTTP API. It implements estimation.Store so
// a remote client runs the same engine as an in-process one.
type PokerClient struct {
	*BaseClient
}

var _ estimation.Store = (*PokerClient)(nil)

func NewPokerClient(baseURL string) *PokerClient {
	return &PokerClient{BaseClient: NewBaseClient(baseURL)}
}

func sessionPath(id uuid.UUID) string {
	return "/api/sessions/" + id.String()
}

func decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return v, nil
}

// CreateSession creates a session; the creator is added as its first participant.
func (c *PokerClient) CreateSession(ctx context.Context, req api.CreateSessionRequest) (uuid.UUID, *models.Participant, error) {
	body, err := c.Post(ctx, "/api/sessions", req)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	resp, err := decode[api.CreateSessionResponse](body)
	if err != nil {
		return uuid.Nil, nil, err
	}
	id, err := uuid.Parse(resp.SessionID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid session id in response: %w", err)
	}
	return id, resp.Creator, nil
}

// Join joins the session under name. It returns estimation.ErrSessionNotFound or
// estimation.ErrNameTaken for the matching responses.
func (c *PokerClient) Join(ctx context.Context, sessionID uuid.UUID, name string) (*models.Participant, error) {
	body, err := c.Post(ctx, sessionPath(sessionID)+"/join", api.UserRequest{UserName: name})
	switch {
	case errors.Is(err, models.ErrNotFound):
		return nil, estimation.ErrSessionNotFound
	case errors.Is(err, models.ErrConflict):
		return nil, estimation.ErrNameTaken
	case err != nil:
		return nil, fmt.Errorf("failed to join session: %w", err)
	}
	resp, err := decode[api.JoinResponse](body)
	if err != nil {
		return nil, err
	}
	return resp.Participant, nil
}

func (c *PokerClient) CheckUser(ctx context.Context, sessionID uuid.UUID, name string) (*api.CheckUserResponse, error) {
	body, err := c.Post(ctx, sessionPath(sessionID)+"/check-user", api.UserRequest{UserName: name})
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	resp, err := decode[api.CheckUserResponse](body)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// State fetches the full snapshot served by the gateway.
func (c *PokerClient) State(ctx context.Context, sessionID uuid.UUID) (*gateway.SessionState, error) {
	body, err := c.Get(ctx, sessionPath(sessionID)+"/state")
	if err != nil {
		return nil, fmt.Errorf("failed to get session state: %w", err)
	}
	state, err := decode[gateway.SessionState](body)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *PokerClient) ReadSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	body, err := c.Get(ctx, sessionPath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s, err := decode[models.Session](body)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *PokerClient) UpdateSession(ctx context.Context, id uuid.UUID, upd models.SessionUpdate) error {
	if _, err := c.Patch(ctx, sessionPath(id), upd); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// InsertParticipant joins through the API. Creators are only added by CreateSession.
func (c *PokerClient) InsertParticipant(ctx context.Context, sessionID uuid.UUID, name string, isCreator bool) (*models.Participant, error) {
	if isCreator {
		return nil, errors.New("creators are added when the session is created")
	}
	body, err := c.Post(ctx, sessionPath(sessionID)+"/join", api.UserRequest{UserName: name})
	if err != nil {
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}
	resp, err := decode[api.JoinResponse](body)
	if err != nil {
		return nil, err
	}
	return resp.Participant, nil
}

func (c *PokerClient) ReadParticipant(ctx context.Context, sessionID uuid.UUID, name string) (*models.Participant, error) {
	resp, err := c.CheckUser(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	if !resp.Exists || resp.User == nil {
		return nil, models.ErrNotFound
	}
	return resp.User, nil
}

func (c *PokerClient) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	body, err := c.Get(ctx, sessionPath(sessionID)+"/participants")
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return decode[[]models.Participant](body)
}

func (c *PokerClient) DeleteParticipant(ctx context.Context, sessionID, id uuid.UUID) error {
	if _, err := c.Delete(ctx, sessionPath(sessionID)+"/participants/"+id.String()); err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	return nil
}

func (c *PokerClient) UpsertEstimate(ctx context.Context, sessionID uuid.UUID, name string, value *string) (*models.Estimate, error) {
	endpoint := sessionPath(sessionID) + "/estimates/" + url.PathEscape(name)
	body, err := c.Put(ctx, endpoint, api.EstimateRequest{Value: value})
	if err != nil {
		return nil, fmt.Errorf("failed to save estimate: %w", err)
	}
	e, err := decode[models.Estimate](body)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *PokerClient) ListEstimates(ctx context.Context, sessionID uuid.UUID) ([]models.Estimate, error) {
	body, err := c.Get(ctx, sessionPath(sessionID)+"/estimates")
	if err != nil {
		return nil, fmt.Errorf("failed to list estimates: %w", err)
	}
	return decode[[]models.Estimate](body)
}

func (c *PokerClient) DeleteAllEstimates(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := c.Delete(ctx, sessionPath(sessionID)+"/estimates"); err != nil {
		return fmt.Errorf("failed to clear estimates: %w", err)
	}
	return nil
}
