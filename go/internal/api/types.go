package api

import "github.com/mcdev12/planningpoker/go/internal/models"

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	Name               string `json:"name"`
	CreatorName        string `json:"creator_name"`
	SizingType         string `json:"sizing_type"`
	AllowMembersManage bool   `json:"allow_members_manage"`
}

type CreateSessionResponse struct {
	SessionID string              `json:"session_id"`
	Creator   *models.Participant `json:"creator"`
}

// UserRequest is the body of the join and check-user endpoints.
type UserRequest struct {
	UserName string `json:"user_name"`
}

type JoinResponse struct {
	Participant *models.Participant `json:"participant"`
}

type CheckUserResponse struct {
	Exists bool                `json:"exists"`
	User   *models.Participant `json:"user,omitempty"`
}

// EstimateRequest is the body of PUT /api/sessions/{id}/estimates/{name}. A null value
// keeps the participant listed without a card.
type EstimateRequest struct {
	Value *string `json:"value"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
