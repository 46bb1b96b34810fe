package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	store *store.MemoryStore
	mux   *http.ServeMux
}

func setupTestAPI(t *testing.T, enabled ...models.SizingType) *testAPI {
	t.Helper()
	mem := store.NewMemoryStore(nil)
	mux := http.NewServeMux()
	NewHandler(mem, enabled).RegisterRoutes(mux)
	return &testAPI{store: mem, mux: mux}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func (a *testAPI) createSession(t *testing.T, sizing string) uuid.UUID {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{
		Name:        "Sprint 3",
		CreatorName: "  alice ",
		SizingType:  sizing,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Creator)
	assert.Equal(t, "alice", resp.Creator.Name)
	assert.True(t, resp.Creator.IsCreator)
	return uuid.MustParse(resp.SessionID)
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestCreateSession(t *testing.T) {
	a := setupTestAPI(t, models.SizingFibonacci, models.SizingTShirt)

	id := a.createSession(t, "")
	s, err := a.store.ReadSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.SizingFibonacci, s.SizingType)
	assert.Equal(t, "alice", s.CreatorName)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing name", CreateSessionRequest{CreatorName: "alice"}, http.StatusBadRequest},
		{"missing creator", CreateSessionRequest{Name: "x", CreatorName: "  "}, http.StatusBadRequest},
		{"unknown sizing", CreateSessionRequest{Name: "x", CreatorName: "a", SizingType: "powers_of_two"}, http.StatusBadRequest},
		{"disabled sizing", CreateSessionRequest{Name: "x", CreatorName: "a", SizingType: "short_fibonacci"}, http.StatusBadRequest},
		{"malformed body", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/sessions", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, errorBody(t, rec))
		})
	}
}

func TestJoinAndCheckUser(t *testing.T) {
	a := setupTestAPI(t)
	id := a.createSession(t, "tshirt")
	base := "/api/sessions/" + id.String()

	rec := a.do(t, http.MethodPost, base+"/check-user", UserRequest{UserName: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	var check CheckUserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.False(t, check.Exists)
	assert.Nil(t, check.User)

	rec = a.do(t, http.MethodPost, base+"/join", UserRequest{UserName: " bob "})
	require.Equal(t, http.StatusOK, rec.Code)
	var joined JoinResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &joined))
	assert.Equal(t, "bob", joined.Participant.Name)
	assert.False(t, joined.Participant.IsCreator)

	rec = a.do(t, http.MethodPost, base+"/check-user", UserRequest{UserName: "bob"})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.True(t, check.Exists)
	assert.Equal(t, joined.Participant.ID, check.User.ID)

	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, base+"/join", UserRequest{UserName: "bob"}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, base+"/join", UserRequest{UserName: ""}).Code)
	assert.Equal(t, http.StatusNotFound,
		a.do(t, http.MethodPost, "/api/sessions/"+uuid.NewString()+"/join", UserRequest{UserName: "bob"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		a.do(t, http.MethodPost, "/api/sessions/nope/join", UserRequest{UserName: "bob"}).Code)
}

func TestPutEstimate(t *testing.T) {
	a := setupTestAPI(t)
	id := a.createSession(t, "fibonacci")
	base := "/api/sessions/" + id.String()
	five, bogus := "5", "XL"

	rec := a.do(t, http.MethodPut, base+"/estimates/alice", EstimateRequest{})
	require.Equal(t, http.StatusOK, rec.Code, "a null value lists the participant without a card")
	var e models.Estimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Nil(t, e.Value)

	rec = a.do(t, http.MethodPut, base+"/estimates/alice", EstimateRequest{Value: &five})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "5", e.ValueOrEmpty())

	rec = a.do(t, http.MethodPut, base+"/estimates/alice", EstimateRequest{Value: &bogus})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPut, base+"/estimates/mallory", EstimateRequest{Value: &five})
	assert.Equal(t, http.StatusNotFound, rec.Code, "only participants can vote")

	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodPatch, base, map[string]bool{"cards_revealed": true}).Code)
	rec = a.do(t, http.MethodPut, base+"/estimates/alice", EstimateRequest{Value: &five})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Contains(t, errorBody(t, rec), "revealed")

	rec = a.do(t, http.MethodGet, base+"/estimates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var es []models.Estimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &es))
	require.Len(t, es, 1)
	assert.Equal(t, "alice", es[0].UserName)
	assert.Equal(t, "5", es[0].ValueOrEmpty())
}

func TestSessionData(t *testing.T) {
	a := setupTestAPI(t)
	id := a.createSession(t, "")
	base := "/api/sessions/" + id.String()

	rec := a.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "Sprint 3", s.Name)
	assert.False(t, s.CardsRevealed)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPatch, base, map[string]any{}).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/sessions/"+uuid.NewString(), nil).Code)

	bob, err := a.store.InsertParticipant(context.Background(), id, "bob", false)
	require.NoError(t, err)
	rec = a.do(t, http.MethodGet, base+"/participants", nil)
	var ps []models.Participant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ps))
	assert.Len(t, ps, 2)

	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, base+"/participants/"+bob.ID.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodDelete, base+"/participants/"+bob.ID.String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodDelete, base+"/participants/xyz", nil).Code)

	_, err = a.store.UpsertEstimate(context.Background(), id, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, base+"/estimates", nil).Code)
	es, err := a.store.ListEstimates(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, es)
}
