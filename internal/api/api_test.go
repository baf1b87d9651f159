package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiborg-ai/boardsync/internal/models"
	"github.com/aiborg-ai/boardsync/internal/queue"
	"github.com/aiborg-ai/boardsync/internal/repositories"
	"github.com/aiborg-ai/boardsync/internal/services"
	"github.com/aiborg-ai/boardsync/internal/syncer"
	"github.com/aiborg-ai/boardsync/internal/voting"
)

type apiFixture struct {
	server *Server
	router http.Handler
	votes  *repositories.MemoryVoteRepository
	tokens *services.TokenService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	votes := repositories.NewMemoryVoteRepository()
	engine := voting.NewEngine(votes,
		repositories.NewMemoryBallotRepository(),
		repositories.NewMemoryProxyRepository())

	q := queue.New(queue.NewMemoryStore(), func(context.Context, models.QueueItem) error { return nil })
	sync := syncer.NewEngine(syncer.NewMemoryTransport(), q)

	tokens := services.NewTokenService("test-secret", time.Hour)
	server := NewServer(engine, sync, tokens, nil)
	return &apiFixture{
		server: server,
		router: server.Router(),
		votes:  votes,
		tokens: tokens,
	}
}

func (f *apiFixture) openVote(t *testing.T, voters ...uuid.UUID) *models.Vote {
	t.Helper()
	vote := &models.Vote{
		Title:           "Approve annual budget",
		Status:          models.VoteStatusOpen,
		StartTime:       time.Now().Add(-time.Hour),
		EndTime:         time.Now().Add(time.Hour),
		EligibleVoters:  voters,
		VotingMethod:    models.MethodSimpleMajority,
		AllowAbstention: true,
	}
	require.NoError(t, f.votes.Create(context.Background(), vote))
	return vote
}

func (f *apiFixture) request(t *testing.T, method, path string, body any, memberID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if memberID != uuid.Nil {
		token, _, err := f.tokens.IssueToken(memberID, uuid.New(), "session-1")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.request(t, http.MethodGet, "/health", nil, uuid.Nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/sync/conflicts", nil, uuid.Nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/conflicts", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCastVoteOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	voter := uuid.New()
	vote := f.openVote(t, voter, uuid.New())

	rec := f.request(t, http.MethodPost, "/api/v1/votes/"+vote.ID.String()+"/cast",
		map[string]string{"choice": "for"}, voter)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var envelope struct {
		Success bool            `json:"success"`
		Data    models.CastVote `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, voter, envelope.Data.VoterID)
	assert.Equal(t, models.ChoiceFor, envelope.Data.Choice)

	// A second cast from the same member conflicts.
	rec = f.request(t, http.MethodPost, "/api/v1/votes/"+vote.ID.String()+"/cast",
		map[string]string{"choice": "against"}, voter)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEligibilityReasonsOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	vote := f.openVote(t, uuid.New())
	outsider := uuid.New()

	rec := f.request(t, http.MethodPost, "/api/v1/votes/"+vote.ID.String()+"/cast",
		map[string]string{"choice": "for"}, outsider)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body struct {
		Success bool     `json:"success"`
		Reasons []string `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.NotEmpty(t, body.Reasons, "the full reason list is surfaced")

	rec = f.request(t, http.MethodGet, "/api/v1/votes/"+vote.ID.String()+"/eligibility", nil, outsider)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestResultsSealedOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	voter := uuid.New()
	vote := f.openVote(t, voter)

	rec := f.request(t, http.MethodGet, "/api/v1/votes/"+vote.ID.String()+"/results", nil, voter)
	assert.Equal(t, http.StatusForbidden, rec.Code, "results stay sealed while open")

	rec = f.request(t, http.MethodGet, "/api/v1/votes/"+vote.ID.String()+"/results?partial=true", nil, voter)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolveUnknownConflict(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.request(t, http.MethodPost,
		"/api/v1/sync/conflicts/"+uuid.NewString()+"/resolve",
		map[string]json.RawMessage{"resolution": json.RawMessage(`{"v":1}`)},
		uuid.New())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVoteNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.request(t, http.MethodPost,
		"/api/v1/votes/"+uuid.NewString()+"/cast",
		map[string]string{"choice": "for"}, uuid.New())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
