// Package api exposes the board-governance sync and voting operations
// over HTTP. Responses use a uniform envelope: {"success": true, "data":
// ...} or {"success": false, "error": ...}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/aiborg-ai/boardsync/internal/collab"
	"github.com/aiborg-ai/boardsync/internal/repositories"
	"github.com/aiborg-ai/boardsync/internal/services"
	"github.com/aiborg-ai/boardsync/internal/syncer"
	"github.com/aiborg-ai/boardsync/internal/voting"
)

type Server struct {
	votes    *voting.Engine
	sync     *syncer.Engine
	tokens   *services.TokenService
	presence collab.PresenceStore
}

func NewServer(votes *voting.Engine, sync *syncer.Engine, tokens *services.TokenService, presence collab.PresenceStore) *Server {
	return &Server{votes: votes, sync: sync, tokens: tokens, presence: presence}
}

func (s *Server) Router() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", s.handleHealth)
	router.Post("/api/v1/tokens", s.handleIssueToken)

	router.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Route("/api/v1/votes/{voteID}", func(r chi.Router) {
			r.Post("/open", s.handleOpenVote)
			r.Post("/close", s.handleCloseVote)
			r.Post("/cast", s.handleCastVote)
			r.Get("/results", s.handleResults)
			r.Get("/eligibility", s.handleEligibility)
		})

		r.Get("/api/v1/sync/conflicts", s.handleListConflicts)
		r.Post("/api/v1/sync/conflicts/{conflictID}/resolve", s.handleResolveConflict)
		r.Post("/api/v1/sync/stores/{storeName}/force", s.handleForceSync)

		r.Get("/api/v1/rooms/{roomID}/presence", s.handleRoomPresence)
	})

	return router
}

type ctxKey string

const claimsKey ctxKey = "channel_claims"

func contextWithClaims(ctx context.Context, claims *services.ChannelClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func claimsFromContext(ctx context.Context) *services.ChannelClaims {
	claims, _ := ctx.Value(claimsKey).(*services.ChannelClaims)
	return claims
}

// requireToken gates the API behind a bearer channel-access token.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.tokens.VerifyToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := contextWithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID  uuid.UUID `json:"member_id"`
		OrgID     uuid.UUID `json:"org_id"`
		SessionID string    `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MemberID == uuid.Nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "member_id and session_id are required")
		return
	}

	token, expiresAt, err := s.tokens.IssueToken(req.MemberID, req.OrgID, req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (s *Server) handleOpenVote(w http.ResponseWriter, r *http.Request) {
	voteID, err := uuid.Parse(chi.URLParam(r, "voteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vote id")
		return
	}

	if err := s.votes.OpenVote(r.Context(), voteID); err != nil {
		writeVotingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "open"})
}

func (s *Server) handleCloseVote(w http.ResponseWriter, r *http.Request) {
	voteID, err := uuid.Parse(chi.URLParam(r, "voteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vote id")
		return
	}

	results, err := s.votes.CloseVote(r.Context(), voteID)
	if err != nil {
		writeVotingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	voteID, err := uuid.Parse(chi.URLParam(r, "voteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vote id")
		return
	}

	var req voting.CastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.VoteID = voteID

	// The voter is the authenticated member; the body cannot cast as
	// someone else except through the proxy path.
	if claims := claimsFromContext(r.Context()); claims != nil {
		req.VoterID = claims.MemberID
	}

	cast, err := s.votes.CastVote(r.Context(), req)
	if err != nil {
		writeVotingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cast)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	voteID, err := uuid.Parse(chi.URLParam(r, "voteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vote id")
		return
	}
	includePartial := r.URL.Query().Get("partial") == "true"

	results, err := s.votes.CalculateResults(r.Context(), voteID, includePartial)
	if err != nil {
		writeVotingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	voteID, err := uuid.Parse(chi.URLParam(r, "voteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vote id")
		return
	}

	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	eligibility, err := s.votes.GetVoteEligibility(r.Context(), voteID, claims.MemberID)
	if err != nil {
		writeVotingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sync.PendingConflicts())
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID, err := uuid.Parse(chi.URLParam(r, "conflictID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conflict id")
		return
	}

	var req struct {
		Resolution json.RawMessage `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Resolution) == 0 {
		writeError(w, http.StatusBadRequest, "resolution payload is required")
		return
	}

	if err := s.sync.ResolveConflict(r.Context(), conflictID, req.Resolution); err != nil {
		switch {
		case errors.Is(err, syncer.ErrConflictNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, syncer.ErrConflictAlreadyResolved):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	storeName := chi.URLParam(r, "storeName")

	report, err := s.sync.ForceSync(r.Context(), storeName)
	if err != nil {
		if errors.Is(err, syncer.ErrStoreNotRegistered) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRoomPresence(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var memberIDs []uuid.UUID
	for _, raw := range strings.Split(r.URL.Query().Get("member_ids"), ",") {
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid member id: "+raw)
			return
		}
		memberIDs = append(memberIDs, id)
	}

	presenceMap, err := s.presence.GetRoomPresence(r.Context(), roomID, memberIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, presenceMap)
}

// writeVotingError maps engine errors onto HTTP statuses. An eligibility
// rejection carries its full reason list in the body.
func writeVotingError(w http.ResponseWriter, err error) {
	var eligErr *voting.EligibilityError
	switch {
	case errors.As(err, &eligErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "not eligible to vote",
			"reasons": eligErr.Reasons,
		})
	case errors.Is(err, repositories.ErrNotFound):
		writeError(w, http.StatusNotFound, "vote not found")
	case errors.Is(err, voting.ErrAlreadyCast):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, voting.ErrResultsSealed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, voting.ErrNoProxyRights):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, voting.ErrBadTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, voting.ErrInvalidChoice), errors.Is(err, voting.ErrCipherRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repositories.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": status < 400, "data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}
