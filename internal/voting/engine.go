package voting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/aiborg-ai/boardsync/internal/models"
	"github.com/aiborg-ai/boardsync/internal/queue"
	"github.com/aiborg-ai/boardsync/internal/repositories"
)

const (
	// DefaultQuorumFraction is the participation threshold applied when a
	// vote does not set its own.
	DefaultQuorumFraction = 0.5
	// DefaultSuperMajorityThreshold is the percentage_for needed for a
	// super_majority vote without an explicit required_threshold.
	DefaultSuperMajorityThreshold = 66.67
)

var (
	ErrAlreadyCast    = errors.New("ballot already cast: re-submission is not permitted")
	ErrResultsSealed  = errors.New("results are sealed until the vote is closed")
	ErrBallotUnfilled = errors.New("ballot has no selected option")
	ErrNoProxyRights  = errors.New("no active proxy assignment covers this vote")
	ErrCipherRequired = errors.New("anonymous voting requires a provisioned ballot key")
	ErrInvalidChoice  = errors.New("invalid vote choice")
	ErrBadTransition  = errors.New("invalid vote status transition")
)

// EligibilityError carries the full reason list for a rejected cast. The
// cast leaves no partial state behind.
type EligibilityError struct {
	Reasons []string
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("not eligible to vote: %v", e.Reasons)
}

// Eligibility reports every failing condition, not just the first, so the
// caller can present all of them at once.
type Eligibility struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Engine drives the ballot lifecycle: eligibility, casting, proxy
// delegation, tallying and integrity. Vote state machine:
// pending -> open -> closed. Ballot: unfilled -> filled -> cast (terminal).
type Engine struct {
	votes   repositories.VoteRepository
	ballots repositories.BallotRepository
	proxies repositories.ProxyRepository
	queue   *queue.Queue
	cipher  *Cipher
	quorum  float64
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Engine)

func WithQuorumFraction(q float64) Option {
	return func(e *Engine) { e.quorum = q }
}

// WithCipher provisions the ballot key. Without it, anonymous votes are
// rejected rather than silently falling back to a static key.
func WithCipher(c *Cipher) Option {
	return func(e *Engine) { e.cipher = c }
}

// WithOfflineQueue attaches the offline queue used for ballot durability.
func WithOfflineQueue(q *queue.Queue) Option {
	return func(e *Engine) { e.queue = q }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(votes repositories.VoteRepository, ballots repositories.BallotRepository, proxies repositories.ProxyRepository, opts ...Option) *Engine {
	e := &Engine{
		votes:   votes,
		ballots: ballots,
		proxies: proxies,
		quorum:  DefaultQuorumFraction,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetVoteEligibility evaluates every eligibility condition for the user.
func (e *Engine) GetVoteEligibility(ctx context.Context, voteID, userID uuid.UUID) (Eligibility, error) {
	vote, err := e.votes.GetByID(ctx, voteID)
	if err != nil {
		return Eligibility{}, err
	}
	return eligibilityFor(vote, userID, e.now()), nil
}

func eligibilityFor(vote *models.Vote, userID uuid.UUID, now time.Time) Eligibility {
	var reasons []string

	eligible := false
	for _, id := range vote.EligibleVoters {
		if id == userID {
			eligible = true
			break
		}
	}
	if !eligible {
		reasons = append(reasons, "user is not on the eligible voter list")
	}
	if vote.Status != models.VoteStatusOpen {
		reasons = append(reasons, fmt.Sprintf("vote is %s, not open", vote.Status))
	}
	if now.Before(vote.StartTime) {
		reasons = append(reasons, "voting period has not started")
	}
	if !now.Before(vote.EndTime) {
		reasons = append(reasons, "voting period has ended")
	}
	if hasVoted(vote, userID) {
		reasons = append(reasons, "user has already cast a vote")
	}

	return Eligibility{Eligible: len(reasons) == 0, Reasons: reasons}
}

// hasVoted reports whether a ballot has already been recorded on the
// principal's behalf, directly or through a proxy.
func hasVoted(vote *models.Vote, principal uuid.UUID) bool {
	for _, cast := range vote.CastVotes {
		if !cast.IsProxy && cast.VoterID == principal {
			return true
		}
		if cast.IsProxy && cast.ProxyFor != nil && *cast.ProxyFor == principal {
			return true
		}
	}
	return false
}

// PrepareBallot materializes the voter's ballot locally, enabling the
// full offline tier. The id is deterministic per vote/voter, so repeated
// preparation returns the same ballot.
func (e *Engine) PrepareBallot(ctx context.Context, voteID, voterID uuid.UUID, options []models.VoteOption) (*models.Ballot, error) {
	id := models.BallotID(voteID, voterID)
	if existing, err := e.ballots.GetByID(ctx, id); err == nil {
		return existing, nil
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	ballot := &models.Ballot{
		ID:      id,
		VoteID:  voteID,
		VoterID: voterID,
		Options: options,
	}
	if err := e.ballots.Save(ctx, ballot); err != nil {
		return nil, err
	}
	return ballot, nil
}

// SelectOption moves a ballot from unfilled to filled. Cast ballots are
// terminal and reject any further mutation.
func (e *Engine) SelectOption(ctx context.Context, ballotID uuid.UUID, choice models.VoteChoice) (*models.Ballot, error) {
	ballot, err := e.ballots.GetByID(ctx, ballotID)
	if err != nil {
		return nil, err
	}
	if ballot.CastAt != nil {
		return nil, ErrAlreadyCast
	}
	ballot.SelectedOption = &choice
	if err := e.ballots.Save(ctx, ballot); err != nil {
		return nil, err
	}
	return ballot, nil
}

// CastRequest describes one cast attempt. For proxy casts, ProxyFor names
// the principal whose voting right is being exercised.
type CastRequest struct {
	VoteID   uuid.UUID         `json:"vote_id"`
	VoterID  uuid.UUID         `json:"voter_id"`
	Choice   models.VoteChoice `json:"choice"`
	IsProxy  bool              `json:"is_proxy"`
	ProxyFor *uuid.UUID        `json:"proxy_for,omitempty"`
}

// CastVote appends an immutable CastVote record. Eligibility is
// re-checked here at cast time, not just when the ballot was created, so
// a vote that closed or a right that expired in the meantime is caught.
// Validation failures reject synchronously with no partial state change.
func (e *Engine) CastVote(ctx context.Context, req CastRequest) (*models.CastVote, error) {
	vote, err := e.votes.GetByID(ctx, req.VoteID)
	if err != nil {
		return nil, err
	}

	switch req.Choice {
	case models.ChoiceFor, models.ChoiceAgainst:
	case models.ChoiceAbstain:
		if !vote.AllowAbstention {
			return nil, fmt.Errorf("%w: this vote does not allow abstention", ErrInvalidChoice)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidChoice, req.Choice)
	}

	principal := req.VoterID
	if req.IsProxy {
		if req.ProxyFor == nil || *req.ProxyFor == req.VoterID {
			return nil, ErrNoProxyRights
		}
		ok, err := e.canProxyFor(ctx, req.VoterID, *req.ProxyFor, vote)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoProxyRights
		}
		principal = *req.ProxyFor
	}

	ballotID := models.BallotID(vote.ID, principal)
	ballot, err := e.ballots.GetByID(ctx, ballotID)
	if errors.Is(err, repositories.ErrNotFound) {
		ballot = &models.Ballot{ID: ballotID, VoteID: vote.ID, VoterID: principal}
	} else if err != nil {
		return nil, err
	}
	if ballot.CastAt != nil {
		return nil, ErrAlreadyCast
	}

	if elig := eligibilityFor(vote, principal, e.now()); !elig.Eligible {
		return nil, &EligibilityError{Reasons: elig.Reasons}
	}

	castAt := e.now()
	cast := models.CastVote{
		ID:       uuid.New(),
		VoteID:   vote.ID,
		VoterID:  req.VoterID,
		Choice:   req.Choice,
		IsProxy:  req.IsProxy,
		ProxyFor: req.ProxyFor,
		CastAt:   castAt,
	}
	cast.Signature = GenerateVoteSignature(cast.VoteID, cast.VoterID, cast.Choice, cast.CastAt)

	if vote.IsAnonymous {
		if e.cipher == nil {
			return nil, ErrCipherRequired
		}
		content, err := json.Marshal(map[string]any{
			"choice":  req.Choice,
			"cast_at": castAt.UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode ballot content: %w", err)
		}
		cast.EncryptedBallot, cast.Nonce, err = e.cipher.Encrypt(content)
		if err != nil {
			return nil, err
		}
	}

	if err := e.votes.AppendCastVote(ctx, vote.ID, cast); err != nil {
		return nil, err
	}

	ballot.SelectedOption = &req.Choice
	ballot.CastAt = &castAt
	ballot.Signature = cast.Signature
	ballot.EncryptedBallot = cast.EncryptedBallot
	ballot.Nonce = cast.Nonce
	ballot.IsProxyVote = req.IsProxy
	ballot.ProxyFor = req.ProxyFor
	if err := e.ballots.Save(ctx, ballot); err != nil {
		e.log.Warn("cast vote recorded but ballot save failed",
			"ballot_id", ballot.ID, "error", err)
	}

	e.log.Info("vote cast", "vote_id", vote.ID, "is_proxy", req.IsProxy,
		"anonymous", vote.IsAnonymous)
	return &cast, nil
}

// CastBallot submits an already-filled ballot.
func (e *Engine) CastBallot(ctx context.Context, ballotID uuid.UUID) (*models.CastVote, error) {
	ballot, err := e.ballots.GetByID(ctx, ballotID)
	if err != nil {
		return nil, err
	}
	if ballot.CastAt != nil {
		return nil, ErrAlreadyCast
	}
	if ballot.SelectedOption == nil {
		return nil, ErrBallotUnfilled
	}
	return e.CastVote(ctx, CastRequest{
		VoteID:   ballot.VoteID,
		VoterID:  ballot.VoterID,
		Choice:   *ballot.SelectedOption,
		IsProxy:  ballot.IsProxyVote,
		ProxyFor: ballot.ProxyFor,
	})
}

// QueueOfflineCast records the cast intent in the offline queue for replay
// once connectivity returns. The ballot is filled locally so the voter's
// offline capability reads as full.
func (e *Engine) QueueOfflineCast(ctx context.Context, req CastRequest) error {
	if e.queue == nil {
		return errors.New("no offline queue configured")
	}

	// The ballot belongs to the principal whose right is exercised, same
	// as in CastVote, so a proxy holder's own cast never blocks queueing
	// on behalf of an un-voted principal.
	principal := req.VoterID
	if req.IsProxy {
		if req.ProxyFor == nil || *req.ProxyFor == req.VoterID {
			return ErrNoProxyRights
		}
		vote, err := e.votes.GetByID(ctx, req.VoteID)
		if err != nil {
			return err
		}
		ok, err := e.canProxyFor(ctx, req.VoterID, *req.ProxyFor, vote)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoProxyRights
		}
		principal = *req.ProxyFor
	}

	ballot, err := e.PrepareBallot(ctx, req.VoteID, principal, nil)
	if err != nil {
		return err
	}
	if ballot.CastAt != nil {
		return ErrAlreadyCast
	}
	if _, err := e.SelectOption(ctx, ballot.ID, req.Choice); err != nil {
		return err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode cast request: %w", err)
	}
	return e.queue.Enqueue(ctx, models.QueueItem{
		Type:     models.OpCreate,
		Entity:   "cast_vote",
		EntityID: req.VoteID.String(),
		Data:     data,
	})
}

// DeliverQueuedCast replays one queued cast request. Wire it as the queue's
// delivery function for cast_vote items. A replay that finds the ballot
// already cast counts as delivered: the first submission won.
func (e *Engine) DeliverQueuedCast(ctx context.Context, item models.QueueItem) error {
	var req CastRequest
	if err := json.Unmarshal(item.Data, &req); err != nil {
		return fmt.Errorf("malformed queued cast: %w", err)
	}
	_, err := e.CastVote(ctx, req)
	if errors.Is(err, ErrAlreadyCast) {
		return nil
	}
	return err
}

// OfflineCapability reports how much of the voting flow works without a
// network: full when the ballot is materialized locally, limited when only
// the vote session is known, none otherwise.
func (e *Engine) OfflineCapability(ctx context.Context, voteID, voterID uuid.UUID) models.OfflineCapability {
	if _, err := e.ballots.GetByID(ctx, models.BallotID(voteID, voterID)); err == nil {
		return models.OfflineFull
	}
	if _, err := e.votes.GetByID(ctx, voteID); err == nil {
		return models.OfflineLimited
	}
	return models.OfflineNone
}

// OpenVote transitions a pending vote to open.
func (e *Engine) OpenVote(ctx context.Context, voteID uuid.UUID) error {
	vote, err := e.votes.GetByID(ctx, voteID)
	if err != nil {
		return err
	}
	if vote.Status != models.VoteStatusPending {
		return fmt.Errorf("%w: %s -> open", ErrBadTransition, vote.Status)
	}
	vote.Status = models.VoteStatusOpen
	return e.votes.Update(ctx, vote)
}

// CloseVote transitions an open vote to closed and finalizes its results.
func (e *Engine) CloseVote(ctx context.Context, voteID uuid.UUID) (*models.VoteResults, error) {
	vote, err := e.votes.GetByID(ctx, voteID)
	if err != nil {
		return nil, err
	}
	if vote.Status != models.VoteStatusOpen {
		return nil, fmt.Errorf("%w: %s -> closed", ErrBadTransition, vote.Status)
	}
	vote.Status = models.VoteStatusClosed
	results := e.tally(vote)
	vote.Results = results
	if err := e.votes.Update(ctx, vote); err != nil {
		return nil, err
	}

	e.log.Info("vote closed", "vote_id", vote.ID, "result", results.Result,
		"quorum_met", results.QuorumMet)
	return results, nil
}

// CalculateResults tallies the vote. Before the vote is closed the tally
// is only available with includePartial, and its result is pending
// regardless of the counts.
func (e *Engine) CalculateResults(ctx context.Context, voteID uuid.UUID, includePartial bool) (*models.VoteResults, error) {
	vote, err := e.votes.GetByID(ctx, voteID)
	if err != nil {
		return nil, err
	}
	if vote.Status != models.VoteStatusClosed && !includePartial {
		return nil, ErrResultsSealed
	}
	return e.tally(vote), nil
}

func (e *Engine) tally(vote *models.Vote) *models.VoteResults {
	r := &models.VoteResults{
		TotalEligible: len(vote.EligibleVoters),
		TotalCast:     len(vote.CastVotes),
		CalculatedAt:  e.now(),
	}
	for _, cast := range vote.CastVotes {
		switch cast.Choice {
		case models.ChoiceFor:
			r.For++
		case models.ChoiceAgainst:
			r.Against++
		case models.ChoiceAbstain:
			r.Abstain++
		}
		if cast.IsProxy {
			r.ProxyCount++
		}
	}

	r.QuorumRequired = int(math.Ceil(float64(r.TotalEligible) * e.quorum))
	r.QuorumMet = r.TotalCast >= r.QuorumRequired
	if r.TotalCast > 0 {
		r.PercentageFor = math.Round(float64(r.For)/float64(r.TotalCast)*10000) / 100
	}

	if vote.Status != models.VoteStatusClosed {
		r.Result = models.ResultPending
		return r
	}
	r.Result = determineResult(vote, r)
	return r
}

func determineResult(vote *models.Vote, r *models.VoteResults) models.VoteResult {
	if !r.QuorumMet {
		return models.ResultFailed
	}

	switch vote.VotingMethod {
	case models.MethodSimpleMajority:
		if r.For > r.Against {
			return models.ResultPassed
		}
		if r.For == r.Against {
			return models.ResultTied
		}
		return models.ResultFailed
	case models.MethodSuperMajority:
		threshold := DefaultSuperMajorityThreshold
		if vote.RequiredThreshold != nil {
			threshold = *vote.RequiredThreshold
		}
		if r.PercentageFor >= threshold {
			return models.ResultPassed
		}
		return models.ResultFailed
	case models.MethodUnanimous:
		if r.Against == 0 && r.Abstain == 0 && r.For > 0 {
			return models.ResultPassed
		}
		return models.ResultFailed
	default:
		return models.ResultFailed
	}
}
