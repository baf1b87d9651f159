package voting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiborg-ai/boardsync/internal/models"
	"github.com/aiborg-ai/boardsync/internal/queue"
	"github.com/aiborg-ai/boardsync/internal/repositories"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine  *Engine
	votes   *repositories.MemoryVoteRepository
	ballots *repositories.MemoryBallotRepository
	proxies *repositories.MemoryProxyRepository
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		votes:   repositories.NewMemoryVoteRepository(),
		ballots: repositories.NewMemoryBallotRepository(),
		proxies: repositories.NewMemoryProxyRepository(),
	}
	base := []Option{WithClock(func() time.Time { return testNow })}
	f.engine = NewEngine(f.votes, f.ballots, f.proxies, append(base, opts...)...)
	return f
}

// openVote creates an open simple-majority vote with n eligible voters and
// a 48h window around the fixed test clock.
func (f *fixture) openVote(t *testing.T, n int) (*models.Vote, []uuid.UUID) {
	t.Helper()
	voters := make([]uuid.UUID, n)
	for i := range voters {
		voters[i] = uuid.New()
	}
	vote := &models.Vote{
		Title:          "Approve annual budget",
		Status:         models.VoteStatusOpen,
		StartTime:      testNow.Add(-24 * time.Hour),
		EndTime:        testNow.Add(24 * time.Hour),
		EligibleVoters: voters,
		VotingMethod:   models.MethodSimpleMajority,
	}
	require.NoError(t, f.votes.Create(context.Background(), vote))
	return vote, voters
}

func (f *fixture) castMany(t *testing.T, voteID uuid.UUID, voters []uuid.UUID, choices ...models.VoteChoice) {
	t.Helper()
	for i, choice := range choices {
		_, err := f.engine.CastVote(context.Background(), CastRequest{
			VoteID: voteID, VoterID: voters[i], Choice: choice,
		})
		require.NoError(t, err)
	}
}

func TestEligibility_AllFailingReasonsReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	vote := &models.Vote{
		Title:          "Late vote",
		Status:         models.VoteStatusClosed,
		StartTime:      testNow.Add(-72 * time.Hour),
		EndTime:        testNow.Add(-48 * time.Hour),
		EligibleVoters: []uuid.UUID{uuid.New()},
		VotingMethod:   models.MethodSimpleMajority,
	}
	require.NoError(t, f.votes.Create(ctx, vote))

	outsider := uuid.New()
	elig, err := f.engine.GetVoteEligibility(ctx, vote.ID, outsider)
	require.NoError(t, err)

	assert.False(t, elig.Eligible)
	// Every failing condition is reported, not just the first.
	assert.Contains(t, elig.Reasons, "user is not on the eligible voter list")
	assert.Contains(t, elig.Reasons, "vote is closed, not open")
	assert.Contains(t, elig.Reasons, "voting period has ended")
	assert.Len(t, elig.Reasons, 3)
}

// TestCastVote_SingleCast: a second cast by the same non-proxy voter is
// rejected and the cast_votes list keeps exactly one entry for them.
func TestCastVote_SingleCast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 3)

	_, err := f.engine.CastVote(ctx, CastRequest{VoteID: vote.ID, VoterID: voters[0], Choice: models.ChoiceFor})
	require.NoError(t, err)

	_, err = f.engine.CastVote(ctx, CastRequest{VoteID: vote.ID, VoterID: voters[0], Choice: models.ChoiceAgainst})
	assert.ErrorIs(t, err, ErrAlreadyCast)

	stored, err := f.votes.GetByID(ctx, vote.ID)
	require.NoError(t, err)
	count := 0
	for _, cast := range stored.CastVotes {
		if cast.VoterID == voters[0] {
			count++
			assert.Equal(t, models.ChoiceFor, cast.Choice, "first choice must stand")
		}
	}
	assert.Equal(t, 1, count)
}

func TestCastVote_RejectsAbstentionWhenDisallowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 3)

	_, err := f.engine.CastVote(ctx, CastRequest{VoteID: vote.ID, VoterID: voters[0], Choice: models.ChoiceAbstain})
	assert.ErrorIs(t, err, ErrInvalidChoice)

	stored, _ := f.votes.GetByID(ctx, vote.ID)
	assert.Empty(t, stored.CastVotes, "rejected cast must leave no partial state")
}

// TestQuorumBoundary: E=10, q=0.5 means quorum is met at exactly 5 cast
// votes and not met at 4.
func TestQuorumBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 10)

	f.castMany(t, vote.ID, voters, models.ChoiceFor, models.ChoiceFor, models.ChoiceFor, models.ChoiceAgainst)

	results, err := f.engine.CalculateResults(ctx, vote.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 5, results.QuorumRequired)
	assert.False(t, results.QuorumMet, "4 of 10 is below quorum")

	_, err = f.engine.CastVote(ctx, CastRequest{VoteID: vote.ID, VoterID: voters[4], Choice: models.ChoiceFor})
	require.NoError(t, err)

	results, err = f.engine.CalculateResults(ctx, vote.ID, true)
	require.NoError(t, err)
	assert.True(t, results.QuorumMet, "5 of 10 meets quorum exactly")
}

// TestSimpleMajority_EndToEnd: 10 eligible, 6 cast (4 for / 2 against):
// quorum met, percentage_for 66.67, passed on close.
func TestSimpleMajority_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 10)

	f.castMany(t, vote.ID, voters,
		models.ChoiceFor, models.ChoiceFor, models.ChoiceFor, models.ChoiceFor,
		models.ChoiceAgainst, models.ChoiceAgainst)

	partial, err := f.engine.CalculateResults(ctx, vote.ID, true)
	require.NoError(t, err)
	assert.True(t, partial.QuorumMet)
	assert.Equal(t, 66.67, partial.PercentageFor)
	assert.Equal(t, models.ResultPending, partial.Result, "result stays pending while open")

	_, err = f.engine.CalculateResults(ctx, vote.ID, false)
	assert.ErrorIs(t, err, ErrResultsSealed)

	final, err := f.engine.CloseVote(ctx, vote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultPassed, final.Result)
	assert.Equal(t, 6, final.TotalCast)
	assert.Equal(t, 4, final.For)
	assert.Equal(t, 2, final.Against)
}

// TestSimpleMajority_QuorumFailureOverridesTally: 3 unanimous "for" votes
// out of 10 eligible still fail for lack of quorum.
func TestSimpleMajority_QuorumFailureOverridesTally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 10)

	f.castMany(t, vote.ID, voters, models.ChoiceFor, models.ChoiceFor, models.ChoiceFor)

	results, err := f.engine.CalculateResults(ctx, vote.ID, true)
	require.NoError(t, err)
	assert.False(t, results.QuorumMet)

	final, err := f.engine.CloseVote(ctx, vote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultFailed, final.Result, "quorum failure overrides a unanimous tally")
}

func TestSimpleMajority_TieIsNotPassed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 6)

	f.castMany(t, vote.ID, voters,
		models.ChoiceFor, models.ChoiceFor, models.ChoiceAgainst, models.ChoiceAgainst)

	final, err := f.engine.CloseVote(ctx, vote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultTied, final.Result)
	assert.NotEqual(t, models.ResultPassed, final.Result)
}

func TestSuperMajorityThreshold(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		choices []models.VoteChoice
		want    models.VoteResult
	}{
		{
			// 4/6 = 66.67% meets the default 66.67 threshold.
			name: "at threshold passes",
			choices: []models.VoteChoice{
				models.ChoiceFor, models.ChoiceFor, models.ChoiceFor, models.ChoiceFor,
				models.ChoiceAgainst, models.ChoiceAgainst,
			},
			want: models.ResultPassed,
		},
		{
			// 3/6 = 50% is below threshold.
			name: "below threshold fails",
			choices: []models.VoteChoice{
				models.ChoiceFor, models.ChoiceFor, models.ChoiceFor,
				models.ChoiceAgainst, models.ChoiceAgainst, models.ChoiceAgainst,
			},
			want: models.ResultFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			vote, voters := f.openVote(t, 10)
			vote.VotingMethod = models.MethodSuperMajority
			require.NoError(t, f.votes.Update(ctx, vote))

			f.castMany(t, vote.ID, voters, tt.choices...)

			final, err := f.engine.CloseVote(ctx, vote.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, final.Result)
		})
	}
}

func TestUnanimous_AnyDissentFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 6)
	vote.VotingMethod = models.MethodUnanimous
	vote.AllowAbstention = true
	require.NoError(t, f.votes.Update(ctx, vote))

	f.castMany(t, vote.ID, voters,
		models.ChoiceFor, models.ChoiceFor, models.ChoiceFor, models.ChoiceAbstain)

	final, err := f.engine.CloseVote(ctx, vote.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultFailed, final.Result, "an abstention breaks unanimity")
}

func TestVoteStatusTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	vote := &models.Vote{
		Title:          "Scheduled vote",
		Status:         models.VoteStatusPending,
		StartTime:      testNow.Add(-time.Hour),
		EndTime:        testNow.Add(48 * time.Hour),
		EligibleVoters: []uuid.UUID{uuid.New()},
		VotingMethod:   models.MethodSimpleMajority,
	}
	require.NoError(t, f.votes.Create(ctx, vote))

	_, err := f.engine.CloseVote(ctx, vote.ID)
	assert.ErrorIs(t, err, ErrBadTransition, "pending cannot close directly")

	require.NoError(t, f.engine.OpenVote(ctx, vote.ID))
	err = f.engine.OpenVote(ctx, vote.ID)
	assert.ErrorIs(t, err, ErrBadTransition, "open cannot reopen")

	_, err = f.engine.CloseVote(ctx, vote.ID)
	require.NoError(t, err)
}

func TestBallotLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 3)

	ballot, err := f.engine.PrepareBallot(ctx, vote.ID, voters[0], []models.VoteOption{
		{ID: "for", Label: "For"}, {ID: "against", Label: "Against"},
	})
	require.NoError(t, err)
	assert.Nil(t, ballot.SelectedOption)

	// Preparing again returns the same ballot.
	again, err := f.engine.PrepareBallot(ctx, vote.ID, voters[0], nil)
	require.NoError(t, err)
	assert.Equal(t, ballot.ID, again.ID)

	// Casting an unfilled ballot is rejected.
	_, err = f.engine.CastBallot(ctx, ballot.ID)
	assert.ErrorIs(t, err, ErrBallotUnfilled)

	_, err = f.engine.SelectOption(ctx, ballot.ID, models.ChoiceFor)
	require.NoError(t, err)

	cast, err := f.engine.CastBallot(ctx, ballot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChoiceFor, cast.Choice)

	// Cast is terminal: no re-submission, no re-selection.
	_, err = f.engine.CastBallot(ctx, ballot.ID)
	assert.ErrorIs(t, err, ErrAlreadyCast)
	_, err = f.engine.SelectOption(ctx, ballot.ID, models.ChoiceAgainst)
	assert.ErrorIs(t, err, ErrAlreadyCast)
}

func TestAnonymousVote_RequiresProvisionedKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 3)
	vote.IsAnonymous = true
	require.NoError(t, f.votes.Update(ctx, vote))

	// No cipher provisioned: the cast is rejected, never silently
	// encrypted with a fallback key.
	_, err := f.engine.CastVote(ctx, CastRequest{VoteID: vote.ID, VoterID: voters[0], Choice: models.ChoiceFor})
	assert.ErrorIs(t, err, ErrCipherRequired)
}

func TestAnonymousVote_EncryptsBallotContent(t *testing.T) {
	ctx := context.Background()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	cipher, err := NewCipher(key)
	require.NoError(t, err)

	f := newFixture(t, WithCipher(cipher))
	vote, voters := f.openVote(t, 3)
	vote.IsAnonymous = true
	require.NoError(t, f.votes.Update(ctx, vote))

	cast, err := f.engine.CastVote(ctx, CastRequest{VoteID: vote.ID, VoterID: voters[0], Choice: models.ChoiceFor})
	require.NoError(t, err)
	require.NotEmpty(t, cast.EncryptedBallot)
	require.NotEmpty(t, cast.Nonce)

	plaintext, err := cipher.Decrypt(cast.EncryptedBallot, cast.Nonce)
	require.NoError(t, err)
	assert.Contains(t, string(plaintext), `"choice":"for"`)
}

func TestOfflineCastQueueAndReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 3)

	q := queue.New(queue.NewMemoryStore(), func(ctx context.Context, item models.QueueItem) error {
		return f.engine.DeliverQueuedCast(ctx, item)
	})
	// Rebuild the engine with the queue attached.
	f.engine = NewEngine(f.votes, f.ballots, f.proxies,
		WithClock(func() time.Time { return testNow }), WithOfflineQueue(q))

	req := CastRequest{VoteID: vote.ID, VoterID: voters[0], Choice: models.ChoiceFor}
	require.NoError(t, f.engine.QueueOfflineCast(ctx, req))

	// Ballot materialized locally: the voter has full offline capability.
	assert.Equal(t, models.OfflineFull, f.engine.OfflineCapability(ctx, vote.ID, voters[0]))
	assert.Equal(t, models.OfflineLimited, f.engine.OfflineCapability(ctx, vote.ID, voters[1]))
	assert.Equal(t, models.OfflineNone, f.engine.OfflineCapability(ctx, uuid.New(), voters[0]))

	pending := q.Pending()
	require.Len(t, pending, 1)
	queued := pending[0]

	report, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)

	stored, err := f.votes.GetByID(ctx, vote.ID)
	require.NoError(t, err)
	require.Len(t, stored.CastVotes, 1)
	assert.Equal(t, voters[0], stored.CastVotes[0].VoterID)

	// Replaying the same item again counts as delivered, not duplicated.
	require.NoError(t, f.engine.DeliverQueuedCast(ctx, queued))
	stored, err = f.votes.GetByID(ctx, vote.ID)
	require.NoError(t, err)
	assert.Len(t, stored.CastVotes, 1)
}

// TestQueueOfflineCast_ProxyUsesPrincipalBallot: a proxy holder who has
// already cast their own vote can still queue an offline cast on behalf
// of an un-voted principal. The queued ballot is keyed by the principal,
// exactly as an online proxy cast is.
func TestQueueOfflineCast_ProxyUsesPrincipalBallot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 4)
	proxy, principal := voters[0], voters[1]

	require.NoError(t, f.proxies.CreateAssignment(ctx, &models.ProxyAssignment{
		AssignorID: principal,
		AssigneeID: proxy,
		Scope:      models.ScopeAll,
		ValidFrom:  testNow.Add(-time.Hour),
		ValidUntil: testNow.Add(time.Hour),
	}))

	q := queue.New(queue.NewMemoryStore(), func(ctx context.Context, item models.QueueItem) error {
		return f.engine.DeliverQueuedCast(ctx, item)
	})
	f.engine = NewEngine(f.votes, f.ballots, f.proxies,
		WithClock(func() time.Time { return testNow }), WithOfflineQueue(q))

	// The proxy votes for themselves online first.
	_, err := f.engine.CastVote(ctx, CastRequest{VoteID: vote.ID, VoterID: proxy, Choice: models.ChoiceFor})
	require.NoError(t, err)

	require.NoError(t, f.engine.QueueOfflineCast(ctx, CastRequest{
		VoteID: vote.ID, VoterID: proxy, Choice: models.ChoiceAgainst,
		IsProxy: true, ProxyFor: &principal,
	}))

	// The principal's ballot, not the proxy's, was filled.
	assert.Equal(t, models.OfflineFull, f.engine.OfflineCapability(ctx, vote.ID, principal))

	report, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)

	stored, err := f.votes.GetByID(ctx, vote.ID)
	require.NoError(t, err)
	require.Len(t, stored.CastVotes, 2)

	// The principal's right is consumed now, so a second queued proxy cast
	// for them is rejected.
	err = f.engine.QueueOfflineCast(ctx, CastRequest{
		VoteID: vote.ID, VoterID: proxy, Choice: models.ChoiceFor,
		IsProxy: true, ProxyFor: &principal,
	})
	assert.ErrorIs(t, err, ErrAlreadyCast)

	// Queueing without an assignment never reaches the queue.
	err = f.engine.QueueOfflineCast(ctx, CastRequest{
		VoteID: vote.ID, VoterID: voters[2], Choice: models.ChoiceFor,
		IsProxy: true, ProxyFor: &principal,
	})
	assert.ErrorIs(t, err, ErrNoProxyRights)
}

func TestComplianceChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	vote, voters := f.openVote(t, 10)
	// Shorten the window below 24h.
	vote.StartTime = testNow.Add(-2 * time.Hour)
	vote.EndTime = testNow.Add(2 * time.Hour)
	require.NoError(t, f.votes.Update(ctx, vote))

	f.castMany(t, vote.ID, voters, models.ChoiceFor, models.ChoiceFor)

	results, err := f.engine.CalculateResults(ctx, vote.ID, true)
	require.NoError(t, err)

	stored, _ := f.votes.GetByID(ctx, vote.ID)
	issues := CheckCompliance(stored, results)

	codes := make([]string, 0, len(issues))
	for _, issue := range issues {
		codes = append(codes, issue.Code)
		assert.NotEmpty(t, issue.Recommendation, "every issue carries a remediation")
	}
	assert.ElementsMatch(t, []string{"quorum_not_met", "short_voting_period", "low_participation"}, codes)
}
