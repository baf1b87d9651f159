package voting

import (
	"time"

	"github.com/aiborg-ai/boardsync/internal/models"
)

const (
	minVotingPeriod      = 24 * time.Hour
	minParticipationRate = 0.5
)

// ComplianceIssue flags a governance concern with a concrete remediation.
// Advisory only: issues never block casting or closing a vote.
type ComplianceIssue struct {
	Code           string `json:"code"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// CheckCompliance evaluates a vote against board-governance expectations:
// quorum, voting-window length and participation.
func CheckCompliance(vote *models.Vote, results *models.VoteResults) []ComplianceIssue {
	var issues []ComplianceIssue

	if !results.QuorumMet {
		issues = append(issues, ComplianceIssue{
			Code:           "quorum_not_met",
			Description:    "the number of cast ballots is below the quorum threshold",
			Recommendation: "extend the voting period or solicit ballots from members who have not voted before closing",
		})
	}

	if vote.EndTime.Sub(vote.StartTime) < minVotingPeriod {
		issues = append(issues, ComplianceIssue{
			Code:           "short_voting_period",
			Description:    "the voting window is shorter than 24 hours",
			Recommendation: "schedule voting windows of at least 24 hours so all members have a reasonable opportunity to participate",
		})
	}

	if results.TotalEligible > 0 {
		participation := float64(results.TotalCast) / float64(results.TotalEligible)
		if participation < minParticipationRate {
			issues = append(issues, ComplianceIssue{
				Code:           "low_participation",
				Description:    "fewer than half of the eligible voters participated",
				Recommendation: "send reminders to eligible members who have not cast a ballot",
			})
		}
	}

	return issues
}
