package voting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aiborg-ai/boardsync/internal/models"
)

// GenerateVoteSignature produces the tamper-evident digest attached to a
// cast vote. It is deterministic over exactly {vote_id, voter_id, choice,
// cast_at}: the same four fields always reproduce the same signature, and
// changing any one of them changes it. That lets VerifyBallotIntegrity
// recompute and compare later without any stored key material.
func GenerateVoteSignature(voteID, voterID uuid.UUID, choice models.VoteChoice, castAt time.Time) string {
	payload := fmt.Sprintf("%s|%s|%s|%s",
		voteID, voterID, choice, castAt.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyBallotIntegrity recomputes the signature for a cast vote and
// compares it with the stored one. A mismatch is reported as false, never
// as an error, so callers can flag the record for audit instead of
// crashing.
func VerifyBallotIntegrity(cast models.CastVote) bool {
	if cast.Signature == "" {
		return false
	}
	expected := GenerateVoteSignature(cast.VoteID, cast.VoterID, cast.Choice, cast.CastAt)
	return expected == cast.Signature
}
