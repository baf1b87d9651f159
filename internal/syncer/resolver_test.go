package syncer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiborg-ai/boardsync/internal/models"
)

func TestResolver_Strategies(t *testing.T) {
	local := json.RawMessage(`{"title":"local"}`)
	remote := json.RawMessage(`{"title":"remote"}`)

	tests := []struct {
		name     string
		strategy models.Strategy
		want     string
		recorded models.Strategy
	}{
		{"local wins keeps local", models.StrategyLocalWins, `{"title":"local"}`, models.StrategyLocalWins},
		{"remote wins takes remote", models.StrategyRemoteWins, `{"title":"remote"}`, models.StrategyRemoteWins},
		{"timestamp wins reduces to remote", models.StrategyTimestampWins, `{"title":"remote"}`, models.StrategyRemoteWins},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver()
			res := r.Resolve("organizations", local, remote, 5, tt.strategy, nil)
			assert.Equal(t, tt.recorded, res.Strategy)
			assert.JSONEq(t, tt.want, string(res.Resolved))
			assert.Empty(t, r.Pending(), "automatic strategies leave nothing pending")
		})
	}
}

func TestResolver_MergePassRunsAfterStrategy(t *testing.T) {
	r := NewResolver()
	merge := func(local, remote json.RawMessage) json.RawMessage {
		return json.RawMessage(`{"title":"merged"}`)
	}

	res := r.Resolve("assets", json.RawMessage(`{"a":1}`), json.RawMessage(`{"a":2}`), 1, models.StrategyRemoteWins, merge)

	assert.Equal(t, models.StrategyMerged, res.Strategy)
	assert.JSONEq(t, `{"title":"merged"}`, string(res.Resolved))
}

func TestResolver_ManualCreatesPendingEntry(t *testing.T) {
	r := NewResolver()
	local := json.RawMessage(`{"v":"local"}`)
	remote := json.RawMessage(`{"v":"remote"}`)

	res := r.Resolve("vaults", local, remote, 9, models.StrategyManual, nil)

	assert.Equal(t, models.StrategyManual, res.Strategy)
	assert.Nil(t, res.Resolved, "manual conflicts are never auto-applied")
	require.NotNil(t, res.ConflictData)
	assert.JSONEq(t, string(local), string(res.ConflictData.Local))
	assert.JSONEq(t, string(remote), string(res.ConflictData.Remote))

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, res.ID, pending[0].ID)
}

func TestResolver_MarkResolvedIsIdempotent(t *testing.T) {
	r := NewResolver()
	res := r.Resolve("vaults", json.RawMessage(`{"v":1}`), json.RawMessage(`{"v":2}`), 3, models.StrategyManual, nil)
	chosen := json.RawMessage(`{"v":2}`)

	first, applied, err := r.MarkResolved(res.ID, chosen)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NotNil(t, first.ResolvedAt)

	// Same resolution again: accepted, but nothing to re-apply.
	second, applied, err := r.MarkResolved(res.ID, chosen)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.JSONEq(t, string(chosen), string(second.Resolved))

	// Divergent re-resolution is rejected.
	_, _, err = r.MarkResolved(res.ID, json.RawMessage(`{"v":99}`))
	assert.ErrorIs(t, err, ErrConflictAlreadyResolved)

	assert.Empty(t, r.Pending(), "resolved conflicts leave the pending list")
}

func TestResolver_MarkResolvedUnknownID(t *testing.T) {
	r := NewResolver()
	res := r.Resolve("x", nil, nil, 1, models.StrategyManual, nil)
	_, _, err := r.MarkResolved(res.ID, json.RawMessage(`{}`))
	require.NoError(t, err)

	otherRes := r.Resolve("y", nil, nil, 2, models.StrategyRemoteWins, nil)
	_, _, err = r.MarkResolved(otherRes.ID, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrConflictNotFound, "automatic resolutions are not tracked")
}

func TestFilterSnapshot_AllowListOnly(t *testing.T) {
	state := json.RawMessage(`{"theme":"dark","token":"secret-session","sidebar":true}`)

	filtered, err := FilterSnapshot(state, []string{"theme", "sidebar"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark","sidebar":true}`, string(filtered))

	empty, err := FilterSnapshot(state, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(empty))
}
