package syncer

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiborg-ai/boardsync/internal/models"
)

var (
	ErrConflictNotFound        = errors.New("conflict not found")
	ErrConflictAlreadyResolved = errors.New("conflict already resolved with a different state")
)

// MergeFunc is a per-store final merge pass applied after the strategy
// step, e.g. a field-level merge. Its output is what gets written to the
// store.
type MergeFunc func(local, remote json.RawMessage) json.RawMessage

// Resolver decides the winning state for a divergence and tracks pending
// manual conflicts. Resolve itself is a pure decision; only the manual
// branch records state (the pending entry).
type Resolver struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*models.ConflictResolution
	now     func() time.Time
}

func NewResolver() *Resolver {
	return &Resolver{
		pending: make(map[uuid.UUID]*models.ConflictResolution),
		now:     time.Now,
	}
}

// Resolve selects the winning state per the configured strategy.
//
// timestamp_wins reduces to remote-wins here: the caller only routes
// messages that already passed the staleness filter, so the remote side is
// known to be the newer one. The manual strategy never resolves
// automatically; it records a pending conflict holding both sides and the
// store's visible state stays unchanged until ResolveConflict.
func (r *Resolver) Resolve(storeName string, local, remote json.RawMessage, remoteVersion int64, strategy models.Strategy, merge MergeFunc) models.ConflictResolution {
	res := models.ConflictResolution{
		ID:            uuid.New(),
		StoreName:     storeName,
		RemoteVersion: remoteVersion,
		CreatedAt:     r.now(),
	}

	switch strategy {
	case models.StrategyLocalWins:
		res.Strategy = models.StrategyLocalWins
		res.Resolved = local
	case models.StrategyManual:
		res.Strategy = models.StrategyManual
		res.ConflictData = &models.ConflictData{Local: local, Remote: remote}
		r.mu.Lock()
		entry := res
		r.pending[res.ID] = &entry
		r.mu.Unlock()
		return res
	default:
		// remote_wins and timestamp_wins both take the remote side.
		res.Strategy = models.StrategyRemoteWins
		res.Resolved = remote
	}

	if merge != nil {
		res.Strategy = models.StrategyMerged
		res.Resolved = merge(local, remote)
	}
	return res
}

// Pending lists unresolved manual conflicts.
func (r *Resolver) Pending() []models.ConflictResolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ConflictResolution, 0, len(r.pending))
	for _, c := range r.pending {
		if c.ResolvedAt == nil {
			out = append(out, *c)
		}
	}
	return out
}

// Get returns the conflict entry for an id, resolved or not.
func (r *Resolver) Get(id uuid.UUID) (models.ConflictResolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[id]
	if !ok {
		return models.ConflictResolution{}, false
	}
	return *c, true
}

// MarkResolved finalizes a manual conflict with the chosen state.
// Re-resolving with the same state is an idempotent no-op; re-resolving
// with a different state is rejected so a conflict cannot be applied
// twice with divergent outcomes.
func (r *Resolver) MarkResolved(id uuid.UUID, resolution json.RawMessage) (models.ConflictResolution, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.pending[id]
	if !ok {
		return models.ConflictResolution{}, false, ErrConflictNotFound
	}
	if c.ResolvedAt != nil {
		if jsonEqual(c.Resolved, resolution) {
			return *c, false, nil
		}
		return models.ConflictResolution{}, false, ErrConflictAlreadyResolved
	}

	now := r.now()
	c.Resolved = append(json.RawMessage(nil), resolution...)
	c.ResolvedAt = &now
	return *c, true, nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}
