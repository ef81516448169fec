package reconcile

import (
	"sync"

	"github.com/rickgao/fleetsync/internal/model"
)

// Reconciler owns the authoritative fleet status map.
type Reconciler struct {
	mu    sync.Mutex
	fleet model.FleetStatus

	applied map[Kind]int64
}

// NewReconciler creates an empty Reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{
		fleet:   make(model.FleetStatus),
		applied: make(map[Kind]int64),
	}
}

// Apply merges an update and returns a snapshot of the resulting map.
//
// KindBot and KindLegacy upsert a single key and leave every other key
// untouched. KindFleet replaces the whole map; bots it omits are removed.
func (r *Reconciler) Apply(u Update) model.FleetStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch u.Kind {
	case KindBot, KindLegacy:
		id := u.BotID
		if id == "" {
			id = model.FallbackBotID
		}
		status := u.Status.Clone()
		status.BotID = id
		r.fleet[id] = status
	case KindFleet:
		r.fleet = u.Fleet.Clone()
	default:
		return r.fleet.Clone()
	}

	r.applied[u.Kind]++
	return r.fleet.Clone()
}

// Snapshot returns a copy of the current fleet map.
func (r *Reconciler) Snapshot() model.FleetStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fleet.Clone()
}

// Applied returns how many updates of each kind have been merged.
func (r *Reconciler) Applied() map[Kind]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Kind]int64, len(r.applied))
	for k, n := range r.applied {
		out[k] = n
	}
	return out
}
