// Package store implements the resource state store (§4.2): column
// families for processes, decisions and decision requirements graphs
// (DRGs), their latest-version indexes, the decision↔DRG join index, and a
// bounded read-through cache in front of the hot lookups. All mutations
// are routed through package kv's Transaction, so the cache can defer
// population until commit and never influences write ordering.
package store

const (
	cfProcessesByKey      = "processes_by_key"
	cfDecisionsByKey      = "decisions_by_key"
	cfLatestDecisionByID  = "latest_decision_by_id"
	cfDecisionKeyByIDVer  = "decision_key_by_id_version"
	cfDecisionKeyByDrgKey = "decision_key_by_drg_key"
	cfDrgByKey            = "drg_by_key"
	cfLatestDrgByID       = "latest_drg_by_id"
	cfDrgKeyByIDVer       = "drg_key_by_id_version"
)

// ColumnFamilies lists every bucket the store needs; pass to
// kv.Store.EnsureColumnFamilies on partition startup.
var ColumnFamilies = []string{
	cfProcessesByKey,
	cfDecisionsByKey,
	cfLatestDecisionByID,
	cfDecisionKeyByIDVer,
	cfDecisionKeyByDrgKey,
	cfDrgByKey,
	cfLatestDrgByID,
	cfDrgKeyByIDVer,
}

// defaultCacheCapacity is the bound on each of the five read-through
// caches (§4.2: "bounded (capacity = 10 000 entries, policy
// LRU-approximate)").
const defaultCacheCapacity = 10_000

// Store is the resource state store. It holds no transaction state of its
// own — every operation takes the kv.Transaction it should run in — but
// it owns the process-local read-through caches.
type Store struct {
	decisionByKey       *decisionByKeyCache
	latestDecisionByID  *latestKeyCache
	decisionsByDrgKey   *decisionsByDrgCache
	drgByKey            *drgByKeyCache
	latestDrgByID       *latestKeyCache
}

// New builds a Store with caches bounded at the capacity mandated by §4.2.
func New() *Store {
	return NewWithCapacity(defaultCacheCapacity)
}

// NewWithCapacity builds a Store whose caches are each bounded at
// capacity; tests use a small capacity to exercise eviction cheaply.
func NewWithCapacity(capacity int) *Store {
	return &Store{
		decisionByKey:      newDecisionByKeyCache(capacity),
		latestDecisionByID: newLatestKeyCache(capacity),
		decisionsByDrgKey:  newDecisionsByDrgCache(capacity),
		drgByKey:           newDrgByKeyCache(capacity),
		latestDrgByID:      newLatestKeyCache(capacity),
	}
}
