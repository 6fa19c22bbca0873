package partition

import (
	"partitiond/kv"
)

const cfKeyCounter = "key_counter"

// counterKey is the sole row the counter column family ever holds.
var counterKey = []byte("next")

// KVKeyGenerator allocates monotonically increasing event keys (§4.5 step
// 1), persisting the high-water mark in the same embedded store every
// other mutation goes through, so a restart resumes from the last
// committed value rather than reusing a key.
type KVKeyGenerator struct {
	db *kv.Store
}

// NewKVKeyGenerator wraps db. Callers must have already ensured
// cfKeyCounter exists via db.EnsureColumnFamilies.
func NewKVKeyGenerator(db *kv.Store) *KVKeyGenerator {
	return &KVKeyGenerator{db: db}
}

// Next allocates and persists the next key in its own transaction. The
// partition actor is single-threaded (§5), so no additional locking is
// required beyond the transaction itself.
func (g *KVKeyGenerator) Next() int64 {
	var next int64
	tx, err := g.db.Begin()
	if err != nil {
		panic(&kv.FatalError{Op: "key-generator begin", Err: err})
	}

	raw, err := tx.Get(cfKeyCounter, counterKey)
	if err != nil {
		panic(&kv.FatalError{Op: "key-generator read", Err: err})
	}
	if raw != nil {
		next, err = kv.DecodeInt64(raw)
		if err != nil {
			panic(&kv.FatalError{Op: "key-generator decode", Err: err})
		}
	}
	next++

	if err := tx.Put(cfKeyCounter, counterKey, kv.Int64Key(next)); err != nil {
		panic(&kv.FatalError{Op: "key-generator write", Err: err})
	}
	if err := tx.Commit(); err != nil {
		panic(&kv.FatalError{Op: "key-generator commit", Err: err})
	}
	return next
}
