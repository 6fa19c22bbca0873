// Package kv layers typed, ordered column families and composite keys over
// an embedded transactional byte-key store (bbolt). It gives the resource
// state store (package store) get/put/delete/scanPrefix primitives without
// ever exposing raw buckets to callers.
package kv

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// FatalError marks a violation of a store invariant: a missing primary row,
// a broken foreign key, or a codec failure. The partition runtime treats it
// as unrecoverable for the current transaction and halts the processor
// rather than emitting a rejection (spec error taxonomy, CodecError /
// MissingPrimary / ForeignKeyViolation).
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("kv: fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatalf(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// Store wraps a bbolt database, opening one bucket per column family on
// demand.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the embedded database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureColumnFamilies creates the named buckets if they do not already
// exist. Namespace ids are stable strings (§6: "a stable 16-bit enum" in
// the wire format maps here to a stable bucket name; migrations extend this
// set, never renumber it).
func (s *Store) EnsureColumnFamilies(names ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fatalf("ensure column family "+name, err)
			}
		}
		return nil
	})
}

// Continue/Stop control scanPrefix iteration.
type IterControl int

const (
	Continue IterControl = iota
	Stop
)

// Transaction wraps a single bbolt transaction. All mutations made through
// a Transaction are invisible outside of it until Commit, and are discarded
// entirely on Abort. Reads observe prior writes made within the same
// Transaction (read-your-writes).
type Transaction struct {
	tx       *bolt.Tx
	onCommit []func()
}

// Begin starts a writable transaction.
func (s *Store) Begin() (*Transaction, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("kv: begin transaction: %w", err)
	}
	return &Transaction{tx: tx}, nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(*Transaction) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Transaction{tx: tx})
	})
}

// OnCommit registers a callback invoked after a successful Commit — used by
// the resource state store to invalidate/populate its read-through cache
// only once committed data exists (§4.2 determinism constraints).
func (t *Transaction) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// Commit atomically applies all buffered mutations.
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("kv: commit: %w", err)
	}
	for _, fn := range t.onCommit {
		fn()
	}
	return nil
}

// Abort discards all buffered mutations. Any cache population deferred via
// OnCommit never runs.
func (t *Transaction) Abort() error {
	return t.tx.Rollback()
}

func (t *Transaction) bucket(cf string) (*bolt.Bucket, error) {
	b := t.tx.Bucket([]byte(cf))
	if b == nil {
		return nil, fatalf("bucket", fmt.Errorf("column family %q not found", cf))
	}
	return b, nil
}

// Get reads the raw value for key in column family cf. A nil, nil return
// means absent.
func (t *Transaction) Get(cf string, key []byte) ([]byte, error) {
	b, err := t.bucket(cf)
	if err != nil {
		return nil, err
	}
	v := b.Get(key)
	if v == nil {
		return nil, nil
	}
	// bbolt's returned slice is only valid for the lifetime of the
	// transaction; copy so callers can hold it past Commit/Abort.
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// Put upserts key/value in column family cf.
func (t *Transaction) Put(cf string, key, value []byte) error {
	b, err := t.bucket(cf)
	if err != nil {
		return err
	}
	if err := b.Put(key, value); err != nil {
		return fatalf("put", err)
	}
	return nil
}

// DeleteExisting removes key from cf. It is a fatal invariant violation to
// delete a key that is not present (§4.1).
func (t *Transaction) DeleteExisting(cf string, key []byte) error {
	b, err := t.bucket(cf)
	if err != nil {
		return err
	}
	if b.Get(key) == nil {
		return fatalf("delete-existing", fmt.Errorf("key %x not found in %q", key, cf))
	}
	if err := b.Delete(key); err != nil {
		return fatalf("delete", err)
	}
	return nil
}

// Delete removes key from cf if present; it is not an error if the key is
// already absent (used for best-effort index cleanup).
func (t *Transaction) Delete(cf string, key []byte) error {
	b, err := t.bucket(cf)
	if err != nil {
		return err
	}
	if err := b.Delete(key); err != nil {
		return fatalf("delete", err)
	}
	return nil
}

// ScanPrefix visits, in ascending key order, every entry in cf whose key
// begins with prefix, until visit returns Stop or the prefix is exhausted.
func (t *Transaction) ScanPrefix(cf string, prefix []byte, visit func(key, value []byte) IterControl) error {
	b, err := t.bucket(cf)
	if err != nil {
		return err
	}
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if visit(k, v) == Stop {
			return nil
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
