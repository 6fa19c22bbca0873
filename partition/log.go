package partition

import (
	"fmt"

	"github.com/google/uuid"

	"partitiond/kv"
	"partitiond/record"
)

const (
	cfLogRecords     = "log_records"
	cfLogCorrelation = "log_correlation_ids"
)

// ColumnFamilies lists every bucket the partition runtime itself owns, on
// top of store.ColumnFamilies.
var ColumnFamilies = []string{cfKeyCounter, cfLogRecords, cfLogCorrelation}

// BoltAppender persists every record.Envelope handed to it in its own
// append-only column family, keyed by the record's position, so a restart
// can answer "what did I already log" without depending on an external
// replicated log (§1 "replicated log / consensus layer" is out of scope;
// this is the stand-in a single-partition deployment of this module needs
// to be runnable on its own).
//
// Each append is also tagged with a fresh, randomly-generated correlation
// id, stored alongside the record for tracing across log lines in an
// operator's log aggregator. The id plays no role in ordering or in the
// deterministic command key K; it exists purely to make one command's
// scattered log lines (DELETING, P:DELETING, P:DELETED, DELETED) easy to
// pivot on while debugging.
type BoltAppender struct {
	db  *kv.Store
	seq int64
}

// NewBoltAppender wraps db. Callers must ensure cfLogRecords/cfLogCorrelation
// exist via db.EnsureColumnFamilies(partition.ColumnFamilies...).
func NewBoltAppender(db *kv.Store) *BoltAppender {
	return &BoltAppender{db: db}
}

// Append persists env as the next row in the log, and records a fresh
// correlation id for it.
func (a *BoltAppender) Append(env record.Envelope) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("partition: begin log append: %w", err)
	}

	a.seq++
	raw, err := record.Encode(env)
	if err != nil {
		tx.Abort()
		return fmt.Errorf("partition: encode log record: %w", err)
	}
	if err := tx.Put(cfLogRecords, kv.Int64Key(a.seq), raw); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Put(cfLogCorrelation, kv.Int64Key(a.seq), []byte(uuid.NewString())); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// LogResponder delivers client responses by logging them, standing in for
// the RPC transport to a gateway, which is out of scope for this core
// (§1). A real deployment swaps this for the gateway's client channel.
type LogResponder struct {
	log interface {
		Info(args ...interface{})
	}
}

// NewLogResponder builds a LogResponder that writes through log.
func NewLogResponder(log interface{ Info(args ...interface{}) }) *LogResponder {
	return &LogResponder{log: log}
}

// Respond logs env at info level rather than returning it to a client.
func (r *LogResponder) Respond(env record.Envelope) error {
	r.log.Info(fmt.Sprintf("response: key=%d intent=%s type=%s", env.Key, env.Intent, env.RecordType))
	return nil
}

// NullElementInstances always reports no active process instances. It is
// the sane default for a standalone deployment of this module; an embedder
// that actually runs process instances supplies a real ElementInstances
// collaborator backed by its own instance state (§3, out of scope here).
type NullElementInstances struct{}

// HasActiveProcessInstances always returns false.
func (NullElementInstances) HasActiveProcessInstances(processKey int64) bool { return false }
