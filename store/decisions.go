package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"partitiond/kv"
	"partitiond/record"
)

// FindDecisionByKey returns the decision stored under key, or (zero, false)
// if absent. Served from the cache when possible.
func (s *Store) FindDecisionByKey(tx *kv.Transaction, key int64) (record.DecisionRecord, bool, error) {
	if v, ok := s.decisionByKey.get(key); ok {
		return v, true, nil
	}

	raw, err := tx.Get(cfDecisionsByKey, kv.Int64Key(key))
	if err != nil {
		return record.DecisionRecord{}, false, err
	}
	if raw == nil {
		return record.DecisionRecord{}, false, nil
	}

	var d record.DecisionRecord
	if err := record.Decode(raw, &d); err != nil {
		return record.DecisionRecord{}, false, &kv.FatalError{Op: "decode decision", Err: err}
	}

	tx.OnCommit(func() { s.decisionByKey.put(key, d) })
	return d, true, nil
}

// FindLatestDecisionByID returns the newest decision for id, or (zero,
// false) if no version of id is stored.
func (s *Store) FindLatestDecisionByID(tx *kv.Transaction, id string) (record.DecisionRecord, bool, error) {
	var key int64
	if cached, ok := s.latestDecisionByID.get(id); ok {
		key = cached
	} else {
		raw, err := tx.Get(cfLatestDecisionByID, kv.StringKey(id))
		if err != nil {
			return record.DecisionRecord{}, false, err
		}
		if raw == nil {
			return record.DecisionRecord{}, false, nil
		}
		key, err = kv.DecodeInt64(raw)
		if err != nil {
			return record.DecisionRecord{}, false, &kv.FatalError{Op: "decode latest decision key", Err: err}
		}
		tx.OnCommit(func() { s.latestDecisionByID.put(id, key) })
	}
	return s.FindDecisionByKey(tx, key)
}

// FindDecisionsByDrgKey returns every decision belonging to drgKey, ordered
// ascending by decisionKey (§4.2, used by the cascading DRG delete in §4.5).
func (s *Store) FindDecisionsByDrgKey(tx *kv.Transaction, drgKey int64) ([]record.DecisionRecord, error) {
	if v, ok := s.decisionsByDrgKey.get(drgKey); ok {
		return v, nil
	}

	var keys []int64
	prefix := kv.Int64Key(drgKey)
	err := tx.ScanPrefix(cfDecisionKeyByDrgKey, prefix, func(k, _ []byte) kv.IterControl {
		decisionKey, decodeErr := kv.DecodeInt64(k[len(prefix):])
		if decodeErr == nil {
			keys = append(keys, decisionKey)
		}
		return kv.Continue
	})
	if err != nil {
		return nil, err
	}

	decisions := make([]record.DecisionRecord, 0, len(keys))
	for _, key := range keys {
		d, ok, err := s.FindDecisionByKey(tx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &kv.FatalError{Op: "decisions-by-drg-key", Err: fmt.Errorf("join index points at missing decision %d", key)}
		}
		decisions = append(decisions, d)
	}

	tx.OnCommit(func() { s.decisionsByDrgKey.put(drgKey, decisions) })
	return decisions, nil
}

// StoreDecision writes (or overwrites) a decision row, maintains its
// id+version index, the latest-by-id pointer, and the decisionKey-by-drgKey
// join index. The DRG referenced by record.DrgKey must already exist (I3).
func (s *Store) StoreDecision(tx *kv.Transaction, d record.DecisionRecord) error {
	fk := kv.ForeignKey{TargetCF: cfDrgByKey, Key: kv.Int64Key(d.DrgKey)}
	if err := fk.Verify(tx); err != nil {
		return err
	}

	raw, err := record.Encode(d)
	if err != nil {
		return &kv.FatalError{Op: "encode decision", Err: err}
	}

	primaryKey := kv.Int64Key(d.DecisionKey)
	if err := tx.Put(cfDecisionsByKey, primaryKey, raw); err != nil {
		return err
	}
	if err := tx.Put(cfDecisionKeyByIDVer, kv.NewKey().String(d.DecisionID).Int32(d.Version).Bytes(), primaryKey); err != nil {
		return err
	}
	joinKey := kv.NewKey().Int64(d.DrgKey).Int64(d.DecisionKey).Bytes()
	if err := tx.Put(cfDecisionKeyByDrgKey, joinKey, []byte{}); err != nil {
		return err
	}
	if err := s.recomputeLatestDecision(tx, d.DecisionID); err != nil {
		return err
	}

	key, decisionID, drgKey := d.DecisionKey, d.DecisionID, d.DrgKey
	tx.OnCommit(func() {
		s.decisionByKey.invalidate(key)
		s.latestDecisionByID.invalidate(decisionID)
		s.decisionsByDrgKey.invalidate(drgKey)
	})
	return nil
}

// DeleteDecision removes a decision row, its id+version index entry, and
// its join-index entry, repointing latest_decision_by_id per §4.2 if the
// deleted row was the latest version for its id.
func (s *Store) DeleteDecision(tx *kv.Transaction, d record.DecisionRecord) error {
	latestRaw, err := tx.Get(cfLatestDecisionByID, kv.StringKey(d.DecisionID))
	if err != nil {
		return err
	}
	primaryKey := kv.Int64Key(d.DecisionKey)
	wasLatest := latestRaw != nil && bytes.Equal(latestRaw, primaryKey)

	if err := tx.DeleteExisting(cfDecisionsByKey, primaryKey); err != nil {
		return err
	}
	if err := tx.DeleteExisting(cfDecisionKeyByIDVer, kv.NewKey().String(d.DecisionID).Int32(d.Version).Bytes()); err != nil {
		return err
	}
	joinKey := kv.NewKey().Int64(d.DrgKey).Int64(d.DecisionKey).Bytes()
	if err := tx.DeleteExisting(cfDecisionKeyByDrgKey, joinKey); err != nil {
		return err
	}

	if wasLatest {
		if err := s.recomputeLatestDecision(tx, d.DecisionID); err != nil {
			return err
		}
	}

	key, decisionID, drgKey := d.DecisionKey, d.DecisionID, d.DrgKey
	tx.OnCommit(func() {
		s.decisionByKey.invalidate(key)
		s.latestDecisionByID.invalidate(decisionID)
		s.decisionsByDrgKey.invalidate(drgKey)
	})
	return nil
}

// recomputeLatestDecision scans decision_key_by_id_version for id and
// repoints latest_decision_by_id at the maximum remaining version,
// or deletes the pointer if none remain (§4.2 steps 1-3: this is only
// invoked when the deleted/stored version is (or might become) the
// latest, so the scan itself is the authority, not an optimization we
// need to gate further).
func (s *Store) recomputeLatestDecision(tx *kv.Transaction, id string) error {
	prefix := kv.StringKey(id)
	var maxVersion int32 = -1
	var maxKey []byte

	err := tx.ScanPrefix(cfDecisionKeyByIDVer, prefix, func(k, v []byte) kv.IterControl {
		version := int32(binary.BigEndian.Uint32(k[len(k)-4:]))
		if version > maxVersion {
			maxVersion = version
			maxKey = append([]byte(nil), v...)
		}
		return kv.Continue
	})
	if err != nil {
		return err
	}

	latestKey := kv.StringKey(id)
	if maxKey == nil {
		return tx.Delete(cfLatestDecisionByID, latestKey)
	}
	return tx.Put(cfLatestDecisionByID, latestKey, maxKey)
}
