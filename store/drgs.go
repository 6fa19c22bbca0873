package store

import (
	"bytes"
	"encoding/binary"

	"partitiond/kv"
	"partitiond/record"
)

// FindDrgByKey returns the DRG stored under key, or (zero, false) if
// absent.
func (s *Store) FindDrgByKey(tx *kv.Transaction, key int64) (record.DrgRecord, bool, error) {
	if v, ok := s.drgByKey.get(key); ok {
		return v, true, nil
	}

	raw, err := tx.Get(cfDrgByKey, kv.Int64Key(key))
	if err != nil {
		return record.DrgRecord{}, false, err
	}
	if raw == nil {
		return record.DrgRecord{}, false, nil
	}

	var d record.DrgRecord
	if err := record.Decode(raw, &d); err != nil {
		return record.DrgRecord{}, false, &kv.FatalError{Op: "decode drg", Err: err}
	}

	tx.OnCommit(func() { s.drgByKey.put(key, d) })
	return d, true, nil
}

// FindLatestDrgByID returns the newest DRG for id, or (zero, false) if no
// version of id is stored.
func (s *Store) FindLatestDrgByID(tx *kv.Transaction, id string) (record.DrgRecord, bool, error) {
	var key int64
	if cached, ok := s.latestDrgByID.get(id); ok {
		key = cached
	} else {
		raw, err := tx.Get(cfLatestDrgByID, kv.StringKey(id))
		if err != nil {
			return record.DrgRecord{}, false, err
		}
		if raw == nil {
			return record.DrgRecord{}, false, nil
		}
		key, err = kv.DecodeInt64(raw)
		if err != nil {
			return record.DrgRecord{}, false, &kv.FatalError{Op: "decode latest drg key", Err: err}
		}
		tx.OnCommit(func() { s.latestDrgByID.put(id, key) })
	}
	return s.FindDrgByKey(tx, key)
}

// StoreDrg writes (or overwrites) a DRG row and maintains its id+version
// index and latest-by-id pointer.
func (s *Store) StoreDrg(tx *kv.Transaction, d record.DrgRecord) error {
	raw, err := record.Encode(d)
	if err != nil {
		return &kv.FatalError{Op: "encode drg", Err: err}
	}

	primaryKey := kv.Int64Key(d.DrgKey)
	if err := tx.Put(cfDrgByKey, primaryKey, raw); err != nil {
		return err
	}
	if err := tx.Put(cfDrgKeyByIDVer, kv.NewKey().String(d.DrgID).Int32(d.DrgVersion).Bytes(), primaryKey); err != nil {
		return err
	}
	if err := s.recomputeLatestDrg(tx, d.DrgID); err != nil {
		return err
	}

	key, drgID := d.DrgKey, d.DrgID
	tx.OnCommit(func() {
		s.drgByKey.invalidate(key)
		s.latestDrgByID.invalidate(drgID)
	})
	return nil
}

// DeleteDrg removes a DRG row and its id+version index entry, repointing
// latest_drg_by_id per §4.2 if the deleted row was the latest version.
// Callers must delete all decisions referencing the DRG first (§4.5
// ordering: child decisions precede DRG deletion) — DeleteDrg does not
// verify the join index is empty, since the processor (package deletion)
// is the sole writer and already enforces that order.
func (s *Store) DeleteDrg(tx *kv.Transaction, d record.DrgRecord) error {
	latestRaw, err := tx.Get(cfLatestDrgByID, kv.StringKey(d.DrgID))
	if err != nil {
		return err
	}
	primaryKey := kv.Int64Key(d.DrgKey)
	wasLatest := latestRaw != nil && bytes.Equal(latestRaw, primaryKey)

	if err := tx.DeleteExisting(cfDrgByKey, primaryKey); err != nil {
		return err
	}
	if err := tx.DeleteExisting(cfDrgKeyByIDVer, kv.NewKey().String(d.DrgID).Int32(d.DrgVersion).Bytes()); err != nil {
		return err
	}

	if wasLatest {
		if err := s.recomputeLatestDrg(tx, d.DrgID); err != nil {
			return err
		}
	}

	key, drgID := d.DrgKey, d.DrgID
	tx.OnCommit(func() {
		s.drgByKey.invalidate(key)
		s.latestDrgByID.invalidate(drgID)
	})
	return nil
}

func (s *Store) recomputeLatestDrg(tx *kv.Transaction, id string) error {
	prefix := kv.StringKey(id)
	var maxVersion int32 = -1
	var maxKey []byte

	err := tx.ScanPrefix(cfDrgKeyByIDVer, prefix, func(k, v []byte) kv.IterControl {
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
		return tx.Delete(cfLatestDrgByID, latestKey)
	}
	return tx.Put(cfLatestDrgByID, latestKey, maxKey)
}
