package store

import (
	"partitiond/kv"
	"partitiond/record"
)

// GetProcessByKey returns the process stored under key, or (zero, false)
// if absent. Process lookups are not read-through cached (§4.2 lists the
// cache as fronting only the decision/DRG families).
func (s *Store) GetProcessByKey(tx *kv.Transaction, key int64) (record.ProcessRecord, bool, error) {
	raw, err := tx.Get(cfProcessesByKey, kv.Int64Key(key))
	if err != nil {
		return record.ProcessRecord{}, false, err
	}
	if raw == nil {
		return record.ProcessRecord{}, false, nil
	}

	var p record.ProcessRecord
	if err := record.Decode(raw, &p); err != nil {
		return record.ProcessRecord{}, false, &kv.FatalError{Op: "decode process", Err: err}
	}
	return p, true, nil
}

// StoreProcess writes (or overwrites) a process row. Deployment is out of
// scope for this core (§1), but tests and fixtures need a way to seed
// processes_by_key directly.
func (s *Store) StoreProcess(tx *kv.Transaction, p record.ProcessRecord) error {
	raw, err := record.Encode(p)
	if err != nil {
		return &kv.FatalError{Op: "encode process", Err: err}
	}
	return tx.Put(cfProcessesByKey, kv.Int64Key(p.Key), raw)
}

// DeleteProcess removes a process row. Invoked by the deletion processor
// after Process:DELETED has been emitted (§4.5).
func (s *Store) DeleteProcess(tx *kv.Transaction, key int64) error {
	return tx.DeleteExisting(cfProcessesByKey, kv.Int64Key(key))
}
