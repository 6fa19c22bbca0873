package store

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"partitiond/record"
)

// decisionByKeyCache fronts decisions_by_key. Values are copied in and out
// so a caller mutating a returned record.DecisionRecord cannot corrupt the
// cached entry (§4.2 "defensive copies").
type decisionByKeyCache struct {
	c *lru.Cache[int64, record.DecisionRecord]
}

func newDecisionByKeyCache(capacity int) *decisionByKeyCache {
	c, err := lru.New[int64, record.DecisionRecord](capacity)
	if err != nil {
		panic(err) // only fails for capacity <= 0, a programmer error
	}
	return &decisionByKeyCache{c: c}
}

func (c *decisionByKeyCache) get(key int64) (record.DecisionRecord, bool) {
	return c.c.Get(key)
}

func (c *decisionByKeyCache) put(key int64, v record.DecisionRecord) {
	c.c.Add(key, v)
}

func (c *decisionByKeyCache) invalidate(key int64) {
	c.c.Remove(key)
}

// drgByKeyCache fronts drg_by_key. Checksum/Resource are copied in and out
// like decisionsByDrgCache's slice, since record.DrgRecord carries two
// []byte fields a caller could otherwise mutate straight through into the
// cached entry.
type drgByKeyCache struct {
	c *lru.Cache[int64, record.DrgRecord]
}

func newDrgByKeyCache(capacity int) *drgByKeyCache {
	c, err := lru.New[int64, record.DrgRecord](capacity)
	if err != nil {
		panic(err)
	}
	return &drgByKeyCache{c: c}
}

func copyDrgRecord(v record.DrgRecord) record.DrgRecord {
	v.Checksum = append([]byte(nil), v.Checksum...)
	v.Resource = append([]byte(nil), v.Resource...)
	return v
}

func (c *drgByKeyCache) get(key int64) (record.DrgRecord, bool) {
	v, ok := c.c.Get(key)
	if !ok {
		return record.DrgRecord{}, false
	}
	return copyDrgRecord(v), true
}

func (c *drgByKeyCache) put(key int64, v record.DrgRecord) {
	c.c.Add(key, copyDrgRecord(v))
}

func (c *drgByKeyCache) invalidate(key int64) {
	c.c.Remove(key)
}

// latestKeyCache fronts latest_decision_by_id / latest_drg_by_id: id ->
// primary key. Shared between the decision and DRG latest-id lookups,
// each gets its own instance.
type latestKeyCache struct {
	c *lru.Cache[string, int64]
}

func newLatestKeyCache(capacity int) *latestKeyCache {
	c, err := lru.New[string, int64](capacity)
	if err != nil {
		panic(err)
	}
	return &latestKeyCache{c: c}
}

func (c *latestKeyCache) get(id string) (int64, bool) {
	return c.c.Get(id)
}

func (c *latestKeyCache) put(id string, key int64) {
	c.c.Add(id, key)
}

func (c *latestKeyCache) invalidate(id string) {
	c.c.Remove(id)
}

// decisionsByDrgCache fronts findDecisionsByDrgKey. The cached slice is
// copied on the way out so callers cannot mutate the cached backing array.
type decisionsByDrgCache struct {
	c *lru.Cache[int64, []record.DecisionRecord]
}

func newDecisionsByDrgCache(capacity int) *decisionsByDrgCache {
	c, err := lru.New[int64, []record.DecisionRecord](capacity)
	if err != nil {
		panic(err)
	}
	return &decisionsByDrgCache{c: c}
}

func (c *decisionsByDrgCache) get(drgKey int64) ([]record.DecisionRecord, bool) {
	v, ok := c.c.Get(drgKey)
	if !ok {
		return nil, false
	}
	cp := make([]record.DecisionRecord, len(v))
	copy(cp, v)
	return cp, true
}

func (c *decisionsByDrgCache) put(drgKey int64, v []record.DecisionRecord) {
	cp := make([]record.DecisionRecord, len(v))
	copy(cp, v)
	c.c.Add(drgKey, cp)
}

func (c *decisionsByDrgCache) invalidate(drgKey int64) {
	c.c.Remove(drgKey)
}
