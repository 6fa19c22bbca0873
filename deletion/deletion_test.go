package deletion

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partitiond/kv"
	"partitiond/logwriter"
	"partitiond/record"
	"partitiond/store"
)

type fakeKeyGen struct{ next int64 }

func (f *fakeKeyGen) Next() int64 {
	f.next++
	return f.next
}

type fakeElementInstances struct {
	active map[int64]bool
}

func (f *fakeElementInstances) HasActiveProcessInstances(processKey int64) bool {
	return f.active[processKey]
}

type fakeDistributor struct {
	distributed []int64
	acked       []int64
}

func (f *fakeDistributor) DistributeCommand(_ context.Context, commandKey int64, _ record.Envelope) error {
	f.distributed = append(f.distributed, commandKey)
	return nil
}

func (f *fakeDistributor) AcknowledgeCommand(_ context.Context, commandKey int64, _ int32) error {
	f.acked = append(f.acked, commandKey)
	return nil
}

type fakeLog struct {
	appended []record.Envelope
}

func (f *fakeLog) Append(env record.Envelope) error {
	f.appended = append(f.appended, env)
	return nil
}

type fakeResponder struct {
	sent []record.Envelope
}

func (f *fakeResponder) Respond(env record.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

type testHarness struct {
	db          *kv.Store
	store       *store.Store
	processor   *Processor
	instances   *fakeElementInstances
	distributor *fakeDistributor
	log         *fakeLog
	responder   *fakeResponder
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()
	db, err := kv.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.EnsureColumnFamilies(store.ColumnFamilies...))
	t.Cleanup(func() { db.Close() })

	s := store.NewWithCapacity(16)
	instances := &fakeElementInstances{active: map[int64]bool{}}
	distributor := &fakeDistributor{}
	p := New(s, instances, &fakeKeyGen{}, distributor)

	return &testHarness{
		db: db, store: s, processor: p,
		instances: instances, distributor: distributor,
		log: &fakeLog{}, responder: &fakeResponder{},
	}
}

func (h *testHarness) deleteResourceCommand(t *testing.T, resourceKey int64) record.Envelope {
	t.Helper()
	payload, err := record.Encode(record.DeleteResourceCommand{ResourceKey: resourceKey})
	require.NoError(t, err)
	return record.Envelope{
		Key:        resourceKey, // irrelevant for ProcessNewCommand, which allocates its own eventKey
		RecordType: record.RecordTypeCommand,
		Intent:     record.IntentDeleteResource,
		ValueType:  record.ValueTypeDeleteResourceCommand,
		Value:      payload,
	}
}

func intents(envs []record.Envelope) []record.Intent {
	out := make([]record.Intent, len(envs))
	for i, e := range envs {
		out[i] = e.Intent
	}
	return out
}

func TestProcessNewCommand_S1_MissingResource(t *testing.T) {
	h := newHarness(t)
	cmd := h.deleteResourceCommand(t, 42)

	tx, err := h.db.Begin()
	require.NoError(t, err)
	builder := logwriter.NewBuilder(h.log, h.responder, 0, 1)
	sw, rw, rsw := builder.Writers(tx)

	err = h.processor.ProcessNewCommand(context.Background(), tx, cmd, sw, rw, rsw)
	require.Error(t, err)
	var notFound *NoSuchResource
	assert.ErrorAs(t, err, &notFound)

	require.NoError(t, tx.Commit())
	require.NoError(t, builder.FlushErr())

	assert.Equal(t, []record.Intent{
		record.IntentResourceDeletingEvent,
		record.IntentDeleteResource, // the rejection, appended after the events
	}, intents(h.log.appended))
	require.Len(t, h.responder.sent, 1, "the client gets a rejection response as well as the log rejection")
	assert.Equal(t, record.RecordTypeRejection, h.responder.sent[0].RecordType)
}

func TestProcessNewCommand_S2_DeleteInactiveProcess(t *testing.T) {
	h := newHarness(t)

	tx, err := h.db.Begin()
	require.NoError(t, err)
	require.NoError(t, h.store.StoreProcess(tx, record.ProcessRecord{Key: 100, BpmnProcessID: "p", Version: 1}))
	require.NoError(t, tx.Commit())

	cmd := h.deleteResourceCommand(t, 100)
	tx, err = h.db.Begin()
	require.NoError(t, err)
	builder := logwriter.NewBuilder(h.log, h.responder, 0, 1)
	sw, rw, rsw := builder.Writers(tx)

	err = h.processor.ProcessNewCommand(context.Background(), tx, cmd, sw, rw, rsw)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, builder.FlushErr())

	assert.Equal(t, []record.Intent{
		record.IntentResourceDeletingEvent,
		record.IntentProcessDeletingEvent,
		record.IntentProcessDeletedEvent,
		record.IntentResourceDeletedEvent,
	}, intents(h.log.appended))
	assert.Equal(t, []int64{1}, h.distributor.distributed)

	err = h.db.View(func(tx *kv.Transaction) error {
		_, ok, err := h.store.GetProcessByKey(tx, 100)
		require.NoError(t, err)
		assert.False(t, ok, "process removed")
		return nil
	})
	require.NoError(t, err)
}

func TestProcessNewCommand_S3_DeleteActiveProcess(t *testing.T) {
	h := newHarness(t)
	h.instances.active[100] = true

	tx, err := h.db.Begin()
	require.NoError(t, err)
	require.NoError(t, h.store.StoreProcess(tx, record.ProcessRecord{Key: 100, BpmnProcessID: "p", Version: 1}))
	require.NoError(t, tx.Commit())

	cmd := h.deleteResourceCommand(t, 100)
	tx, err = h.db.Begin()
	require.NoError(t, err)
	builder := logwriter.NewBuilder(h.log, h.responder, 0, 1)
	sw, rw, rsw := builder.Writers(tx)

	err = h.processor.ProcessNewCommand(context.Background(), tx, cmd, sw, rw, rsw)
	require.Error(t, err)
	var blocked *ActiveProcessInstances
	assert.ErrorAs(t, err, &blocked)

	require.NoError(t, tx.Commit())
	require.NoError(t, builder.FlushErr())

	assert.Equal(t, []record.Intent{
		record.IntentResourceDeletingEvent,
		record.IntentProcessDeletingEvent,
		record.IntentDeleteResource, // the rejection, appended after the events
	}, intents(h.log.appended))
	assert.Empty(t, h.distributor.distributed)

	err = h.db.View(func(tx *kv.Transaction) error {
		_, ok, err := h.store.GetProcessByKey(tx, 100)
		require.NoError(t, err)
		assert.True(t, ok, "process NOT removed")
		return nil
	})
	require.NoError(t, err)
}

func TestProcessNewCommand_S4_DeleteDrgWithTwoDecisions(t *testing.T) {
	h := newHarness(t)

	tx, err := h.db.Begin()
	require.NoError(t, err)
	require.NoError(t, h.store.StoreDrg(tx, record.DrgRecord{DrgID: "D", DrgKey: 7, DrgVersion: 1}))
	require.NoError(t, h.store.StoreDecision(tx, record.DecisionRecord{DecisionID: "a", DecisionKey: 70, DrgKey: 7, Version: 1}))
	require.NoError(t, h.store.StoreDecision(tx, record.DecisionRecord{DecisionID: "b", DecisionKey: 71, DrgKey: 7, Version: 1}))
	require.NoError(t, tx.Commit())

	cmd := h.deleteResourceCommand(t, 7)
	tx, err = h.db.Begin()
	require.NoError(t, err)
	builder := logwriter.NewBuilder(h.log, h.responder, 0, 1)
	sw, rw, rsw := builder.Writers(tx)

	err = h.processor.ProcessNewCommand(context.Background(), tx, cmd, sw, rw, rsw)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, builder.FlushErr())

	assert.Equal(t, []record.Intent{
		record.IntentResourceDeletingEvent,
		record.IntentDecisionDeletedEvent,
		record.IntentDecisionDeletedEvent,
		record.IntentDrgDeletedEvent,
		record.IntentResourceDeletedEvent,
	}, intents(h.log.appended))

	err = h.db.View(func(tx *kv.Transaction) error {
		decisions, err := h.store.FindDecisionsByDrgKey(tx, 7)
		require.NoError(t, err)
		assert.Empty(t, decisions)
		_, ok, err := h.store.FindDrgByKey(tx, 7)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestProcessDistributedCommand_ReusesIncomingKeyAndAcknowledges(t *testing.T) {
	h := newHarness(t)

	tx, err := h.db.Begin()
	require.NoError(t, err)
	require.NoError(t, h.store.StoreProcess(tx, record.ProcessRecord{Key: 100, BpmnProcessID: "p", Version: 1}))
	require.NoError(t, tx.Commit())

	cmd := h.deleteResourceCommand(t, 100)
	cmd.Key = 999
	cmd.PartitionID = 1
	cmd.Distributed = true

	tx, err = h.db.Begin()
	require.NoError(t, err)
	builder := logwriter.NewBuilder(h.log, h.responder, 0, 2)
	sw, rw, _ := builder.Writers(tx)

	err = h.processor.ProcessDistributedCommand(context.Background(), tx, cmd, sw, rw)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, builder.FlushErr())

	for _, env := range h.log.appended {
		assert.Equal(t, int64(999), env.Key, "distributed path reuses the incoming command key")
	}
	assert.Equal(t, []int64{999}, h.distributor.acked)
	assert.Empty(t, h.responder.sent, "distributed path never writes a client response")
}
