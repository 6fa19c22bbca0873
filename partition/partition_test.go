package partition

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partitiond/config"
	"partitiond/deletion"
	"partitiond/dispatch"
	"partitiond/kv"
	"partitiond/logging"
	"partitiond/record"
	"partitiond/statemanager"
	"partitiond/store"
)

func testConfig() config.PartitionConfig {
	return config.PartitionConfig{
		DataDir:     "test",
		PartitionID: 1,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

func logEntryForTest() *logrus.Entry {
	return logging.Component(logging.New(logging.Config{Level: "error", Format: "text"}), "partition-test")
}

// fakeDistributor never actually distributes; most Process tests run with
// a single-partition topology where Distributor.Peers() is already empty,
// but the deletion processor still calls through the interface.
type fakeDistributor struct {
	distributed []int64
	acked       []int64
}

func (f *fakeDistributor) DistributeCommand(ctx context.Context, commandKey int64, command record.Envelope) error {
	f.distributed = append(f.distributed, commandKey)
	return nil
}

func (f *fakeDistributor) AcknowledgeCommand(ctx context.Context, commandKey int64, peerPartitionID int32) error {
	f.acked = append(f.acked, commandKey)
	return nil
}

func newTestRuntime(t *testing.T) (*Runtime, *fakeDistributor) {
	t.Helper()

	db, err := kv.Open(filepath.Join(t.TempDir(), "partition.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	families := append(append([]string{}, store.ColumnFamilies...), ColumnFamilies...)
	require.NoError(t, db.EnsureColumnFamilies(families...))

	st := store.NewWithCapacity(16)
	dist := &fakeDistributor{}
	deletionProcessor := deletion.New(st, NullElementInstances{}, NewKVKeyGenerator(db), dist)

	registry := dispatch.NewRegistry()
	registry.Bind(record.IntentDeleteResource, deletionProcessor)

	rt := &Runtime{
		cfg:       testConfig(),
		db:        db,
		state:     st,
		appender:  NewBoltAppender(db),
		responder: NewLogResponder(logEntryForTest()),
		registry:  registry,
		commands:  statemanager.New(statemanager.Config{PartitionID: 1}),
	}
	return rt, dist
}

func deleteCommandEnvelope(t *testing.T, key, resourceKey int64) record.Envelope {
	t.Helper()
	value, err := record.Encode(record.DeleteResourceCommand{ResourceKey: resourceKey})
	require.NoError(t, err)
	return record.Envelope{
		Key:         key,
		RecordType:  record.RecordTypeCommand,
		Intent:      record.IntentDeleteResource,
		ValueType:   record.ValueTypeDeleteResourceCommand,
		PartitionID: 1,
		Value:       value,
	}
}

func TestRuntime_Process_MissingResourceRejectsAndTracksCommand(t *testing.T) {
	rt, dist := newTestRuntime(t)

	err := rt.Process(context.Background(), deleteCommandEnvelope(t, 1, 404))
	require.NoError(t, err, "an expected rejection is a normal outcome, not a Process error")

	cmd := rt.commands.Get(1)
	require.NotNil(t, cmd)
	assert.Equal(t, statemanager.StatusRejected, cmd.Status)
	assert.Empty(t, dist.distributed)
}

func TestRuntime_Process_DeletesProcessAndDistributes(t *testing.T) {
	rt, dist := newTestRuntime(t)

	tx, err := rt.db.Begin()
	require.NoError(t, err)
	require.NoError(t, rt.state.StoreProcess(tx, record.ProcessRecord{Key: 42, BpmnProcessID: "p", Version: 1}))
	require.NoError(t, tx.Commit())

	err = rt.Process(context.Background(), deleteCommandEnvelope(t, 2, 42))
	require.NoError(t, err)

	cmd := rt.commands.Get(2)
	require.NotNil(t, cmd)
	assert.Equal(t, statemanager.StatusCompleted, cmd.Status)
	assert.Equal(t, []int64{1}, dist.distributed, "distributed under the first event key the key generator allocates, not the command key")

	err = rt.db.View(func(tx *kv.Transaction) error {
		_, ok, err := rt.state.GetProcessByKey(tx, 42)
		assert.NoError(t, err)
		assert.False(t, ok, "process removed once deletion committed")
		return nil
	})
	require.NoError(t, err)
}

func TestRuntime_Process_SkipsNonCommandRecords(t *testing.T) {
	rt, _ := newTestRuntime(t)

	err := rt.Process(context.Background(), record.Envelope{RecordType: record.RecordTypeEvent, Intent: record.IntentResourceDeletedEvent})
	assert.NoError(t, err)
	assert.Nil(t, rt.commands.Get(0))
}

func TestRuntime_CommandHistory_ReflectsProcessedCommands(t *testing.T) {
	rt, _ := newTestRuntime(t)

	require.NoError(t, rt.Process(context.Background(), deleteCommandEnvelope(t, 7, 999)))

	history := rt.CommandHistory()
	require.Len(t, history, 1)
	assert.Equal(t, int64(7), history[0].CommandKey)

	stats := rt.Stats()
	assert.Equal(t, 1, stats.TotalCommands)
}
