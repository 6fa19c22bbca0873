package statemanager

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_StartAndCompleteCommand(t *testing.T) {
	m := New(Config{PartitionID: 1})
	m.StartCommand(100, "DeleteResource", nil)

	cmd := m.Get(100)
	require.NotNil(t, cmd)
	assert.Equal(t, StatusRunning, cmd.Status)

	m.CompleteCommand(100, StatusCompleted, nil)
	cmd = m.Get(100)
	require.NotNil(t, cmd)
	assert.Equal(t, StatusCompleted, cmd.Status)
	assert.NotEmpty(t, cmd.Duration)
}

func TestManager_CompleteCommand_RecordsError(t *testing.T) {
	m := New(Config{PartitionID: 1})
	m.StartCommand(5, "DeleteResource", nil)
	m.CompleteCommand(5, StatusRejected, errors.New("not found"))

	cmd := m.Get(5)
	require.NotNil(t, cmd)
	assert.Equal(t, StatusRejected, cmd.Status)
	assert.Equal(t, "not found", cmd.Error)
}

func TestManager_EvictsOldestBeyondCapacity(t *testing.T) {
	m := New(Config{PartitionID: 1, MaxCommands: 2})
	m.StartCommand(1, "DeleteResource", nil)
	m.StartCommand(2, "DeleteResource", nil)
	m.StartCommand(3, "DeleteResource", nil)

	assert.Len(t, m.List(), 2)
	assert.Nil(t, m.Get(1), "oldest command evicted once capacity is exceeded")
}

func TestManager_Stats(t *testing.T) {
	m := New(Config{PartitionID: 1})
	m.StartCommand(1, "DeleteResource", nil)
	m.CompleteCommand(1, StatusCompleted, nil)
	m.StartCommand(2, "DeleteResource", nil)
	m.CompleteCommand(2, StatusRejected, errors.New("boom"))

	stats := m.Stats()
	assert.Equal(t, 2, stats.TotalCommands)
	assert.Equal(t, 1, stats.ByStatus[StatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[StatusRejected])
	assert.Equal(t, 2, stats.ByIntent["DeleteResource"])
	assert.NotEmpty(t, stats.AverageDuration)
}
