package statemanager

import (
	"sync"
	"time"
)

// Manager is a bounded, in-memory ring of recently processed commands,
// used only to answer `partitiond inspect` — it holds no state the
// processor itself depends on.
type Manager struct {
	mu          sync.RWMutex
	commands    map[int64]*CommandState
	maxCommands int
	partitionID int32
}

// Config selects the manager's partition identity and retention bound.
type Config struct {
	PartitionID int32
	MaxCommands int // keep the last N commands, default 1000
}

// New creates a new command tracker.
func New(cfg Config) *Manager {
	if cfg.MaxCommands == 0 {
		cfg.MaxCommands = 1000
	}
	return &Manager{
		commands:    make(map[int64]*CommandState),
		maxCommands: cfg.MaxCommands,
		partitionID: cfg.PartitionID,
	}
}

// StartCommand records a command as running.
func (m *Manager) StartCommand(commandKey int64, intent string, metadata map[string]interface{}) *CommandState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.commands) >= m.maxCommands {
		m.evictOldest()
	}

	cmd := &CommandState{
		CommandKey:  commandKey,
		PartitionID: m.partitionID,
		Intent:      intent,
		Status:      StatusRunning,
		StartedAt:   time.Now(),
		Metadata:    metadata,
	}
	m.commands[commandKey] = cmd
	return cmd
}

// CompleteCommand marks a tracked command completed, rejected, or failed.
func (m *Manager) CompleteCommand(commandKey int64, status Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd, exists := m.commands[commandKey]
	if !exists {
		return
	}
	now := time.Now()
	cmd.CompletedAt = &now
	cmd.Duration = now.Sub(cmd.StartedAt).String()
	cmd.Status = status
	if err != nil {
		cmd.Error = err.Error()
	}
}

// Get retrieves a tracked command by key.
func (m *Manager) Get(commandKey int64) *CommandState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cmd, exists := m.commands[commandKey]; exists {
		cp := *cmd
		return &cp
	}
	return nil
}

// List returns every tracked command, most useful for `partitiond inspect`.
func (m *Manager) List() []*CommandState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*CommandState, 0, len(m.commands))
	for _, cmd := range m.commands {
		cp := *cmd
		out = append(out, &cp)
	}
	return out
}

// Stats returns aggregated statistics over every tracked command.
func (m *Manager) Stats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		TotalCommands: len(m.commands),
		ByStatus:      make(map[Status]int),
		ByIntent:      make(map[string]int),
	}

	var totalDuration time.Duration
	var completedCount int

	for _, cmd := range m.commands {
		stats.ByStatus[cmd.Status]++
		stats.ByIntent[cmd.Intent]++

		if cmd.CompletedAt != nil {
			totalDuration += cmd.CompletedAt.Sub(cmd.StartedAt)
			completedCount++
		}
	}

	if completedCount > 0 {
		stats.AverageDuration = (totalDuration / time.Duration(completedCount)).String()
	}

	return stats
}

// evictOldest removes the oldest tracked command (caller must hold m.mu).
func (m *Manager) evictOldest() {
	var oldestKey int64
	var oldestTime time.Time
	first := true

	for key, cmd := range m.commands {
		if first || cmd.StartedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = cmd.StartedAt
			first = false
		}
	}

	if !first {
		delete(m.commands, oldestKey)
	}
}
