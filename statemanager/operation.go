// Package statemanager tracks the recent history of commands a partition
// has processed, for the `partitiond inspect` CLI surface — it
// never participates in the deterministic command-processing path itself
// (§5 requires the decision path stay purely a function of the log and the
// store).
package statemanager

import "time"

// CommandState represents one tracked command's processing lifecycle.
type CommandState struct {
	CommandKey  int64                  `json:"command_key"`
	PartitionID int32                  `json:"partition_id"`
	Intent      string                 `json:"intent"`
	Status      Status                 `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Duration    string                 `json:"duration,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Status represents the state of a tracked command.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Stats provides aggregated statistics over tracked commands.
type Stats struct {
	TotalCommands   int            `json:"total_commands"`
	ByStatus        map[Status]int `json:"by_status"`
	ByIntent        map[string]int `json:"by_intent"`
	AverageDuration string         `json:"average_duration,omitempty"`
}
