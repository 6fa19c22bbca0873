// Package record defines the wire payloads carried by the replicated log:
// the record envelope (§6), the DeleteResource command payload, and the
// ProcessRecord/DecisionRecord/DrgRecord event payloads, all MessagePack
// encoded for a stable, compact schema.
package record

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// RecordType distinguishes commands, events and rejections on the log.
type RecordType string

const (
	RecordTypeCommand   RecordType = "COMMAND"
	RecordTypeEvent     RecordType = "EVENT"
	RecordTypeRejection RecordType = "REJECTION"
)

// Intent tags the lifecycle phase of a record.
type Intent string

const (
	IntentDeleteResource        Intent = "DeleteResource"
	IntentResourceDeletingEvent Intent = "ResourceDeletion:DELETING"
	IntentResourceDeletedEvent  Intent = "ResourceDeletion:DELETED"
	IntentProcessDeletingEvent  Intent = "Process:DELETING"
	IntentProcessDeletedEvent   Intent = "Process:DELETED"
	IntentDecisionDeletedEvent  Intent = "Decision:DELETED"
	IntentDrgDeletedEvent       Intent = "DecisionRequirements:DELETED"
)

// ValueType names the payload shape carried in an Envelope's Value.
type ValueType string

const (
	ValueTypeDeleteResourceCommand ValueType = "DeleteResourceCommand"
	ValueTypeProcessRecord         ValueType = "ProcessRecord"
	ValueTypeDecisionRecord        ValueType = "DecisionRecord"
	ValueTypeDrgRecord             ValueType = "DrgRecord"
)

// RejectionKind enumerates the rejection reasons this core produces (§7).
type RejectionKind string

const (
	RejectionNotFound     RejectionKind = "NOT_FOUND"
	RejectionInvalidState RejectionKind = "INVALID_STATE"
)

// Envelope is the inbound/outbound log record envelope (§6): key,
// source-record position, record kind, intent, value type, partition id,
// whether the command arrived via cross-partition distribution, and the
// MessagePack-encoded payload.
type Envelope struct {
	Key                  int64
	SourceRecordPosition int64
	RecordType           RecordType
	Intent               Intent
	ValueType            ValueType
	PartitionID          int32
	Distributed          bool
	Value                []byte
}

// Encode MessagePack-encodes v and returns the bytes for Envelope.Value.
func Encode(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("record: encode %T: %w", v, err)
	}
	return b, nil
}

// Decode MessagePack-decodes Envelope.Value into v.
func Decode(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("record: decode %T: %w", v, err)
	}
	return nil
}

// DeleteResourceCommand is the sole inbound command payload this core
// accepts (§6).
type DeleteResourceCommand struct {
	ResourceKey int64 `msgpack:"resourceKey"`
}

// ProcessRecord is the ProcessDeleting/ProcessDeleted event payload and the
// store's process row (§6). Deletion events omit Checksum/Resource to
// bound event size.
type ProcessRecord struct {
	BpmnProcessID string `msgpack:"bpmnProcessId"`
	Version       int32  `msgpack:"version"`
	Key           int64  `msgpack:"key"`
	ResourceName  string `msgpack:"resourceName"`
	Checksum      []byte `msgpack:"checksum,omitempty"`
	Resource      []byte `msgpack:"resource,omitempty"`
}

// WithoutResource returns a copy with Checksum/Resource cleared, used when
// emitting the Process:DELETING / Process:DELETED events.
func (p ProcessRecord) WithoutResource() ProcessRecord {
	p.Checksum = nil
	p.Resource = nil
	return p
}

// DecisionRecord is the Decision:DELETED event payload and the store's
// decision row (§6).
type DecisionRecord struct {
	DecisionID   string `msgpack:"decisionId"`
	DecisionName string `msgpack:"decisionName"`
	Version      int32  `msgpack:"version"`
	DecisionKey  int64  `msgpack:"decisionKey"`
	DrgID        string `msgpack:"drgId"`
	DrgKey       int64  `msgpack:"drgKey"`
}

// DrgRecord is the DecisionRequirements:DELETED event payload and the
// store's DRG row (§6).
type DrgRecord struct {
	DrgID        string `msgpack:"drgId"`
	DrgName      string `msgpack:"drgName"`
	DrgVersion   int32  `msgpack:"drgVersion"`
	DrgKey       int64  `msgpack:"drgKey"`
	ResourceName string `msgpack:"resourceName"`
	Checksum     []byte `msgpack:"checksum"`
	Resource     []byte `msgpack:"resource"`
}
