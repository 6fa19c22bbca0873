// Package logwriter implements the three sibling log writers (§4.3):
// StateWriter appends follow-up events, RejectionWriter appends rejections,
// and ResponseWriter buffers the client response. All three are produced by
// a single Builder and buffer into the command's kv.Transaction, so they
// commit or abort atomically with every store mutation the command makes.
package logwriter

import (
	"partitiond/kv"
	"partitiond/record"
)

// Appender is the external collaborator that actually persists a record to
// the replicated log (out of scope for this core — §1). The partition
// runtime supplies the concrete implementation.
type Appender interface {
	Append(env record.Envelope) error
}

// ResponseSink delivers a response to the client that issued the original
// command. Out of scope for this core; supplied by the RPC transport.
type ResponseSink interface {
	Respond(env record.Envelope) error
}

// Builder constructs the three writers for a single command, all sharing
// the same transaction and the same source-record position.
type Builder struct {
	appender             Appender
	responses            ResponseSink
	sourceRecordPosition int64
	partitionID          int32
	flushErr             error
}

// NewBuilder returns a Builder for a command read at sourceRecordPosition
// on partitionID.
func NewBuilder(appender Appender, responses ResponseSink, sourceRecordPosition int64, partitionID int32) *Builder {
	return &Builder{
		appender:             appender,
		responses:            responses,
		sourceRecordPosition: sourceRecordPosition,
		partitionID:          partitionID,
	}
}

// StateWriter buffers follow-up events and flushes them to the log when
// the owning transaction commits.
type StateWriter struct {
	b       *Builder
	pending []record.Envelope
}

// RejectionWriter buffers rejections and flushes them on commit.
type RejectionWriter struct {
	b       *Builder
	pending []record.Envelope
}

// ResponseWriter buffers the single client response and flushes it on
// commit.
type ResponseWriter struct {
	b       *Builder
	pending *record.Envelope
}

// Writers returns the three sibling writers, registered to flush into tx
// on commit (§4.3: "all three writers buffer into the command's
// transaction; they commit or abort together with store mutations").
// The kv.Transaction has already durably committed its store mutations by
// the time these flush; a flush failure means the log/response transport
// itself is broken, surfaced via FlushErr after Commit returns rather than
// by unwinding the commit (which cannot be undone).
func (b *Builder) Writers(tx *kv.Transaction) (*StateWriter, *RejectionWriter, *ResponseWriter) {
	sw := &StateWriter{b: b}
	rw := &RejectionWriter{b: b}
	rsw := &ResponseWriter{b: b}

	tx.OnCommit(func() {
		if err := sw.flush(); err != nil {
			b.flushErr = err
			return
		}
		if err := rw.flush(); err != nil {
			b.flushErr = err
			return
		}
		b.flushErr = rsw.flush()
	})

	return sw, rw, rsw
}

// FlushErr reports whether any writer failed to persist its buffered
// records after the transaction committed. Callers must check this after
// Transaction.Commit returns nil.
func (b *Builder) FlushErr() error {
	return b.flushErr
}

// AppendFollowUpEvent buffers an event that MUST re-apply to the state
// store on replay (events are the source of truth, §4.3).
func (w *StateWriter) AppendFollowUpEvent(key int64, intent record.Intent, valueType record.ValueType, value []byte) {
	w.pending = append(w.pending, record.Envelope{
		Key:                  key,
		SourceRecordPosition: w.b.sourceRecordPosition,
		RecordType:           record.RecordTypeEvent,
		Intent:               intent,
		ValueType:            valueType,
		PartitionID:          w.b.partitionID,
		Value:                value,
	})
}

// Pending returns the events buffered so far, in append order.
func (w *StateWriter) Pending() []record.Envelope {
	return append([]record.Envelope(nil), w.pending...)
}

func (w *StateWriter) flush() error {
	for _, env := range w.pending {
		if err := w.b.appender.Append(env); err != nil {
			return &FlushError{Stage: "event", Err: err}
		}
	}
	return nil
}

// AppendRejection records a refusal in the log (§4.3, §7).
func (w *RejectionWriter) AppendRejection(command record.Envelope, kind record.RejectionKind, humanMessage string) {
	w.pending = append(w.pending, record.Envelope{
		Key:                  command.Key,
		SourceRecordPosition: w.b.sourceRecordPosition,
		RecordType:           record.RecordTypeRejection,
		Intent:               command.Intent,
		ValueType:            command.ValueType,
		PartitionID:          w.b.partitionID,
		Value:                []byte(string(kind) + ": " + humanMessage),
	})
}

// Pending returns the rejections buffered so far.
func (w *RejectionWriter) Pending() []record.Envelope {
	return append([]record.Envelope(nil), w.pending...)
}

func (w *RejectionWriter) flush() error {
	for _, env := range w.pending {
		if err := w.b.appender.Append(env); err != nil {
			return &FlushError{Stage: "rejection", Err: err}
		}
	}
	return nil
}

// WriteEventOnCommand buffers a response echoing an event back to the
// client that issued command.
func (w *ResponseWriter) WriteEventOnCommand(command record.Envelope, intent record.Intent, valueType record.ValueType, value []byte) {
	env := record.Envelope{
		Key:                  command.Key,
		SourceRecordPosition: w.b.sourceRecordPosition,
		RecordType:           record.RecordTypeEvent,
		Intent:               intent,
		ValueType:            valueType,
		PartitionID:          w.b.partitionID,
		Value:                value,
	}
	w.pending = &env
}

// WriteRejectionOnCommand buffers a rejection response for command.
func (w *ResponseWriter) WriteRejectionOnCommand(command record.Envelope, kind record.RejectionKind, humanMessage string) {
	env := record.Envelope{
		Key:                  command.Key,
		SourceRecordPosition: w.b.sourceRecordPosition,
		RecordType:           record.RecordTypeRejection,
		Intent:               command.Intent,
		ValueType:            command.ValueType,
		PartitionID:          w.b.partitionID,
		Value:                []byte(string(kind) + ": " + humanMessage),
	}
	w.pending = &env
}

// Pending returns the buffered response, or nil if none was written.
func (w *ResponseWriter) Pending() *record.Envelope {
	return w.pending
}

func (w *ResponseWriter) flush() error {
	if w.pending == nil {
		return nil
	}
	if err := w.b.responses.Respond(*w.pending); err != nil {
		return &FlushError{Stage: "response", Err: err}
	}
	return nil
}

// FlushError wraps a failure to persist a buffered write at commit time.
type FlushError struct {
	Stage string
	Err   error
}

func (e *FlushError) Error() string {
	return "logwriter: flush " + e.Stage + " on commit: " + e.Err.Error()
}

func (e *FlushError) Unwrap() error { return e.Err }
