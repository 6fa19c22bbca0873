// Package dispatch implements the processor dispatch (C6, §4.6): binds
// (recordType, intent) to a processor, routes a command to its new- or
// distributed-command path according to the envelope's Distributed flag,
// and classifies an uncaught processor error as EXPECTED_ERROR (a rejection
// the command advances past) or UNEXPECTED_ERROR (fatal, halt the
// partition).
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"partitiond/kv"
	"partitiond/logwriter"
	"partitiond/record"
)

// NewCommandProcessor handles a command freshly read from the log on its
// originating partition.
type NewCommandProcessor interface {
	ProcessNewCommand(ctx context.Context, tx *kv.Transaction, command record.Envelope, sw *logwriter.StateWriter, rw *logwriter.RejectionWriter, rsw *logwriter.ResponseWriter) error
}

// DistributedCommandProcessor handles a command received from the
// originating partition via command distribution.
type DistributedCommandProcessor interface {
	ProcessDistributedCommand(ctx context.Context, tx *kv.Transaction, command record.Envelope, sw *logwriter.StateWriter, rw *logwriter.RejectionWriter) error
}

// Processor is the capability set §9 calls for: "a small capability set
// {processNew, processDistributed, tryHandleError}". tryHandleError is
// implemented once, centrally, by this package rather than per processor
// (every processor's expected errors are classified the same way — see
// ErrorKind).
type Processor interface {
	NewCommandProcessor
	DistributedCommandProcessor
}

// ErrorKind distinguishes a recoverable rejection from a fatal invariant
// violation (§7, §9).
type ErrorKind int

const (
	// ExpectedErrorKind means the processor already emitted a rejection;
	// the command has been fully handled and the partition continues.
	ExpectedErrorKind ErrorKind = iota
	// UnexpectedErrorKind means a store invariant broke or an unforeseen
	// failure occurred; the partition must halt and report a crash so the
	// supervising layer can recover from the log (§7).
	UnexpectedErrorKind
)

func (k ErrorKind) String() string {
	if k == ExpectedErrorKind {
		return "EXPECTED_ERROR"
	}
	return "UNEXPECTED_ERROR"
}

// expectedError is the shape every rejection-producing error in this
// codebase implements (deletion.NoSuchResource, deletion.ActiveProcessInstances,
// and any future processor's rejection types). Dispatch only depends on
// this narrow shape, not on any concrete processor package.
type expectedError interface {
	error
	RejectionKind() record.RejectionKind
}

// Registry binds (recordType, intent) pairs to the processor responsible
// for them. Only RecordTypeCommand entries are meaningful — events and
// rejections are never dispatched, they are log artifacts.
type Registry struct {
	byIntent map[record.Intent]Processor
}

// NewRegistry returns an empty dispatch table.
func NewRegistry() *Registry {
	return &Registry{byIntent: make(map[record.Intent]Processor)}
}

// Bind registers processor as the handler for intent (§4.6 "binds
// (recordType, intent) → Processor"; recordType is always COMMAND for
// every intent a Registry binds, so only intent is keyed here).
func (r *Registry) Bind(intent record.Intent, processor Processor) {
	r.byIntent[intent] = processor
}

// UnboundIntentError is raised when a command's intent has no registered
// processor — a configuration defect, not an expected runtime rejection.
type UnboundIntentError struct {
	Intent record.Intent
}

func (e *UnboundIntentError) Error() string {
	return fmt.Sprintf("dispatch: no processor bound for intent %q", e.Intent)
}

// Dispatch routes command to its bound processor's new- or
// distributed-command path, based on command.Distributed (§4.6). builder
// supplies the log/rejection/response writers for this command; ctx and tx
// are passed through unchanged. The returned error is already the raw
// processor error — call Classify on it before deciding whether to advance
// past it or halt the partition.
func (r *Registry) Dispatch(ctx context.Context, tx *kv.Transaction, command record.Envelope, builder *logwriter.Builder) error {
	processor, ok := r.byIntent[command.Intent]
	if !ok {
		return &UnboundIntentError{Intent: command.Intent}
	}

	sw, rw, rsw := builder.Writers(tx)

	if command.Distributed {
		return processor.ProcessDistributedCommand(ctx, tx, command, sw, rw)
	}
	return processor.ProcessNewCommand(ctx, tx, command, sw, rw, rsw)
}

// Classify implements tryHandleError (§4.6, §7): err is EXPECTED_ERROR iff
// it (or something it wraps) implements expectedError — the processor has
// already written a durable rejection and, where applicable, a client
// response. Anything else — a *kv.FatalError, a plain codec error, a
// transaction failure — is UNEXPECTED_ERROR and fatal to the processor.
func Classify(err error) ErrorKind {
	if err == nil {
		return ExpectedErrorKind
	}
	var expected expectedError
	if errors.As(err, &expected) {
		return ExpectedErrorKind
	}
	return UnexpectedErrorKind
}
