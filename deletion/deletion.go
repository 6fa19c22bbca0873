// Package deletion implements the deletion processor (C5, §4.5): the state
// machine that interprets a DeleteResource command, classifies its target,
// enforces guards, emits the lifecycle events in the order §4.5 mandates,
// and drives the state store (C2), log writers (C3) and command
// distribution (C4).
package deletion

import (
	"context"
	"fmt"

	"partitiond/kv"
	"partitiond/logwriter"
	"partitiond/record"
	"partitiond/store"
)

// ExpectedError is implemented by the two rejection-producing error kinds
// this processor raises (§7): classify/guard failures that are part of
// the documented contract, as opposed to store invariant violations.
type ExpectedError interface {
	error
	RejectionKind() record.RejectionKind
}

// NoSuchResource is raised when resourceKey names neither a process nor a
// DRG (§4.5 "Else: raise NoSuchResource").
type NoSuchResource struct {
	ResourceKey int64
}

func (e *NoSuchResource) Error() string {
	return fmt.Sprintf("deletion: no such resource %d", e.ResourceKey)
}

func (e *NoSuchResource) RejectionKind() record.RejectionKind { return record.RejectionNotFound }

// ActiveProcessInstances is raised when a process has running instances
// that block its deletion (§4.5).
type ActiveProcessInstances struct {
	ProcessKey int64
}

func (e *ActiveProcessInstances) Error() string {
	return fmt.Sprintf("deletion: process %d has active instances", e.ProcessKey)
}

func (e *ActiveProcessInstances) RejectionKind() record.RejectionKind {
	return record.RejectionInvalidState
}

// KeyGenerator allocates the monotonic event key for a newly received
// command (§4.5 step 1). Out of scope for this core — supplied by the
// partition runtime.
type KeyGenerator interface {
	Next() int64
}

// ElementInstances answers whether a process has running instances,
// blocking its deletion (§3, §4.5). Out of scope for this core — supplied
// by the element-instance state collaborator.
type ElementInstances interface {
	HasActiveProcessInstances(processKey int64) bool
}

// Distributor is the subset of C4 this processor drives: fan-out for a
// newly applied command, and acknowledgement for a distributed one.
// Satisfied by *distribution.Distributor.
type Distributor interface {
	DistributeCommand(ctx context.Context, commandKey int64, command record.Envelope) error
	AcknowledgeCommand(ctx context.Context, commandKey int64, peerPartitionID int32) error
}

// Processor is the C5 deletion processor.
type Processor struct {
	store       *store.Store
	instances   ElementInstances
	keyGen      KeyGenerator
	distributor Distributor
}

// New builds a Processor over the given collaborators.
func New(s *store.Store, instances ElementInstances, keyGen KeyGenerator, distributor Distributor) *Processor {
	return &Processor{store: s, instances: instances, keyGen: keyGen, distributor: distributor}
}

// classifyOutcomeKind tags the variant returned by classify (§9 "model as
// a result type").
type classifyOutcomeKind int

const (
	classifyNotFound classifyOutcomeKind = iota
	classifyProcess
	classifyDrg
)

type classifyOutcome struct {
	kind    classifyOutcomeKind
	process record.ProcessRecord
	drg     record.DrgRecord
}

func (p *Processor) classify(tx *kv.Transaction, resourceKey int64) (classifyOutcome, error) {
	if proc, ok, err := p.store.GetProcessByKey(tx, resourceKey); err != nil {
		return classifyOutcome{}, err
	} else if ok {
		return classifyOutcome{kind: classifyProcess, process: proc}, nil
	}

	if drg, ok, err := p.store.FindDrgByKey(tx, resourceKey); err != nil {
		return classifyOutcome{}, err
	} else if ok {
		return classifyOutcome{kind: classifyDrg, drg: drg}, nil
	}

	return classifyOutcome{kind: classifyNotFound}, nil
}

// writers groups the three sibling C3 writers a single command uses.
type writers struct {
	state     *logwriter.StateWriter
	rejection *logwriter.RejectionWriter
	response  *logwriter.ResponseWriter
}

// ProcessNewCommand handles a DeleteResource command freshly read from the
// log on its originating partition (§4.5 "new command path").
func (p *Processor) ProcessNewCommand(ctx context.Context, tx *kv.Transaction, command record.Envelope, sw *logwriter.StateWriter, rw *logwriter.RejectionWriter, rsw *logwriter.ResponseWriter) error {
	eventKey := p.keyGen.Next()
	w := writers{state: sw, rejection: rw, response: rsw}

	if err := p.runDeletingThroughClassification(tx, command, eventKey, w); err != nil {
		return err
	}

	sw.AppendFollowUpEvent(eventKey, record.IntentResourceDeletedEvent, record.ValueTypeDeleteResourceCommand, mustEncodeResourceKey(command))

	if err := p.distributor.DistributeCommand(ctx, eventKey, command); err != nil {
		return err
	}

	rsw.WriteEventOnCommand(command, record.IntentResourceDeletingEvent, record.ValueTypeDeleteResourceCommand, mustEncodeResourceKey(command))
	return nil
}

// ProcessDistributedCommand handles a DeleteResource command received from
// the originating partition via distribution (§4.5 "distributed command
// path"): identical except the incoming key is reused and the result is
// acknowledged back to the originator rather than answered to a client.
func (p *Processor) ProcessDistributedCommand(ctx context.Context, tx *kv.Transaction, command record.Envelope, sw *logwriter.StateWriter, rw *logwriter.RejectionWriter) error {
	eventKey := command.Key
	w := writers{state: sw, rejection: rw}

	if err := p.runDeletingThroughClassification(tx, command, eventKey, w); err != nil {
		return err
	}

	sw.AppendFollowUpEvent(eventKey, record.IntentResourceDeletedEvent, record.ValueTypeDeleteResourceCommand, mustEncodeResourceKey(command))

	return p.distributor.AcknowledgeCommand(ctx, eventKey, command.PartitionID)
}

// runDeletingThroughClassification implements §4.5 steps 2-3: emit the
// outer DELETING event, then classify & delete. On an expected error, a
// rejection is written (both as a durable log rejection and — when a
// ResponseWriter is present — a best-effort client response per §7) and
// the error is returned so the caller stops before emitting DELETED or
// distributing.
func (p *Processor) runDeletingThroughClassification(tx *kv.Transaction, command record.Envelope, eventKey int64, w writers) error {
	var payload record.DeleteResourceCommand
	if err := record.Decode(command.Value, &payload); err != nil {
		return err
	}
	resourceKey := payload.ResourceKey

	w.state.AppendFollowUpEvent(eventKey, record.IntentResourceDeletingEvent, record.ValueTypeDeleteResourceCommand, command.Value)

	outcome, err := p.classify(tx, resourceKey)
	if err != nil {
		return err
	}

	switch outcome.kind {
	case classifyNotFound:
		return p.reject(w, command, &NoSuchResource{ResourceKey: resourceKey}, fmt.Sprintf("resource %d not found", resourceKey))

	case classifyProcess:
		return p.deleteProcess(tx, w, command, eventKey, outcome.process)

	case classifyDrg:
		return p.deleteDrg(tx, w, eventKey, outcome.drg)

	default:
		return fmt.Errorf("deletion: unreachable classify outcome %d", outcome.kind)
	}
}

func (p *Processor) deleteProcess(tx *kv.Transaction, w writers, command record.Envelope, eventKey int64, proc record.ProcessRecord) error {
	stripped, err := record.Encode(proc.WithoutResource())
	if err != nil {
		return err
	}
	w.state.AppendFollowUpEvent(eventKey, record.IntentProcessDeletingEvent, record.ValueTypeProcessRecord, stripped)

	if p.instances.HasActiveProcessInstances(proc.Key) {
		return p.reject(w, command, &ActiveProcessInstances{ProcessKey: proc.Key}, fmt.Sprintf("process %d has active instances", proc.Key))
	}

	w.state.AppendFollowUpEvent(eventKey, record.IntentProcessDeletedEvent, record.ValueTypeProcessRecord, stripped)
	return p.store.DeleteProcess(tx, proc.Key)
}

func (p *Processor) deleteDrg(tx *kv.Transaction, w writers, eventKey int64, drg record.DrgRecord) error {
	decisions, err := p.store.FindDecisionsByDrgKey(tx, drg.DrgKey)
	if err != nil {
		return err
	}

	for _, d := range decisions {
		encoded, err := record.Encode(d)
		if err != nil {
			return err
		}
		w.state.AppendFollowUpEvent(eventKey, record.IntentDecisionDeletedEvent, record.ValueTypeDecisionRecord, encoded)
		if err := p.store.DeleteDecision(tx, d); err != nil {
			return err
		}
	}

	encoded, err := record.Encode(drg)
	if err != nil {
		return err
	}
	w.state.AppendFollowUpEvent(eventKey, record.IntentDrgDeletedEvent, record.ValueTypeDrgRecord, encoded)
	return p.store.DeleteDrg(tx, drg)
}

func (p *Processor) reject(w writers, command record.Envelope, expected ExpectedError, humanMessage string) error {
	w.rejection.AppendRejection(command, expected.RejectionKind(), humanMessage)
	if w.response != nil {
		w.response.WriteRejectionOnCommand(command, expected.RejectionKind(), humanMessage)
	}
	return expected
}

func mustEncodeResourceKey(command record.Envelope) []byte {
	// The outer ResourceDeletion:DELETED event carries the same
	// resourceKey payload the command arrived with.
	return command.Value
}
