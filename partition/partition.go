// Package partition wires the resource state store (C2), log writers (C3),
// command distribution (C4), the deletion processor (C5) and processor
// dispatch (C6) into the single-threaded partition actor described in §5:
// one record in, one transaction, one outcome — commit and advance, or
// halt on an unexpected error.
package partition

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"partitiond/config"
	"partitiond/deletion"
	"partitiond/dispatch"
	"partitiond/distribution"
	"partitiond/kv"
	"partitiond/logging"
	"partitiond/logwriter"
	"partitiond/record"
	"partitiond/statemanager"
	"partitiond/store"
)

// Runtime is one partition actor: its embedded store, the collaborators
// the deletion processor needs, the dispatch table, and the bookkeeping
// `partitiond inspect` reads.
type Runtime struct {
	cfg config.PartitionConfig

	db          *kv.Store
	state       *store.Store
	keyGen      *KVKeyGenerator
	appender    *BoltAppender
	responder   *LogResponder
	transport   distribution.PeerTransport
	ackStore    *distribution.RedisAckStore
	distributor *distribution.Distributor
	registry    *dispatch.Registry
	commands    *statemanager.Manager
	metrics     *Metrics
	metricsSrv  *http.Server

	log *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
}

// rejectionKinder is the narrow shape Process inspects to label the
// RejectionsByKind metric; it mirrors dispatch's own expectedError shape
// rather than importing any processor package directly.
type rejectionKinder interface {
	error
	RejectionKind() record.RejectionKind
}

// Open starts a partition runtime from cfg: opens the embedded store,
// ensures every column family store/partition need, dials its peer
// transport and ack store, and binds the deletion processor as the sole
// entry in the dispatch table (§9: a real deployment binds one processor
// per intent it supports; this core supports exactly DeleteResource).
func Open(cfg config.PartitionConfig) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.Component(logger, "partition")

	db, err := kv.Open(filepath.Join(cfg.DataDir, "partition.db"))
	if err != nil {
		return nil, fmt.Errorf("partition: open store: %w", err)
	}

	families := append(append([]string{}, store.ColumnFamilies...), ColumnFamilies...)
	if err := db.EnsureColumnFamilies(families...); err != nil {
		db.Close()
		return nil, fmt.Errorf("partition: ensure column families: %w", err)
	}

	transport, err := distribution.NewAMQPPeerTransport(cfg.AMQPURL, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("partition: dial peer transport: %w", err)
	}

	ackStore, err := distribution.NewRedisAckStore(cfg.RedisURL)
	if err != nil {
		transport.Close()
		db.Close()
		return nil, fmt.Errorf("partition: connect ack store: %w", err)
	}

	topology := distribution.Topology{SelfPartitionID: cfg.PartitionID, PeerIDs: cfg.PeerPartitionIDs}
	distributor := distribution.New(topology, transport, ackStore)

	st := store.NewWithCapacity(cfg.CacheCapacity)
	keyGen := NewKVKeyGenerator(db)
	appender := NewBoltAppender(db)
	responder := NewLogResponder(log)

	deletionProcessor := deletion.New(st, NullElementInstances{}, keyGen, distributor)
	registry := dispatch.NewRegistry()
	registry.Bind(record.IntentDeleteResource, deletionProcessor)

	var metrics *Metrics
	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		metrics = NewMetrics(prometheus.DefaultRegisterer)
		metricsSrv = startMetricsServer(cfg.MetricsBindAddress, log)
	}

	ctx, cancel := context.WithCancel(context.Background())

	rt := &Runtime{
		cfg:         cfg,
		db:          db,
		state:       st,
		keyGen:      keyGen,
		appender:    appender,
		responder:   responder,
		transport:   transport,
		ackStore:    ackStore,
		distributor: distributor,
		registry:    registry,
		commands:    statemanager.New(statemanager.Config{PartitionID: cfg.PartitionID}),
		metrics:     metrics,
		metricsSrv:  metricsSrv,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}

	// A peer transport that can also receive is this runtime's only source
	// of commands besides an embedder calling Process directly off its own
	// log reader; draining it through one goroutine keeps every mutation
	// serialized through Process, preserving the single-threaded actor
	// model (§5) even though this module owns no log reader of its own.
	if consumer, ok := transport.(distribution.Consumer); ok {
		deliveries, err := consumer.Consume(ctx, cfg.PartitionID)
		if err != nil {
			cancel()
			if metricsSrv != nil {
				metricsSrv.Close()
			}
			ackStore.Close()
			transport.Close()
			db.Close()
			return nil, fmt.Errorf("partition: consume distributed commands: %w", err)
		}
		go rt.consumeDistributed(deliveries)
	}

	return rt, nil
}

// consumeDistributed applies every command a peer partition distributed to
// this one. Processing errors are logged rather than returned — there is
// no caller left to return them to once this loop is running in the
// background — matching how Recover already treats distribution failures
// as operational, not fatal.
func (rt *Runtime) consumeDistributed(deliveries <-chan record.Envelope) {
	for env := range deliveries {
		if err := rt.Process(rt.ctx, env); err != nil {
			rt.log.WithError(err).WithField("command_key", env.Key).Error("processing distributed command")
		}
	}
}

// Process applies one record read from the log (§5): non-command records
// (events, rejections) are log artifacts already handled by whoever wrote
// them and are skipped. A command is run inside its own transaction;
// Classify decides whether a processor error commits the rejection already
// written and continues, or aborts and halts the partition.
func (rt *Runtime) Process(ctx context.Context, command record.Envelope) error {
	if command.RecordType != record.RecordTypeCommand {
		return nil
	}

	tx, err := rt.db.Begin()
	if err != nil {
		return fmt.Errorf("partition: begin transaction: %w", err)
	}

	builder := logwriter.NewBuilder(rt.appender, rt.responder, command.SourceRecordPosition, rt.cfg.PartitionID)
	rt.commands.StartCommand(command.Key, string(command.Intent), nil)

	procErr := rt.registry.Dispatch(ctx, tx, command, builder)
	if procErr != nil && dispatch.Classify(procErr) == dispatch.UnexpectedErrorKind {
		tx.Abort()
		rt.commands.CompleteCommand(command.Key, statemanager.StatusFailed, procErr)
		rt.observe(command, "failed", nil)
		rt.log.WithError(procErr).WithField("intent", command.Intent).Error("halting: unexpected processor error")
		return fmt.Errorf("partition: unexpected error processing %s: %w", command.Intent, procErr)
	}

	if err := tx.Commit(); err != nil {
		rt.commands.CompleteCommand(command.Key, statemanager.StatusFailed, err)
		rt.observe(command, "failed", nil)
		return fmt.Errorf("partition: commit %s: %w", command.Intent, err)
	}
	if err := builder.FlushErr(); err != nil {
		// Store mutations are already durable; only the log/response
		// transport failed to persist what was already decided. Treated
		// the same as an unexpected error (§4.3): the partition cannot
		// tell whether a replay will see the same records again.
		rt.commands.CompleteCommand(command.Key, statemanager.StatusFailed, err)
		rt.observe(command, "failed", nil)
		return fmt.Errorf("partition: flush %s: %w", command.Intent, err)
	}

	if procErr != nil {
		var rejected rejectionKinder
		errors.As(procErr, &rejected)
		rt.commands.CompleteCommand(command.Key, statemanager.StatusRejected, procErr)
		rt.observe(command, "rejected", rejected)
		return nil
	}

	rt.commands.CompleteCommand(command.Key, statemanager.StatusCompleted, nil)
	rt.observe(command, "success", nil)
	return nil
}

func (rt *Runtime) observe(command record.Envelope, outcome string, rejected rejectionKinder) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.CommandsProcessed.WithLabelValues(string(command.Intent), outcome).Inc()
	if rejected != nil {
		rt.metrics.RejectionsByKind.WithLabelValues(string(rejected.RejectionKind())).Inc()
	}
}

// Recover reports every command this partition distributed to peers that
// has not yet been fully acknowledged (§4.4 "on restart, unacknowledged
// records are replayed"). The pending-ack records themselves are already
// durable in the ack store by the time DistributeCommand returns; what
// Recover cannot do on its own is reconstruct the original command
// envelope to resend, since the replicated log that held it is this
// module's one genuinely out-of-scope external collaborator (§1) — an
// embedder that replays its own log calls RetryPending for each pending
// key once it has re-read the matching record.
func (rt *Runtime) Recover(ctx context.Context) ([]distribution.PendingAck, error) {
	pending, err := rt.distributor.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("partition: list pending acks: %w", err)
	}
	if rt.metrics != nil {
		rt.metrics.PendingAcks.Set(float64(len(pending)))
	}
	rt.log.WithField("pending", len(pending)).Info("recovered pending distribution acks")
	return pending, nil
}

// RetryPending resends command (re-read from the log by the caller) to
// every peer that has not yet acknowledged commandKey.
func (rt *Runtime) RetryPending(ctx context.Context, commandKey int64, command record.Envelope) error {
	return rt.distributor.RetryPending(ctx, commandKey, command)
}

// Stats returns aggregated statistics over recently tracked commands, for
// `partitiond inspect`.
func (rt *Runtime) Stats() *statemanager.Stats {
	return rt.commands.Stats()
}

// CommandHistory returns every recently tracked command, for `partitiond
// inspect`.
func (rt *Runtime) CommandHistory() []*statemanager.CommandState {
	return rt.commands.List()
}

// Close releases every resource Open acquired. Pending-ack records are
// already durable in the ack store (Redis) as of the call that created
// them, so Close has nothing left to flush there; it only needs to stop the
// distributed-command consumer, the metrics server, and close connections
// in the reverse of the order Open opened them.
func (rt *Runtime) Close() error {
	if rt.cancel != nil {
		rt.cancel()
	}

	var errs []error
	if rt.metricsSrv != nil {
		if err := rt.metricsSrv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := rt.ackStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("partition: close: %v", errs)
	}
	return nil
}
