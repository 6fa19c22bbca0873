package distribution

import (
	"context"
	"fmt"
	"sort"

	"partitiond/record"
)

// Topology exposes the stable partition metadata the fan-out is derived
// from (§4.4: "peer set is derived from stable partition metadata, not
// wall time").
type Topology struct {
	SelfPartitionID int32
	PeerIDs         []int32
}

// Peers returns the deterministic, sorted set of peer partition ids (every
// partition other than self).
func (t Topology) Peers() []int32 {
	peers := make([]int32, 0, len(t.PeerIDs))
	for _, id := range t.PeerIDs {
		if id != t.SelfPartitionID {
			peers = append(peers, id)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// Distributor implements distributeCommand/acknowledgeCommand (§4.4). It
// is not a kv.Transaction participant directly — distribution is scheduled
// within the command's transaction (OnCommit), but the peer sends
// themselves happen after commit, against a durably-recorded pending-ack
// so a crash before all peers ack is safely retried from the persisted
// record on restart.
type Distributor struct {
	topology  Topology
	transport PeerTransport
	acks      AckStore
}

// New builds a Distributor for the given topology.
func New(topology Topology, transport PeerTransport, acks AckStore) *Distributor {
	return &Distributor{topology: topology, transport: transport, acks: acks}
}

// DistributeCommand schedules one copy of command, tagged with the
// deterministic key K, for every peer partition, and durably records a
// pending-ack so an interrupted fan-out resumes after restart.
func (d *Distributor) DistributeCommand(ctx context.Context, commandKey int64, command record.Envelope) error {
	peers := d.topology.Peers()
	if len(peers) == 0 {
		return nil
	}

	distributed := command
	distributed.Key = commandKey
	distributed.Distributed = true
	distributed.PartitionID = d.topology.SelfPartitionID

	if err := d.acks.Save(ctx, PendingAck{CommandKey: commandKey, RemainingPeers: peers}); err != nil {
		return fmt.Errorf("distribution: persist pending ack for %d: %w", commandKey, err)
	}

	for _, peer := range peers {
		if err := d.transport.Send(peer, distributed); err != nil {
			// Per §7 DistributionTransportError is handled inside C4 by
			// retry and never surfaced to the command; the pending-ack
			// record already written lets a later retry (driven by
			// RetryPending) resend to whichever peers have not acked.
			continue
		}
	}
	return nil
}

// AcknowledgeCommand is invoked by a peer after it applies a distributed
// command, informing the originator that peerPartitionID has applied
// commandKey.
func (d *Distributor) AcknowledgeCommand(ctx context.Context, commandKey int64, peerPartitionID int32) error {
	pending, ok, err := d.acks.Get(ctx, commandKey)
	if err != nil {
		return err
	}
	if !ok {
		// Already fully acknowledged (or never distributed locally);
		// idempotent no-op.
		return nil
	}

	remaining := make([]int32, 0, len(pending.RemainingPeers))
	for _, p := range pending.RemainingPeers {
		if p != peerPartitionID {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) == 0 {
		return d.acks.Delete(ctx, commandKey)
	}
	pending.RemainingPeers = remaining
	return d.acks.Save(ctx, pending)
}

// RetryPending resends commandKey to every peer that has not yet
// acknowledged. It runs only when a caller invokes it (Runtime.RetryPending
// exposes it); nothing in this module calls it at startup or on a timer.
func (d *Distributor) RetryPending(ctx context.Context, commandKey int64, command record.Envelope) error {
	pending, ok, err := d.acks.Get(ctx, commandKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	distributed := command
	distributed.Key = commandKey
	distributed.Distributed = true
	distributed.PartitionID = d.topology.SelfPartitionID

	for _, peer := range pending.RemainingPeers {
		if err := d.transport.Send(peer, distributed); err != nil {
			continue
		}
	}
	pending.RetryCount++
	return d.acks.Save(ctx, pending)
}

// Pending returns every command distributed from this partition that is
// still awaiting at least one peer's acknowledgement.
func (d *Distributor) Pending(ctx context.Context) ([]PendingAck, error) {
	return d.acks.ListPending(ctx)
}
