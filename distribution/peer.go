// Package distribution implements command distribution (§4.4): a
// deterministic fan-out of a locally applied command to every peer
// partition, idempotent application on peers keyed by the command's
// deterministic key K, and pending-ack bookkeeping that survives a
// restart. Peer transport is RabbitMQ (github.com/streadway/amqp, grounded
// on the teacher's queue/rabbit.go); ack durability is Redis
// (github.com/redis/go-redis/v9, grounded on db/repository/redis.go).
package distribution

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"

	"partitiond/record"
)

// PeerTransport sends a distributed command to one peer partition.
type PeerTransport interface {
	// Send publishes env to the durable queue owned by peerPartitionID.
	Send(peerPartitionID int32, env record.Envelope) error
	Close() error
}

// Consumer is implemented by a PeerTransport that can also receive the
// commands peers distributed to this partition. Not every PeerTransport
// need implement it (tests commonly fake only Send/Close), so callers
// type-assert for it rather than requiring it on PeerTransport itself.
type Consumer interface {
	// Consume declares and drains selfPartitionID's own distribute queue,
	// decoding each delivery into a record.Envelope. The channel closes
	// once ctx is done or the underlying connection is closed.
	Consume(ctx context.Context, selfPartitionID int32) (<-chan record.Envelope, error)
}

// AMQPPeerTransport publishes distributed commands over RabbitMQ, one
// durable queue per peer partition, named "partition.<id>.distribute".
type AMQPPeerTransport struct {
	conn    AMQPConnection
	channel AMQPChannel
}

// NewAMQPPeerTransport dials url and declares nothing up front; a peer's
// queue is declared by each Send that targets it.
func NewAMQPPeerTransport(url string, dialer AMQPDialer) (*AMQPPeerTransport, error) {
	if dialer == nil {
		dialer = RealAMQPDialer{}
	}
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("distribution: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("distribution: open channel: %w", err)
	}
	return &AMQPPeerTransport{conn: conn, channel: ch}, nil
}

func queueName(peerPartitionID int32) string {
	return fmt.Sprintf("partition.%d.distribute", peerPartitionID)
}

// Send publishes env to peerPartitionID's durable queue, declaring the
// queue (an idempotent operation) before every publish.
func (t *AMQPPeerTransport) Send(peerPartitionID int32, env record.Envelope) error {
	name := queueName(peerPartitionID)
	if _, err := t.channel.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("distribution: declare queue %s: %w", name, err)
	}

	body, err := record.Encode(env)
	if err != nil {
		return fmt.Errorf("distribution: encode envelope: %w", err)
	}

	err = t.channel.Publish("", name, false, false, amqp.Publishing{
		ContentType: "application/msgpack",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("distribution: publish to %s: %w", name, err)
	}
	return nil
}

// Consume declares selfPartitionID's own distribute queue and starts
// draining it, satisfying the Consumer interface so a partition.Runtime can
// apply commands other partitions distributed to it (§4.4 fan-out has a
// receiving side, not just a sending one). Deliveries are auto-acked on
// receipt, so the broker does not redeliver one that was in flight when
// this partition stopped; the originator's pending-ack record for it stays
// in place, and RetryPending can resend it.
func (t *AMQPPeerTransport) Consume(ctx context.Context, selfPartitionID int32) (<-chan record.Envelope, error) {
	name := queueName(selfPartitionID)
	if _, err := t.channel.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("distribution: declare queue %s: %w", name, err)
	}
	deliveries, err := t.channel.Consume(name, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("distribution: consume %s: %w", name, err)
	}

	envelopes := make(chan record.Envelope)
	go func() {
		defer close(envelopes)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var env record.Envelope
				if err := record.Decode(d.Body, &env); err != nil {
					continue
				}
				select {
				case envelopes <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return envelopes, nil
}

// Close releases the channel and connection.
func (t *AMQPPeerTransport) Close() error {
	if t.channel != nil {
		t.channel.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
