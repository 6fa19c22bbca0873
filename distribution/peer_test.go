package distribution

import (
	"context"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partitiond/record"
)

// fakeAMQPChannel stands in for a real *amqp.Channel, grounded on the
// teacher's MockAMQPChannel (queue/amqp_mock.go) but extended with a
// Consume side so AMQPPeerTransport.Consume can be exercised without a
// running broker.
type fakeAMQPChannel struct {
	declared  []string
	published []amqp.Publishing
	publishTo []string

	queueDeclareErr error
	publishErr      error
	consumeErr      error

	deliveries chan amqp.Delivery
}

func newFakeAMQPChannel() *fakeAMQPChannel {
	return &fakeAMQPChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	if f.queueDeclareErr != nil {
		return amqp.Queue{}, f.queueDeclareErr
	}
	return amqp.Queue{Name: name}, nil
}

func (f *fakeAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	f.publishTo = append(f.publishTo, key)
	return nil
}

func (f *fakeAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.deliveries, nil
}

func (f *fakeAMQPChannel) Close() error {
	close(f.deliveries)
	return nil
}

type fakeAMQPConnection struct {
	channel *fakeAMQPChannel
}

func (f *fakeAMQPConnection) Channel() (AMQPChannel, error) { return f.channel, nil }
func (f *fakeAMQPConnection) Close() error                  { return nil }

type fakeAMQPDialer struct {
	conn *fakeAMQPConnection
}

func (f *fakeAMQPDialer) Dial(url string) (AMQPConnection, error) { return f.conn, nil }

func newTestTransport() (*AMQPPeerTransport, *fakeAMQPChannel) {
	ch := newFakeAMQPChannel()
	dialer := &fakeAMQPDialer{conn: &fakeAMQPConnection{channel: ch}}
	transport, err := NewAMQPPeerTransport("amqp://test", dialer)
	if err != nil {
		panic(err)
	}
	return transport, ch
}

func TestAMQPPeerTransport_Send_DeclaresQueueAndPublishes(t *testing.T) {
	transport, ch := newTestTransport()

	env := record.Envelope{Key: 1, Intent: record.IntentDeleteResource}
	require.NoError(t, transport.Send(2, env))

	assert.Equal(t, []string{"partition.2.distribute"}, ch.declared)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "application/msgpack", ch.published[0].ContentType)
}

func TestAMQPPeerTransport_Consume_DecodesDeliveries(t *testing.T) {
	transport, ch := newTestTransport()

	body, err := record.Encode(record.Envelope{Key: 7, Intent: record.IntentDeleteResource})
	require.NoError(t, err)
	ch.deliveries <- amqp.Delivery{Body: body}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envelopes, err := transport.Consume(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, ch.declared, "partition.1.distribute")

	select {
	case env := <-envelopes:
		assert.Equal(t, int64(7), env.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumed envelope")
	}
}

func TestAMQPPeerTransport_Consume_SkipsUndecodableDeliveries(t *testing.T) {
	transport, ch := newTestTransport()

	ch.deliveries <- amqp.Delivery{Body: []byte("not msgpack")}
	good, err := record.Encode(record.Envelope{Key: 9})
	require.NoError(t, err)
	ch.deliveries <- amqp.Delivery{Body: good}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envelopes, err := transport.Consume(ctx, 1)
	require.NoError(t, err)

	select {
	case env := <-envelopes:
		assert.Equal(t, int64(9), env.Key, "malformed delivery skipped, good one still delivered")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumed envelope")
	}
}
