package fakemq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakemq/fakemq/broker"
)

func newChannel(t *testing.T) (*broker.Broker, *Channel) {
	t.Helper()
	b := broker.New()
	conn := Connect(b)
	t.Cleanup(func() { conn.Close() })
	ch, err := conn.Channel()
	require.NoError(t, err)
	return b, ch
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	_, ch := newChannel(t)

	require.NoError(t, ch.ExchangeDeclare("events", "topic", true, false, false, false, nil))
	_, err := ch.QueueDeclare("audit", true, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind("audit", "user.#", "events", false, nil))

	deliveries, err := ch.Consume("audit", "", true, false, false, false, nil)
	require.NoError(t, err)

	err = ch.PublishWithContext(context.Background(), "events", "user.created", false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: "corr-1",
		Body:          []byte(`{"id":1}`),
	})
	require.NoError(t, err)

	// Delivery is synchronous: the message is already buffered.
	select {
	case d := <-deliveries:
		assert.Equal(t, "events", d.Exchange)
		assert.Equal(t, "user.created", d.RoutingKey)
		assert.Equal(t, []byte(`{"id":1}`), d.Body)
		assert.Equal(t, "application/json", d.ContentType)
		assert.Equal(t, "corr-1", d.CorrelationId)
		assert.NotEmpty(t, d.MessageId)
		assert.False(t, d.Timestamp.IsZero())
		assert.NotZero(t, d.DeliveryTag)
		require.NoError(t, d.Ack(false))
	default:
		t.Fatal("no delivery buffered after publish")
	}
}

func TestConsumeDrainsBacklog(t *testing.T) {
	_, ch := newChannel(t)
	require.NoError(t, ch.ExchangeDeclare("ex", "direct", false, false, false, false, nil))
	_, err := ch.QueueDeclare("q", false, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind("q", "k", "ex", false, nil))

	for _, body := range []string{"one", "two"} {
		require.NoError(t, ch.PublishWithContext(context.Background(), "ex", "k", false, false,
			amqp.Publishing{Body: []byte(body)}))
	}

	deliveries, err := ch.Consume("q", "", true, false, false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "one", string((<-deliveries).Body))
	assert.Equal(t, "two", string((<-deliveries).Body))
}

func TestGet(t *testing.T) {
	_, ch := newChannel(t)
	require.NoError(t, ch.ExchangeDeclare("ex", "direct", false, false, false, false, nil))
	_, err := ch.QueueDeclare("q", false, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind("q", "k", "ex", false, nil))

	_, ok, err := ch.Get("q", true)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ch.PublishWithContext(context.Background(), "ex", "k", false, false,
		amqp.Publishing{Body: []byte("polled")}))

	d, ok, err := ch.Get("q", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("polled"), d.Body)
	require.NoError(t, d.Ack(false))
}

func TestPublishWithoutBindingIsSilent(t *testing.T) {
	_, ch := newChannel(t)
	require.NoError(t, ch.ExchangeDeclare("ex", "direct", false, false, false, false, nil))

	assert.NoError(t, ch.PublishWithContext(context.Background(), "ex", "unbound", false, false,
		amqp.Publishing{Body: []byte("void")}))
	assert.NoError(t, ch.PublishWithContext(context.Background(), "ghost", "k", false, false,
		amqp.Publishing{Body: []byte("void")}))
}

func TestQueueDeclareReportsState(t *testing.T) {
	_, ch := newChannel(t)
	require.NoError(t, ch.ExchangeDeclare("ex", "direct", false, false, false, false, nil))
	q, err := ch.QueueDeclare("q", false, false, false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, amqp.Queue{Name: "q"}, q)

	require.NoError(t, ch.QueueBind("q", "k", "ex", false, nil))
	require.NoError(t, ch.PublishWithContext(context.Background(), "ex", "k", false, false,
		amqp.Publishing{Body: []byte("x")}))

	q, err = ch.QueueDeclare("q", false, false, false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Messages)
}

func TestExchangeDeclareErrors(t *testing.T) {
	_, ch := newChannel(t)
	require.NoError(t, ch.ExchangeDeclare("ex", "direct", false, false, false, false, nil))

	err := ch.ExchangeDeclare("ex", "topic", false, false, false, false, nil)
	assert.ErrorIs(t, err, broker.ErrExchangeTypeMismatch)

	err = ch.ExchangeDeclare("other", "headers", false, false, false, false, nil)
	assert.ErrorIs(t, err, broker.ErrUnknownExchangeType)
}

func TestConnectionsShareBroker(t *testing.T) {
	b := broker.New()
	producer := Connect(b)
	consumer := Connect(b)
	defer producer.Close()
	defer consumer.Close()

	pch, err := producer.Channel()
	require.NoError(t, err)
	cch, err := consumer.Channel()
	require.NoError(t, err)

	require.NoError(t, cch.ExchangeDeclare("shared", "direct", false, false, false, false, nil))
	_, err = cch.QueueDeclare("inbox", false, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, cch.QueueBind("inbox", "ping", "shared", false, nil))
	deliveries, err := cch.Consume("inbox", "", true, false, false, false, nil)
	require.NoError(t, err)

	// The producer never declared anything; the topology is global.
	require.NoError(t, pch.PublishWithContext(context.Background(), "shared", "ping", false, false,
		amqp.Publishing{Body: []byte("hello")}))
	assert.Equal(t, "hello", string((<-deliveries).Body))
}

func TestClose(t *testing.T) {
	t.Run("connection close closes channels", func(t *testing.T) {
		b := broker.New()
		conn := Connect(b)
		ch, err := conn.Channel()
		require.NoError(t, err)

		require.NoError(t, conn.Close())
		assert.True(t, conn.IsClosed())
		assert.ErrorIs(t, conn.Close(), amqp.ErrClosed)

		_, err = conn.Channel()
		assert.ErrorIs(t, err, amqp.ErrClosed)
		err = ch.PublishWithContext(context.Background(), "ex", "k", false, false, amqp.Publishing{})
		assert.ErrorIs(t, err, amqp.ErrClosed)
		assert.Empty(t, b.Channels())
	})

	t.Run("channel close ends consume streams", func(t *testing.T) {
		_, ch := newChannel(t)
		_, err := ch.QueueDeclare("q", false, false, false, false, nil)
		require.NoError(t, err)
		deliveries, err := ch.Consume("q", "", true, false, false, false, nil)
		require.NoError(t, err)

		require.NoError(t, ch.Close())
		_, open := <-deliveries
		assert.False(t, open)
		assert.ErrorIs(t, ch.Close(), amqp.ErrClosed)
	})

	t.Run("cancel ends one consume stream", func(t *testing.T) {
		_, ch := newChannel(t)
		_, err := ch.QueueDeclare("q", false, false, false, false, nil)
		require.NoError(t, err)
		deliveries, err := ch.Consume("q", "tag", true, false, false, false, nil)
		require.NoError(t, err)

		require.NoError(t, ch.Cancel("tag", false))
		_, open := <-deliveries
		assert.False(t, open)
	})
}

func TestCancelContext(t *testing.T) {
	_, ch := newChannel(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ch.PublishWithContext(ctx, "ex", "k", false, false, amqp.Publishing{})
	assert.ErrorIs(t, err, context.Canceled)
}
