package notify

import (
	"context"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkax "github.com/hpratama/go-fieldsales-orders/internal/kafka"
	"github.com/hpratama/go-fieldsales-orders/internal/orders"
)

type capturedMsg struct {
	topic   string
	key     []byte
	value   []byte
	headers []kafkago.Header
}

type fakePublisher struct{ msgs []capturedMsg }

func (f *fakePublisher) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	f.msgs = append(f.msgs, capturedMsg{topic: topic, key: key, value: value, headers: headers})
}

func TestKafkaNotifierEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	k := &Kafka{p: pub, service: "orders-api"}

	k.OrderRejected(context.Background(), orders.OrderRejectedEvent{
		OrderID:    "ord-1",
		RejectedBy: "dist-1",
		Reason:     "short stock",
	})

	require.Len(t, pub.msgs, 1)
	m := pub.msgs[0]
	assert.Equal(t, TopicOrderRejected, m.topic)
	assert.Equal(t, []byte("ord-1"), m.key)

	var env Envelope
	require.NoError(t, kafkax.UnmarshalEnvelope(m.value, &env))
	assert.Equal(t, EventOrderRejected, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "orders-api", env.Producer)
	assert.Equal(t, "ord-1", env.CorrelationID)
	assert.NotEmpty(t, env.EventID)

	payload, err := kafkax.UnwrapPayload[orders.OrderRejectedEvent](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "short stock", payload.Reason)

	require.Len(t, m.headers, 2)
	assert.Equal(t, "x-event-type", m.headers[0].Key)
	assert.Equal(t, []byte(EventOrderRejected), m.headers[0].Value)
}

func TestKafkaNotifierDeferredPlacementKeysByPlacer(t *testing.T) {
	pub := &fakePublisher{}
	k := &Kafka{p: pub, service: "orders-api"}

	k.OrderPlaced(context.Background(), orders.OrderPlacedEvent{
		PlacerID:     "mr-1",
		PendingCount: 2,
	})

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, TopicOrderPlaced, pub.msgs[0].topic)
	assert.Equal(t, []byte("mr-1"), pub.msgs[0].key)
}
