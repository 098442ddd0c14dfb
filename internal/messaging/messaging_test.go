package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClientDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client := NewMemoryClient("orders.lifecycle", 4)

	require.NoError(t, client.Publish(ctx, []byte("order-1"), []byte(`{"to":"processing"}`), map[string]string{HeaderTrigger: "payment_succeeded"}))
	require.NoError(t, client.Publish(ctx, []byte("order-1"), []byte(`{"to":"shipped"}`), nil))

	var got []Message
	err := client.Consume(ctx, func(_ context.Context, msg Message) error {
		got = append(got, msg)
		if len(got) == 2 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 2)
	assert.Equal(t, "orders.lifecycle", got[0].Topic)
	assert.Equal(t, "payment_succeeded", got[0].Headers[HeaderTrigger])
	assert.Less(t, got[0].Offset, got[1].Offset)
}

func TestMemoryClientPublishHonoursContext(t *testing.T) {
	client := NewMemoryClient("t", 1)
	require.NoError(t, client.Publish(context.Background(), nil, []byte("a"), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, client.Publish(ctx, nil, []byte("b"), nil), context.Canceled)
}

func TestFromKafkaCopiesHeaders(t *testing.T) {
	msg := fromKafka(kafka.Message{
		Topic:   "orders.lifecycle",
		Key:     []byte("order-1"),
		Value:   []byte("{}"),
		Offset:  42,
		Headers: []kafka.Header{{Key: HeaderContentType, Value: []byte("application/json")}},
	})
	assert.Equal(t, int64(42), msg.Offset)
	assert.Equal(t, "application/json", msg.Headers[HeaderContentType])

	assert.Nil(t, fromKafka(kafka.Message{}).Headers)
}
