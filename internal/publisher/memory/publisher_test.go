package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "prices", map[string]string{"product_id": "w-1"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"product_id":"w-1"}`, string(msgs[0].Data))
	require.Len(t, pub.Topic("prices"), 1)
	assert.Empty(t, pub.Topic("other"))

	msgs[0].Topic = "modified"
	assert.Equal(t, "prices", pub.Messages()[0].Topic)
}

func TestPublisherRejectsBadPayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "prices", make(chan int))
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "prices", "x")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.Messages())
}
