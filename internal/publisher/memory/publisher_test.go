package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type taggedEvent struct {
	Kind string
}

func (e taggedEvent) EventAttributes() map[string]string {
	return map[string]string{"event_type": e.Kind}
}

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "catalog-events", taggedEvent{Kind: "item.enriched"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "catalog-audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "catalog-events", msgs[0].Topic)
	require.Equal(t, map[string]string{"event_type": "item.enriched"}, msgs[0].Attributes)
	require.Nil(t, msgs[1].Attributes)

	msgs[0].Topic = "modified"
	require.Equal(t, "catalog-events", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("unavailable")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "catalog-events", "x")
	require.ErrorIs(t, err, boom)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "catalog-events", "x")
	require.NoError(t, err)
	require.Len(t, pub.Messages(), 1)
}
