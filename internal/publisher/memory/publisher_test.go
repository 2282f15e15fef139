package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "harvest", map[string]string{"phase": "institutions"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	id, err = pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "harvest", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "harvest", pub.Messages()[0].Topic)

	require.Equal(t, []any{"payload"}, pub.Topic("other"))
	require.Empty(t, pub.Topic("missing"))
}
