package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "runs", crawler.Summary{RunID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "runs", crawler.Summary{RunID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Payload.(crawler.Summary).RunID)
	assert.Equal(t, "memory-2", msgs[1].ID)

	msgs[0].Topic = "modified"
	assert.Equal(t, "runs", pub.Messages()[0].Topic, "Messages returns a copy")
}

func TestPublisherRespectsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "runs", "x")
	require.ErrorIs(t, err, context.Canceled)
}
