package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/publisher/pubsub"
)

func openTestPublisher(t *testing.T, topic string) (*pubsub.Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	admin, err := gpubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, topic)
	require.NoError(t, err)

	pub, err := pubsub.Open(ctx, pubsub.Config{ProjectID: "test-project", TopicName: topic}, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

func TestPublishSummary(t *testing.T) {
	t.Parallel()

	pub, srv := openTestPublisher(t, "runs")
	summary := crawler.Summary{
		RunID:      "run-1",
		Operation:  "extract",
		OutputPath: "out.json",
		Total:      3,
		Successful: 2,
		Failed:     1,
		FinishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	id, err := pub.Publish(context.Background(), "", summary)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "run-1", msgs[0].Attributes["run_id"])
	assert.Equal(t, "extract", msgs[0].Attributes["operation"])
	var got crawler.Summary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, summary, got)
}

func TestPublishUnknownTopicFails(t *testing.T) {
	t.Parallel()

	pub, _ := openTestPublisher(t, "runs")
	_, err := pub.Publish(context.Background(), "missing", map[string]int{"n": 1})
	require.Error(t, err)
}

func TestOpenRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := pubsub.Open(context.Background(), pubsub.Config{TopicName: "runs"})
	require.Error(t, err)

	_, err = pubsub.New(nil, "").Publish(context.Background(), "runs", "x")
	require.Error(t, err)
}
