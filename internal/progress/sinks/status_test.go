package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
)

func TestStatusSinkTracksRun(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	id := uuid.New()
	runID := progress.UUIDToBytes(id)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: start, Stage: progress.StageRunStart, Operation: "extract", Count: 3},
		{RunID: runID, TS: start.Add(time.Second), Stage: progress.StageSessionStart, Worker: 1},
		{RunID: runID, TS: start.Add(2 * time.Second), Stage: progress.StageItemDone, URL: "a"},
		{RunID: runID, TS: start.Add(3 * time.Second), Stage: progress.StageItemError, URL: "b", Note: "timeout"},
	}))

	st, ok := sink.Get(runID)
	require.True(t, ok)
	require.Equal(t, id.String(), st.RunID)
	require.Equal(t, "extract", st.Operation)
	require.Equal(t, 3, st.Total)
	require.Equal(t, 2, st.Completed)
	require.Equal(t, 1, st.Successful)
	require.Equal(t, 1, st.Failed)
	require.Equal(t, 1, st.SessionsOpened)
	require.Equal(t, "timeout", st.LastError)
	require.True(t, st.Running())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: start.Add(time.Minute), Stage: progress.StageCheckpoint, Count: 2},
		{RunID: runID, TS: start.Add(2 * time.Minute), Stage: progress.StageRunDone},
	}))
	st, _ = sink.Get(runID)
	require.Equal(t, 1, st.Checkpoints)
	require.False(t, st.Running())
	require.Equal(t, start.Add(2*time.Minute), st.UpdatedAt)
}

func TestStatusSinkListNewestFirst(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	older := progress.UUIDToBytes(uuid.New())
	newer := progress.UUIDToBytes(uuid.New())
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: older, TS: base, Stage: progress.StageRunStart},
		{RunID: newer, TS: base.Add(time.Hour), Stage: progress.StageRunStart},
	}))

	list := sink.List()
	require.Len(t, list, 2)
	require.Equal(t, uuid.UUID(newer).String(), list[0].RunID)

	_, ok := sink.Get(progress.UUIDToBytes(uuid.New()))
	require.False(t, ok)
}
