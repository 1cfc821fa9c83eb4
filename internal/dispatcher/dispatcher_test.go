package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/extract"
	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
	"github.com/JakeFAU/video-metadata-crawler/internal/session/sessiontest"
)

type savedCheckpoint struct {
	records []crawler.Record
	path    string
	partial bool
}

type fakeStore struct {
	mu      sync.Mutex
	partial []savedCheckpoint
	final   []crawler.Document
	err     error
}

func (s *fakeStore) Save(_ context.Context, records []crawler.Record, path string, partial bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial = append(s.partial, savedCheckpoint{records: records, path: path, partial: partial})
	return s.err
}

func (s *fakeStore) SaveDocument(_ context.Context, doc crawler.Document, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = append(s.final, doc)
	return s.err
}

type countingEmitter struct {
	mu     sync.Mutex
	counts map[progress.Stage]int
}

func (e *countingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.counts == nil {
		e.counts = make(map[progress.Stage]int)
	}
	e.counts[evt.Stage]++
}

func videoURL(i int) string {
	return fmt.Sprintf("https://www.tiktok.com/@user%d/video/%d", i, i)
}

func newSite(n int, failing ...int) (*sessiontest.Site, []string) {
	bad := make(map[int]bool, len(failing))
	for _, i := range failing {
		bad[i] = true
	}
	pages := make(map[string]sessiontest.Page, n)
	urls := make([]string, n)
	for i := 0; i < n; i++ {
		urls[i] = videoURL(i)
		if bad[i] {
			pages[urls[i]] = sessiontest.Page{NavErr: errors.New("net::ERR_CONNECTION_RESET")}
			continue
		}
		pages[urls[i]] = sessiontest.Page{
			Eval: fmt.Sprintf(`{"universal_data":{"item":{"desc":"clip %d","stats":{"diggCount":%d}}}}`, i, i+1),
		}
	}
	return sessiontest.NewSite(pages), urls
}

func TestPartition(t *testing.T) {
	t.Parallel()

	urls := []string{"a", "b", "c", "d", "e", "f", "g"}
	chunks := Partition(urls, 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[1], 2)
	assert.Len(t, chunks[2], 2)

	var flat []crawler.Item
	for _, c := range chunks {
		flat = append(flat, c...)
	}
	for i, it := range flat {
		assert.Equal(t, i, it.Index)
		assert.Equal(t, urls[i], it.URL)
	}

	assert.Len(t, Partition(urls[:2], 5), 2, "never more chunks than urls")
	assert.Len(t, Partition(urls, 0), 1)
	assert.Nil(t, Partition(nil, 3))
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := ParseMode("queue")
	require.NoError(t, err)
	assert.Equal(t, ModeQueue, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeChunked, m)
	_, err = ParseMode("round-robin")
	require.Error(t, err)
}

func TestRunPreservesInputOrder(t *testing.T) {
	t.Parallel()

	for _, mode := range []Mode{ModeChunked, ModeQueue} {
		mode := mode
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			site, urls := newSite(17, 4, 11)
			factory := sessiontest.NewFactory(site)
			store := &fakeStore{}
			events := &countingEmitter{}
			d := New(
				Config{Workers: 4, Mode: mode, CheckpointEvery: 5, OutputPath: "out.json"},
				factory,
				extract.New(extract.Config{MaxRetries: 1}, nil),
				store,
				events,
				nil,
				zap.NewNop(),
			)

			doc, err := d.Run(context.Background(), urls)
			require.NoError(t, err)
			require.Len(t, doc.Videos, len(urls))
			for i, rec := range doc.Videos {
				assert.Equal(t, urls[i], rec.URL)
			}
			assert.Equal(t, 17, doc.TotalVideos)
			assert.Equal(t, 15, doc.SuccessfulExtractions)
			assert.Equal(t, 2, doc.FailedExtractions)
			assert.True(t, doc.Videos[4].Failed())
			assert.Nil(t, doc.Videos[4].LikeCount)
			assert.EqualValues(t, 6, *doc.Videos[5].LikeCount)

			for _, sess := range factory.Created() {
				assert.False(t, sess.Overlapped(), "session %s used concurrently", sess.ID())
				assert.True(t, sess.Closed())
			}
			assert.LessOrEqual(t, len(factory.Created()), 4)

			require.Len(t, store.final, 1)
			assert.Equal(t, doc, store.final[0])
			require.Len(t, store.partial, 3, "checkpoints at 5, 10 and 15 completions")
			for _, cp := range store.partial {
				assert.True(t, cp.partial)
				assert.Equal(t, "out.json", cp.path)
				assert.GreaterOrEqual(t, len(cp.records), 5)
				for _, rec := range cp.records {
					assert.NotEmpty(t, rec.URL, "snapshot holds no empty slots")
				}
			}
			assert.Equal(t, 3, events.counts[progress.StageCheckpoint])
			assert.Equal(t, 15, events.counts[progress.StageItemDone])
			assert.Equal(t, 2, events.counts[progress.StageItemError])
			assert.Equal(t, 1, events.counts[progress.StageRunDone])
		})
	}
}

func TestRunEmptyInput(t *testing.T) {
	t.Parallel()

	d := New(Config{}, sessiontest.NewFactory(nil), extract.New(extract.Config{}, nil), nil, nil, nil, nil)
	_, err := d.Run(context.Background(), nil)
	require.ErrorIs(t, err, crawler.ErrNoInput)
}

func TestRunCanceledStillCoversEveryURL(t *testing.T) {
	t.Parallel()

	site, urls := newSite(6)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &fakeStore{}
	d := New(
		Config{Workers: 2, OutputPath: "out.json"},
		sessiontest.NewFactory(site),
		extract.New(extract.Config{}, nil),
		store,
		nil,
		nil,
		nil,
	)
	doc, err := d.Run(ctx, urls)
	require.NoError(t, err)
	require.Len(t, doc.Videos, 6)
	assert.Equal(t, 6, doc.FailedExtractions)
	require.Len(t, store.final, 1, "interrupted runs are still saved")
}

func TestRunReportsFinalSaveError(t *testing.T) {
	t.Parallel()

	site, urls := newSite(2)
	store := &fakeStore{err: errors.New("disk full")}
	d := New(
		Config{Workers: 1, OutputPath: "out.json"},
		sessiontest.NewFactory(site),
		extract.New(extract.Config{}, nil),
		store,
		nil,
		nil,
		nil,
	)
	doc, err := d.Run(context.Background(), urls)
	require.ErrorContains(t, err, "disk full")
	assert.Len(t, doc.Videos, 2)
}

func TestCollectorIgnoresDuplicateAndOutOfRangeSlots(t *testing.T) {
	t.Parallel()

	var saves int
	col := newCollector(2, 1, func(int, []crawler.Record) { saves++ })
	col.Put(crawler.Item{Index: 0, URL: "a"}, crawler.Record{URL: "a"})
	col.Put(crawler.Item{Index: 0, URL: "a"}, crawler.Record{URL: "dup"})
	col.Put(crawler.Item{Index: 7, URL: "x"}, crawler.Record{URL: "x"})

	recs := col.records([]string{"a", "b"})
	assert.Equal(t, "a", recs[0].URL)
	assert.True(t, recs[1].Failed())
	assert.Equal(t, 1, saves)
}
