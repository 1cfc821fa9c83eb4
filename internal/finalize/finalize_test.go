package finalize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/checkpoint"
	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/extract"
	"github.com/JakeFAU/video-metadata-crawler/internal/session/sessiontest"
)

const (
	okURL     = "https://www.tiktok.com/@ok/video/1"
	fixedURL  = "https://www.tiktok.com/@fixed/video/2"
	brokenURL = "https://www.tiktok.com/@broken/video/3"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seedDocument(t *testing.T, store *checkpoint.Store) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run_metadata.json")
	records := []crawler.Record{
		{URL: okURL, Title: crawler.StringPtr("ok"), LikeCount: crawler.Int64Ptr(4), Hashtags: []string{}},
		crawler.FailedRecord(fixedURL, errors.New("session not created")).Normalize(),
		crawler.FailedRecord(brokenURL, errors.New("timeout")).Normalize(),
	}
	require.NoError(t, store.Save(context.Background(), records, path, false))
	return path
}

func newSite() *sessiontest.Site {
	return sessiontest.NewSite(map[string]sessiontest.Page{
		okURL:     {Eval: `{"universal_data":{"item":{"desc":"ok"}}}`},
		fixedURL:  {Eval: `{"universal_data":{"item":{"desc":"now #Working","stats":{"diggCount":12}}}}`},
		brokenURL: {NavErr: errors.New("net::ERR_NAME_NOT_RESOLVED")},
	})
}

func TestFinalizeRetriesOnlyFailedRecords(t *testing.T) {
	t.Parallel()

	finalizedAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	store := checkpoint.New()
	path := seedDocument(t, store)
	site := newSite()
	factory := sessiontest.NewFactory(site)

	f := New(Config{}, factory, extract.New(extract.Config{MaxRetries: 1}, nil), store, nil, fixedClock{finalizedAt}, zap.NewNop())
	stats, err := f.Finalize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Stats{Retried: 2, Successful: 1, StillFailed: 1}, stats)

	assert.Zero(t, site.Visits(okURL), "successful records are not revisited")
	require.Len(t, factory.Created(), 1, "one session for the whole pass")
	assert.False(t, factory.Created()[0].Overlapped())
	assert.True(t, factory.Created()[0].Closed())

	doc, err := store.Load(path)
	require.NoError(t, err)
	require.Len(t, doc.Videos, 3)
	assert.Equal(t, []string{okURL, fixedURL, brokenURL},
		[]string{doc.Videos[0].URL, doc.Videos[1].URL, doc.Videos[2].URL})
	assert.False(t, doc.Videos[1].Failed())
	assert.EqualValues(t, 12, *doc.Videos[1].LikeCount)
	assert.Equal(t, []string{"working"}, doc.Videos[1].Hashtags)
	assert.True(t, doc.Videos[2].Failed())
	assert.Equal(t, 2, doc.SuccessfulExtractions)
	assert.Equal(t, 1, doc.FailedExtractions)
	require.NotNil(t, doc.FinalizedAt)
	assert.True(t, doc.FinalizedAt.Equal(finalizedAt))
}

func TestFinalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	store := checkpoint.New()
	path := seedDocument(t, store)
	f := New(Config{}, sessiontest.NewFactory(newSite()), extract.New(extract.Config{MaxRetries: 1}, nil), store, nil, nil, nil)

	first, err := f.Finalize(context.Background(), path)
	require.NoError(t, err)
	second, err := f.Finalize(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, first.StillFailed, second.StillFailed)
	assert.Equal(t, 1, second.Retried)
	assert.Zero(t, second.Successful)

	doc, err := store.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.SuccessfulExtractions)
}

func TestFinalizeNothingToRetry(t *testing.T) {
	t.Parallel()

	store := checkpoint.New()
	path := filepath.Join(t.TempDir(), "clean.json")
	require.NoError(t, store.Save(context.Background(),
		[]crawler.Record{{URL: okURL, Title: crawler.StringPtr("ok"), Hashtags: []string{}}}, path, false))

	factory := sessiontest.NewFactory(newSite())
	f := New(Config{}, factory, extract.New(extract.Config{}, nil), store, nil, nil, nil)
	stats, err := f.Finalize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Zero(t, factory.Calls())
}

func TestFinalizeLoadFailureIsFatal(t *testing.T) {
	t.Parallel()

	f := New(Config{}, sessiontest.NewFactory(nil), extract.New(extract.Config{}, nil), checkpoint.New(), nil, nil, nil)
	_, err := f.Finalize(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestApplyReplacesInPlaceAndAppendsUnknown(t *testing.T) {
	t.Parallel()

	doc := crawler.NewDocument([]crawler.Record{
		crawler.FailedRecord("a", errors.New("x")).Normalize(),
		{URL: "b", Hashtags: []string{}},
		crawler.FailedRecord("a", errors.New("dup")).Normalize(),
	}, time.Now())

	out := apply(doc, []crawler.Record{
		{URL: "a", Title: crawler.StringPtr("fixed"), Hashtags: []string{}},
		{URL: "c", Title: crawler.StringPtr("new"), Hashtags: []string{}},
	})
	require.Len(t, out.Videos, 4)
	assert.Equal(t, "fixed", *out.Videos[0].Title)
	assert.True(t, out.Videos[2].Failed(), "only the first occurrence is replaced")
	assert.Equal(t, "c", out.Videos[3].URL)
	assert.Equal(t, 4, out.TotalVideos)
	assert.Equal(t, 3, out.SuccessfulExtractions)
	assert.Len(t, doc.Videos, 3, "input document is not mutated")
}

func TestFailedItemsUsesFirstPosition(t *testing.T) {
	t.Parallel()

	doc := crawler.NewDocument([]crawler.Record{
		{URL: "ok", Hashtags: []string{}},
		crawler.FailedRecord("x", errors.New("e")),
		crawler.FailedRecord("x", errors.New("e")),
		crawler.FailedRecord("y", errors.New("e")),
	}, time.Now())
	assert.Equal(t, []crawler.Item{{Index: 1, URL: "x"}, {Index: 3, URL: "y"}}, failedItems(doc))
}

func TestFinalizeRewritesLegacyArrayDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "legacy.json")
	body := `[
  {"url": "` + okURL + `", "title": "ok", "like_count": 4, "hashtags": [], "error": null},
  {"url": "` + fixedURL + `", "error": "session not created"}
]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	store := checkpoint.New()
	f := New(Config{}, sessiontest.NewFactory(newSite()), extract.New(extract.Config{MaxRetries: 1}, nil), store, nil, nil, nil)
	stats, err := f.Finalize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Stats{Retried: 1, Successful: 1}, stats)

	doc, err := store.Load(path)
	require.NoError(t, err)
	require.Len(t, doc.Videos, 2)
	assert.Equal(t, 2, doc.SuccessfulExtractions)
	require.NotNil(t, doc.FinalizedAt)
	assert.Equal(t, time.UTC, doc.FinalizedAt.Location(), "the default clock stamps UTC")
}
