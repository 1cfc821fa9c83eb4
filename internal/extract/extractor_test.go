package extract_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/extract"
	"github.com/JakeFAU/video-metadata-crawler/internal/session"
	"github.com/JakeFAU/video-metadata-crawler/internal/session/sessiontest"
)

const (
	goodURL  = "https://www.tiktok.com/@alice/video/1"
	goodEval = `{"universal_data":{"item":{"desc":"hello #World","stats":{"diggCount":10,"playCount":100}}},"page_text":""}`
)

func newExtractor() *extract.Extractor {
	return extract.New(extract.Config{MaxRetries: 2}, zap.NewNop())
}

func TestExtractSuccess(t *testing.T) {
	t.Parallel()

	site := sessiontest.NewSite(map[string]sessiontest.Page{goodURL: {Eval: goodEval}})
	factory := sessiontest.NewFactory(site)
	lease := session.NewLease(factory, zap.NewNop())
	defer lease.Release()

	rec := newExtractor().Extract(context.Background(), goodURL, lease)
	require.False(t, rec.Failed())
	assert.Equal(t, "alice", *rec.Username)
	assert.EqualValues(t, 10, *rec.LikeCount)
	assert.EqualValues(t, 100, *rec.ViewCount)
	assert.Equal(t, []string{"world"}, rec.Hashtags)
	assert.Equal(t, 1, site.Visits(goodURL))
}

func TestExtractReplacesDeadSessionAndRetries(t *testing.T) {
	t.Parallel()

	site := sessiontest.NewSite(map[string]sessiontest.Page{
		goodURL: {Eval: goodEval, FailFirst: 1, KillOnFail: true},
	})
	factory := sessiontest.NewFactory(site)
	lease := session.NewLease(factory, zap.NewNop())
	defer lease.Release()

	rec := newExtractor().Extract(context.Background(), goodURL, lease)
	require.False(t, rec.Failed(), "retry on a replacement session should succeed")

	created := factory.Created()
	require.Len(t, created, 2)
	assert.True(t, created[0].Closed())
	assert.Equal(t, created[1].ID(), lease.Current().ID())
	assert.Equal(t, 2, site.Visits(goodURL))
}

func TestExtractScriptErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	site := sessiontest.NewSite(map[string]sessiontest.Page{
		goodURL: {EvalErr: fmt.Errorf("%w: SyntaxError", session.ErrScript)},
	})
	lease := session.NewLease(sessiontest.NewFactory(site), zap.NewNop())
	defer lease.Release()

	rec := newExtractor().Extract(context.Background(), goodURL, lease)
	require.True(t, rec.Failed())
	assert.Contains(t, *rec.Error, "SyntaxError")
	assert.Equal(t, 1, site.Visits(goodURL))
}

func TestExtractExhaustedRetriesKeepLastCause(t *testing.T) {
	t.Parallel()

	site := sessiontest.NewSite(map[string]sessiontest.Page{
		goodURL: {Eval: goodEval, FailFirst: 5, FailErr: errors.New("navigate: websocket closed unexpectedly")},
	})
	lease := session.NewLease(sessiontest.NewFactory(site), zap.NewNop())
	defer lease.Release()

	rec := newExtractor().Extract(context.Background(), goodURL, lease)
	require.True(t, rec.Failed())
	assert.Equal(t, "navigate: websocket closed unexpectedly", *rec.Error)
	assert.Nil(t, rec.LikeCount)
	assert.Nil(t, rec.Username)
	assert.Empty(t, rec.Hashtags)
	assert.Equal(t, 2, site.Visits(goodURL))
}

func TestExtractSessionUnavailable(t *testing.T) {
	t.Parallel()

	factory := sessiontest.NewFactory(sessiontest.NewSite(nil))
	factory.Errs = []error{
		&session.CreationError{Attempts: 3, Err: session.ErrRuntimeMissing},
	}
	lease := session.NewLease(factory, zap.NewNop())

	rec := newExtractor().Extract(context.Background(), goodURL, lease)
	require.True(t, rec.Failed())
	assert.Contains(t, *rec.Error, "browser runtime not available")
	assert.Equal(t, 1, factory.Calls(), "non-recoverable creation failure is not retried")
}

func TestExtractCanceledContext(t *testing.T) {
	t.Parallel()

	site := sessiontest.NewSite(map[string]sessiontest.Page{goodURL: {Eval: goodEval}})
	lease := session.NewLease(sessiontest.NewFactory(site), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := newExtractor().Extract(ctx, goodURL, lease)
	require.True(t, rec.Failed())
	assert.Equal(t, context.Canceled.Error(), *rec.Error)
	assert.Zero(t, site.Visits(goodURL))
}
