package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/video-metadata-crawler/internal/storage/gcs"
)

func openTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := gcs.Open(context.Background(), gcs.Config{Bucket: "results-bucket", Endpoint: server.URL})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var gotBody string
	store := openTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/results-bucket/o")
		assert.Equal(t, "results/run.json", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		gotBody = string(body)
		fmt.Fprintln(w, `{"name":"results/run.json","bucket":"results-bucket"}`)
	}))

	uri, err := store.PutObject(context.Background(), "/results/run.json", "application/json",
		bytes.NewReader([]byte(`{"total_videos":3}`)))
	require.NoError(t, err)
	assert.Equal(t, "gs://results-bucket/results/run.json", uri)
	assert.Contains(t, gotBody, `{"total_videos":3}`)
	assert.Contains(t, gotBody, "application/json")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := store.PutObject(context.Background(), "results/run.json", "application/json",
		bytes.NewReader([]byte("{}")))
	require.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	_, err = gcs.Open(context.Background(), gcs.Config{Endpoint: "http://127.0.0.1:1"})
	require.Error(t, err, "bucket is required")
}
