package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/video-metadata-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "archive", "results")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: "  "})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "results/run_metadata.json", "application/json", bytes.NewReader([]byte(`{"a":1}`)))
	require.NoError(t, err)
	want := filepath.Join(dir, "results", "run_metadata.json")
	assert.Equal(t, "file://"+want, uri)

	// #nosec G304 -- test reads from its own temp directory.
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))

	_, err = store.PutObject(ctx, "results/run_metadata.json", "application/json", bytes.NewReader([]byte(`{"a":2}`)))
	require.NoError(t, err)
	// #nosec G304 -- test reads from its own temp directory.
	got, err = os.ReadFile(want)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "results"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
	_, err = store.PutObject(context.Background(), "../escape.json", "", bytes.NewReader(nil))
	require.ErrorIs(t, err, local.ErrOutsideBase)
}
