// Package local_test tests the local filesystem archive store.
package local_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-image-archiver/internal/listing"
	"github.com/JakeFAU/listing-image-archiver/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "archives")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	uri, err := store.PutObject(ctx, "sess-1/images.zip", "application/zip", bytes.NewReader([]byte("zipdata")))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(base, "sess-1", "images.zip"), uri)

	rc, err := store.GetObject(ctx, "sess-1/images.zip")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, []byte("zipdata"), got)

	require.NoError(t, store.DeletePrefix(ctx, "sess-1"))
	_, err = store.GetObject(ctx, "sess-1/images.zip")
	require.ErrorIs(t, err, listing.ErrObjectNotFound)

	require.NoError(t, store.DeletePrefix(ctx, "sess-1"))
}

func TestPathTraversalRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(ctx, "../escape.zip", "", bytes.NewReader(nil))
	require.ErrorContains(t, err, "path traversal")
	_, err = store.GetObject(ctx, "../../etc/passwd")
	require.ErrorContains(t, err, "path traversal")
	require.ErrorContains(t, store.DeletePrefix(ctx, ".."), "path traversal")
	require.Error(t, store.DeletePrefix(ctx, " "))
}
