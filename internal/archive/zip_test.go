package archive

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestWriteRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	payload := bytes.Repeat([]byte("listing-photo"), 512)
	entries := []Entry{
		{Name: "image_1.png", Source: writeSource(t, dir, "a", payload)},
		{Name: "image_3.png", Source: writeSource(t, dir, "b", []byte("second"))},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, entries, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "image_1.png", zr.File[0].Name)
	assert.Equal(t, "image_3.png", zr.File[1].Name)
	assert.Equal(t, zip.Deflate, zr.File[0].Method)
	assert.Less(t, zr.File[0].CompressedSize64, zr.File[0].UncompressedSize64)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteMissingSource(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := Write(&buf, []Entry{{Name: "image_1.png", Source: filepath.Join(t.TempDir(), "missing")}}, time.Now())
	require.Error(t, err)
}

func TestWriteFileAndList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	entries := []Entry{
		{Name: "image_2.png", Source: writeSource(t, dir, "b", []byte("b"))},
		{Name: "image_1.png", Source: writeSource(t, dir, "a", []byte("a"))},
	}
	out := filepath.Join(dir, "images.zip")
	require.NoError(t, WriteFile(out, entries, time.Now()))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	names, err := List(f, info.Size())
	require.NoError(t, err)
	assert.Equal(t, []string{"image_1.png", "image_2.png"}, names)

	leftovers, err := filepath.Glob(filepath.Join(dir, ".archive-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriteFileFailureLeavesNoArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "images.zip")
	err := WriteFile(out, []Entry{{Name: "x", Source: filepath.Join(dir, "missing")}}, time.Now())
	require.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}
