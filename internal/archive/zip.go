// Package archive assembles session archives.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Extension is appended to display filenames.
const Extension = ".zip"

// ContentType is served with downloads.
const ContentType = "application/zip"

// Entry is one file placed in the archive.
type Entry struct {
	// Name is the path inside the archive.
	Name string
	// Source is the file on disk holding the entry's bytes.
	Source string
}

// Write streams entries into a zip at maximum deflate compression. Entries are
// written in the order given.
func Write(w io.Writer, entries []Entry, modified time.Time) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	for _, entry := range entries {
		if err := addFile(zw, entry, modified); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// WriteFile writes the archive to path, replacing any existing file only once
// the archive is complete.
func WriteFile(path string, entries []Entry, modified time.Time) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = Write(tmp, entries, modified); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp archive: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename archive: %w", err)
	}
	return nil
}

// List returns the entry names of a zip, sorted.
func List(r io.ReaderAt, size int64) ([]string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names, nil
}

func addFile(zw *zip.Writer, entry Entry, modified time.Time) error {
	src, err := os.Open(entry.Source)
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.Source, err)
	}
	defer src.Close()

	header := &zip.FileHeader{
		Name:     entry.Name,
		Method:   zip.Deflate,
		Modified: modified,
	}
	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", entry.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write entry %s: %w", entry.Name, err)
	}
	return nil
}
