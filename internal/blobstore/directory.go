// Package blobstore exposes local directories and remote buckets behind one Directory
// abstraction so files can be copied between them by name.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidName is returned for names that are empty or escape the directory root.
var ErrInvalidName = errors.New("invalid file name")

// Directory is a flat namespace of files addressed by slash separated names.
type Directory interface {
	// Kind is a short bounded label such as "bucket" or "local".
	Kind() string
	// Open returns a reader over the whole file.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create returns a writer that replaces the file. The content is committed on Close.
	// Cancelling ctx before Close discards the write where the backend supports it.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	// Size returns the size of the file in bytes.
	Size(ctx context.Context, name string) (int64, error)
	// Delete removes the file.
	Delete(ctx context.Context, name string) error
	// List returns the names of all files below prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// RangeReader is implemented by directories that can read a byte range of a file.
type RangeReader interface {
	OpenRange(ctx context.Context, name string, offset, length int64) (io.ReadCloser, error)
}

// RangedDirectory is a Directory that supports ranged reads.
type RangedDirectory interface {
	Directory
	RangeReader
}

// Copy copies name from src to dst and returns the number of bytes copied.
func Copy(ctx context.Context, dst, src Directory, name string) (int64, error) {
	r, err := src.Open(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("open %s in %s: %w", name, src.Kind(), err)
	}
	defer r.Close()

	return CopyFrom(ctx, dst, name, r)
}

// CopyFrom writes everything read from r to name in dst. A failed copy is discarded
// on backends that commit on Close.
func CopyFrom(ctx context.Context, dst Directory, name string, r io.Reader) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := dst.Create(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("create %s in %s: %w", name, dst.Kind(), err)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()

		return n, fmt.Errorf("copy %s to %s: %w", name, dst.Kind(), err)
	}

	if err := w.Close(); err != nil {
		return n, fmt.Errorf("commit %s to %s: %w", name, dst.Kind(), err)
	}

	return n, nil
}
