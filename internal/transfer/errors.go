package transfer

import (
	"errors"
	"fmt"
)

// ErrAborted is reported for work that was skipped because its job had already failed.
var ErrAborted = errors.New("transfer aborted")

// StreamOpenError represents a remote fetch that never produced a readable stream.
type StreamOpenError struct {
	Blob   string // Blob or file name being fetched
	Offset int64  // Start of the requested range
	Length int64  // Length of the requested range, -1 for the whole blob
	Err    error  // Underlying error, if any
}

func (e *StreamOpenError) Error() string {
	if e.Length < 0 {
		return fmt.Sprintf("failed to open stream for %s", e.Blob)
	}

	return fmt.Sprintf("failed to open stream for %s [%d, %d)", e.Blob, e.Offset, e.Offset+e.Length)
}

func (e *StreamOpenError) Unwrap() error {
	return e.Err
}

// ReadError represents an I/O failure while pulling bytes from an open stream.
type ReadError struct {
	Blob string // Blob or file name being read
	Part int    // Part index, -1 for whole-file copies
	Err  error  // Underlying error, if any
}

func (e *ReadError) Error() string {
	if e.Part < 0 {
		return fmt.Sprintf("read failed for %s: %v", e.Blob, e.Err)
	}

	return fmt.Sprintf("read failed for %s part %d: %v", e.Blob, e.Part, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError represents an I/O failure while writing to a local target.
type WriteError struct {
	Path   string // Local path being written
	Offset int64  // Offset of the failed write
	Err    error  // Underlying error, if any
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed for %s at offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// FetchError represents a failure of the listing or read-context step before any part work started.
type FetchError struct {
	Blob string // Blob whose parts could not be resolved
	Err  error  // Underlying error, if any
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch read context for %s: %v", e.Blob, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// BatchError is returned by a whole-file batch and names the file whose failure ended it.
type BatchError struct {
	File string // First file that failed
	Err  error  // Underlying error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("failed to download %s: %v", e.File, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
