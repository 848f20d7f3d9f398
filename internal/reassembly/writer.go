package reassembly

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/italolelis/segment_recovery/internal/logctx"
	"github.com/italolelis/segment_recovery/internal/transfer"
)

const (
	filePerm   = 0o644
	bufferSize = 64 * 1024
)

// PartWriter writes one part into the target file at the part's offset.
//
// All writers of a job share the failed flag. Once it is set no writer touches the
// file again, and only the writer that set it deletes the file and reports the failure.
type PartWriter struct {
	index  int
	stream StreamContainer
	path   string
	failed *atomic.Bool
	onDone func(index int, err error)
	logger *slog.Logger

	written   int64
	succeeded bool
}

// NewPartWriter creates a writer for part index. onDone receives the part index and nil
// on success, or the job's first error; it is never called for a job that already failed.
// The writer logs through the logger carried by ctx.
func NewPartWriter(ctx context.Context, index int, stream StreamContainer, path string, failed *atomic.Bool, onDone func(index int, err error)) *PartWriter {
	return &PartWriter{
		index:  index,
		stream: stream,
		path:   path,
		failed: failed,
		onDone: onDone,
		logger: logctx.LoggerFromContext(ctx),
	}
}

// Written returns the number of bytes this writer copied into the file.
func (w *PartWriter) Written() int64 {
	return w.written
}

// Succeeded reports whether Write completed and reported success.
func (w *PartWriter) Succeeded() bool {
	return w.succeeded
}

// Write copies the part into the file and reports the outcome. It is a silent no-op
// when the job has already failed.
func (w *PartWriter) Write() {
	if w.stream.Body != nil {
		defer w.stream.Body.Close()
	}

	if w.failed.Load() {
		return
	}

	aborted, err := w.copy()
	if aborted {
		return
	}

	if err != nil {
		w.Fail(err)

		return
	}

	w.succeeded = true
	w.onDone(w.index, nil)
}

// Fail runs the failure path. Only the first call across all writers of the job has effect.
func (w *PartWriter) Fail(err error) {
	if !w.failed.CompareAndSwap(false, true) {
		return
	}

	w.logger.Warn("part failed, discarding target file", "path", w.path, "part", w.index, "err", err)

	if rmErr := os.Remove(w.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		w.logger.Warn("failed to delete target file", "path", w.path, "err", rmErr)
	}

	w.onDone(w.index, err)
}

// copy streams the declared bytes into the file. aborted is true when another writer
// failed the job meanwhile, in which case nothing must be reported.
func (w *PartWriter) copy() (aborted bool, err error) {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE, filePerm)
	if err != nil {
		return false, &transfer.WriteError{Path: w.path, Offset: w.stream.Offset, Err: err}
	}

	// The file may have been deleted by a failing writer between our flag check and
	// the open above, in which case we just recreated it.
	if w.failed.Load() {
		_ = f.Close()
		_ = os.Remove(w.path)

		return true, nil
	}

	aborted, err = w.copyTo(f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = &transfer.WriteError{Path: w.path, Offset: w.stream.Offset, Err: closeErr}
	}

	return aborted, err
}

func (w *PartWriter) copyTo(f *os.File) (bool, error) {
	if w.stream.Body == nil {
		return false, &transfer.ReadError{Blob: w.path, Part: w.index, Err: errors.New("no stream")}
	}

	buf := make([]byte, min(bufferSize, max(w.stream.Length, 1)))

	for w.written < w.stream.Length {
		if w.failed.Load() {
			return true, nil
		}

		n, rerr := w.stream.Body.Read(buf[:min(int64(len(buf)), w.stream.Length-w.written)])
		if n > 0 {
			if _, werr := f.WriteAt(buf[:n], w.stream.Offset+w.written); werr != nil {
				return false, &transfer.WriteError{Path: w.path, Offset: w.stream.Offset + w.written, Err: werr}
			}

			w.written += int64(n)
		}

		if rerr == nil {
			continue
		}

		if errors.Is(rerr, io.EOF) {
			if w.written < w.stream.Length {
				return false, &transfer.ReadError{Blob: w.path, Part: w.index, Err: io.ErrUnexpectedEOF}
			}

			break
		}

		return false, &transfer.ReadError{Blob: w.path, Part: w.index, Err: rerr}
	}

	return false, nil
}
