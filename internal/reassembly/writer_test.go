package reassembly_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/italolelis/segment_recovery/internal/logctx"
	"github.com/italolelis/segment_recovery/internal/reassembly"
	"github.com/italolelis/segment_recovery/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartWriter_Write(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		offset   int64
		wantSize int64
	}{
		{"at start", 100, 0, 100},
		{"with offset", 100, 10, 110},
		{"large input", 8 * 1024 * 1024, 0, 8 * 1024 * 1024},
		{"empty part", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), uuid.NewString())
			data := randomBytes(t, tt.length)
			body := newBody(data)

			var failed atomic.Bool
			rec := &completionRecorder{}

			w := reassembly.NewPartWriter(context.Background(), 1, reassembly.StreamContainer{Body: body, Length: int64(tt.length), Offset: tt.offset}, path, &failed, rec.onDone)
			w.Write()

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, info.Size())

			written, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, data, written[tt.offset:])

			responses, failures := rec.counts()
			assert.Equal(t, 1, responses)
			assert.Equal(t, 0, failures)
			assert.Equal(t, 1, rec.lastIndex)
			assert.Equal(t, int64(tt.length), w.Written())
			assert.True(t, w.Succeeded())
			assert.True(t, body.isClosed())
		})
	}
}

func TestPartWriter_FailIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), uuid.NewString())
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))

	var failed atomic.Bool
	rec := &completionRecorder{}
	cause := errors.New("io failure")

	w := reassembly.NewPartWriter(context.Background(), 1, reassembly.StreamContainer{Body: newBody(nil), Length: 100}, path, &failed, rec.onDone)
	assert.False(t, failed.Load())

	w.Fail(cause)

	assert.True(t, failed.Load())
	assert.NoFileExists(t, path)

	// A duplicate upstream error for the same part.
	w.Fail(cause)

	assert.True(t, failed.Load())
	assert.NoFileExists(t, path)

	responses, failures := rec.counts()
	assert.Equal(t, 0, responses)
	assert.Equal(t, 1, failures)
	assert.Equal(t, cause, rec.lastErr)
}

func TestPartWriter_PreFailedIsSilent(t *testing.T) {
	path := filepath.Join(t.TempDir(), uuid.NewString())
	body := newBody(randomBytes(t, 100))

	var failed atomic.Bool
	failed.Store(true)

	rec := &completionRecorder{}

	w := reassembly.NewPartWriter(context.Background(), 1, reassembly.StreamContainer{Body: body, Length: 100}, path, &failed, rec.onDone)
	w.Write()

	assert.NoFileExists(t, path)
	assert.Equal(t, int64(0), w.Written())

	responses, failures := rec.counts()
	assert.Equal(t, 0, responses)
	assert.Equal(t, 0, failures)
	assert.True(t, body.isClosed())
}

func TestPartWriter_ReadFailureDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), uuid.NewString())

	var failed atomic.Bool
	rec := &completionRecorder{}

	w := reassembly.NewPartWriter(context.Background(), 2, reassembly.StreamContainer{Body: failingBody{}, Length: 10, Offset: 20}, path, &failed, rec.onDone)
	w.Write()

	assert.NoFileExists(t, path)
	assert.True(t, failed.Load())
	assert.False(t, w.Succeeded())

	_, failures := rec.counts()
	assert.Equal(t, 1, failures)

	var readErr *transfer.ReadError
	require.ErrorAs(t, rec.lastErr, &readErr)
	assert.Equal(t, 2, readErr.Part)
	assert.ErrorIs(t, rec.lastErr, errBadStream)
}

func TestPartWriter_ShortStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), uuid.NewString())

	var failed atomic.Bool
	rec := &completionRecorder{}

	w := reassembly.NewPartWriter(context.Background(), 0, reassembly.StreamContainer{Body: newBody(randomBytes(t, 5)), Length: 10}, path, &failed, rec.onDone)
	w.Write()

	assert.NoFileExists(t, path)

	var readErr *transfer.ReadError
	require.ErrorAs(t, rec.lastErr, &readErr)
}

func TestPartWriter_WriteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", uuid.NewString())

	var failed atomic.Bool
	rec := &completionRecorder{}

	w := reassembly.NewPartWriter(context.Background(), 0, reassembly.StreamContainer{Body: newBody(randomBytes(t, 5)), Length: 5}, path, &failed, rec.onDone)
	w.Write()

	var writeErr *transfer.WriteError
	require.ErrorAs(t, rec.lastErr, &writeErr)
	assert.Equal(t, path, writeErr.Path)
}

func TestPartWriter_ConcurrentFailuresReportOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), uuid.NewString())

	var failed atomic.Bool
	rec := &completionRecorder{}

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			reassembly.NewPartWriter(context.Background(), i, reassembly.StreamContainer{Body: failingBody{}, Length: 10, Offset: int64(i * 10)}, path, &failed, rec.onDone).Write()
		}(i)
	}

	wg.Wait()

	assert.NoFileExists(t, path)

	responses, failures := rec.counts()
	assert.Equal(t, 0, responses)
	assert.Equal(t, 1, failures)
}

func TestPartWriter_LogsWithContextLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil)).With("batch_id", "b1")
	ctx := logctx.WithLogger(context.Background(), logger)

	path := filepath.Join(t.TempDir(), "_0.cfs")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	var failed atomic.Bool

	rec := &completionRecorder{}

	reassembly.NewPartWriter(ctx, 3, reassembly.StreamContainer{Body: failingBody{}, Length: 10}, path, &failed, rec.onDone).Write()

	var line map[string]any
	require.NoError(t, json.NewDecoder(&buf).Decode(&line))
	assert.Equal(t, "b1", line["batch_id"])
	assert.EqualValues(t, 3, line["part"])
}
