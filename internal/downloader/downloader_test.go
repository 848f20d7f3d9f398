package downloader_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/segment_recovery/internal/blobstore"
	"github.com/italolelis/segment_recovery/internal/downloader"
	"github.com/italolelis/segment_recovery/internal/transfer"
	"github.com/italolelis/segment_recovery/internal/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

func newPool(t *testing.T, name string, size int) *workerpool.Pool {
	t.Helper()

	p := workerpool.New(context.Background(), name, size)
	t.Cleanup(p.Close)

	return p
}

func newBucket(t *testing.T) *blobstore.Bucket {
	t.Helper()

	b := blobstore.NewBucket(memblob.OpenBucket(nil))
	t.Cleanup(func() { _ = b.Close() })

	return b
}

func newLocal(t *testing.T) *blobstore.Local {
	t.Helper()

	l, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	return l
}

func seed(t *testing.T, dir blobstore.Directory, files map[string][]byte) {
	t.Helper()

	for name, data := range files {
		_, err := blobstore.CopyFrom(context.Background(), dir, name, bytes.NewReader(data))
		require.NoError(t, err)
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

func readLocal(t *testing.T, l *blobstore.Local, name string) []byte {
	t.Helper()

	p, err := l.Path(name)
	require.NoError(t, err)

	data, err := os.ReadFile(p)
	require.NoError(t, err)

	return data
}

// recordingDir records which files were touched and how many were touched at once.
type recordingDir struct {
	blobstore.Directory

	mu      sync.Mutex
	touched []string
	active  atomic.Int32
	peak    atomic.Int32
	hold    time.Duration
	failOn  map[string]error
}

func (r *recordingDir) Size(ctx context.Context, name string) (int64, error) {
	r.mu.Lock()
	r.touched = append(r.touched, name)
	r.mu.Unlock()

	if err, ok := r.failOn[name]; ok {
		return 0, err
	}

	return r.Directory.Size(ctx, name)
}

func (r *recordingDir) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)

	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(r.hold)

	return r.Directory.Open(ctx, name)
}

func (r *recordingDir) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.touched...)
}

func TestDownload_CopiesMirrorsAndReports(t *testing.T) {
	ctx := context.Background()
	source := newBucket(t)
	mirror := newBucket(t)
	target := newLocal(t)

	files := map[string][]byte{
		"_0.cfs":     randomBytes(t, 2048),
		"_0.si":      randomBytes(t, 10),
		"seg/_1.cfe": randomBytes(t, 512),
		"empty.liv":  {},
	}
	seed(t, source, files)

	var (
		mu        sync.Mutex
		completed []string
	)

	d := downloader.New(newPool(t, "files", 4), 2)

	err := d.Download(ctx, source, target, []string{"_0.cfs", "_0.si", "seg/_1.cfe", "empty.liv"},
		downloader.WithMirror(mirror),
		downloader.WithFileCompletion(func(name string) {
			mu.Lock()
			completed = append(completed, name)
			mu.Unlock()
		}))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"_0.cfs", "_0.si", "seg/_1.cfe", "empty.liv"}, completed)

	for name, data := range files {
		assert.Equal(t, data, readLocal(t, target, name), name)

		size, err := mirror.Size(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), size, name)
	}
}

func TestDownload_FailureStopsUnscheduledFiles(t *testing.T) {
	ctx := context.Background()
	source := newBucket(t)
	target := newLocal(t)
	seed(t, source, map[string][]byte{"a": []byte("a"), "c": []byte("c")})

	rec := &recordingDir{Directory: source}

	var completed atomic.Int32

	// One stream: files run strictly one after another.
	d := downloader.New(newPool(t, "files", 4), 1)

	err := d.Download(ctx, rec, target, []string{"a", "missing", "c"},
		downloader.WithFileCompletion(func(string) { completed.Add(1) }))
	require.Error(t, err)

	var batchErr *transfer.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, "missing", batchErr.File)
	require.ErrorIs(t, err, fs.ErrNotExist)

	var openErr *transfer.StreamOpenError
	require.ErrorAs(t, err, &openErr)

	assert.Equal(t, []string{"a", "missing"}, rec.names())
	assert.Equal(t, int32(1), completed.Load())
}

func TestDownload_ConcurrencyBound(t *testing.T) {
	tests := []struct {
		name     string
		files    int
		capacity int
		limit    int
	}{
		{"stream limit binds", 12, 8, 3},
		{"pool capacity binds", 12, 2, 10},
		{"file count binds", 2, 8, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newBucket(t)

			names := make([]string, tt.files)
			files := make(map[string][]byte, tt.files)

			for i := range names {
				names[i] = string(rune('a' + i))
				files[names[i]] = []byte(names[i])
			}

			seed(t, source, files)

			rec := &recordingDir{Directory: source, hold: 20 * time.Millisecond}
			d := downloader.New(newPool(t, "files", tt.capacity), tt.limit)

			require.NoError(t, d.Download(context.Background(), rec, newLocal(t), names))

			bound := transfer.Budget(tt.files, tt.capacity, tt.limit)
			assert.LessOrEqual(t, int(rec.peak.Load()), bound)
			assert.Positive(t, rec.peak.Load())
		})
	}
}

func TestDownload_CleanupOnFailure(t *testing.T) {
	ctx := context.Background()
	source := newBucket(t)
	target := newLocal(t)
	seed(t, source, map[string][]byte{"a": []byte("aaa"), "b": []byte("bbb")})

	cause := errors.New("throttled")
	rec := &recordingDir{Directory: source, failOn: map[string]error{"bad": cause}}

	d := downloader.New(newPool(t, "files", 1), 1)

	err := d.Download(ctx, rec, target, []string{"a", "b", "bad"}, downloader.WithCleanupOnFailure())
	require.ErrorIs(t, err, cause)

	for _, name := range []string{"a", "b", "bad"} {
		p, err := target.Path(name)
		require.NoError(t, err)
		assert.NoFileExists(t, p)
	}
}

func TestDownload_KeepsFilesWithoutCleanup(t *testing.T) {
	ctx := context.Background()
	source := newBucket(t)
	target := newLocal(t)
	seed(t, source, map[string][]byte{"a": []byte("aaa")})

	rec := &recordingDir{Directory: source, failOn: map[string]error{"bad": errors.New("throttled")}}

	d := downloader.New(newPool(t, "files", 1), 1)

	require.Error(t, d.Download(ctx, rec, target, []string{"a", "bad"}))
	assert.Equal(t, []byte("aaa"), readLocal(t, target, "a"))
}

func TestDownload_Multipart(t *testing.T) {
	ctx := context.Background()
	source := newBucket(t)
	target := newLocal(t)
	mirror := newBucket(t)

	big := randomBytes(t, 100*1024+3)
	small := randomBytes(t, 100)
	seed(t, source, map[string][]byte{"big.fdt": big, "small.fdx": small})

	d := downloader.New(newPool(t, "files", 2), 2,
		downloader.WithMultipart(newPool(t, "parts", 4), 1024, 8*1024, 4))

	require.NoError(t, d.Download(ctx, source, target, []string{"big.fdt", "small.fdx"}, downloader.WithMirror(mirror)))

	assert.Equal(t, big, readLocal(t, target, "big.fdt"))
	assert.Equal(t, small, readLocal(t, target, "small.fdx"))

	size, err := mirror.Size(ctx, "big.fdt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(big)), size)
}

func TestDownload_EmptyBatch(t *testing.T) {
	d := downloader.New(newPool(t, "files", 1), 1)

	require.NoError(t, d.Download(context.Background(), newBucket(t), newLocal(t), nil))
}

func TestDownload_InvalidStreamLimit(t *testing.T) {
	d := downloader.New(newPool(t, "files", 1), 0)

	err := d.Download(context.Background(), newBucket(t), newLocal(t), []string{"a"})
	require.ErrorIs(t, err, downloader.ErrInvalidStreamLimit)
}
