package reassembly_test

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/italolelis/segment_recovery/internal/reassembly"
	"github.com/italolelis/segment_recovery/internal/transfer"
	"github.com/stretchr/testify/require"
)

var errBadStream = errors.New("bad stream")

// randomBytes returns n random bytes.
func randomBytes(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

// trackedBody is an io.ReadCloser that remembers whether it was closed.
type trackedBody struct {
	io.Reader

	mu     sync.Mutex
	closed bool
}

func newBody(data []byte) *trackedBody {
	return &trackedBody{Reader: bytes.NewReader(data)}
}

func (b *trackedBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	return nil
}

func (b *trackedBody) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}

// failingBody fails every read.
type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errBadStream }
func (failingBody) Close() error             { return nil }

// completionRecorder counts part writer callbacks.
type completionRecorder struct {
	mu        sync.Mutex
	responses int
	failures  int
	lastIndex int
	lastErr   error
}

func (r *completionRecorder) onDone(index int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.failures++
		r.lastErr = err

		return
	}

	r.responses++
	r.lastIndex = index
}

func (r *completionRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.responses, r.failures
}

// partsOf splits data into parts of partSize whose streams resolve asynchronously.
func partsOf(data []byte, partSize int) []reassembly.Part {
	var parts []reassembly.Part

	for i, offset := 0, 0; offset < len(data); i, offset = i+1, offset+partSize {
		end := min(offset+partSize, len(data))
		chunk := data[offset:end]
		off := int64(offset)

		parts = append(parts, reassembly.Part{
			Index: i,
			Stream: transfer.Go(func() (reassembly.StreamContainer, error) {
				return reassembly.StreamContainer{Body: newBody(chunk), Length: int64(len(chunk)), Offset: off}, nil
			}),
		})
	}

	return parts
}

// jobResult captures the terminal callback of a reassembly job.
type jobResult struct {
	mu    sync.Mutex
	calls int
	name  string
	err   error
	done  chan struct{}
}

func newJobResult() *jobResult {
	return &jobResult{done: make(chan struct{}, 16)}
}

func (r *jobResult) onDone(name string, err error) {
	r.mu.Lock()
	r.calls++
	r.name = name
	r.err = err
	r.mu.Unlock()

	r.done <- struct{}{}
}

func (r *jobResult) snapshot() (int, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls, r.name, r.err
}
