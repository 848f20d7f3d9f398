package reassembly

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/segment_recovery/internal/logctx"
	"github.com/italolelis/segment_recovery/internal/telemetry"
	"github.com/italolelis/segment_recovery/internal/transfer"
)

// DefaultMaxConcurrentParts bounds part streams per job when no option overrides it.
const DefaultMaxConcurrentParts = 8

// Options configures a reassembly job.
type Options struct {
	// MaxConcurrentParts caps the part workers of one job, on top of the executor capacity.
	MaxConcurrentParts int

	// Telemetry is an optional metrics sink.
	Telemetry *telemetry.Telemetry
}

// Option mutates Options.
type Option func(*Options)

// WithMaxConcurrentParts sets Options.MaxConcurrentParts.
func WithMaxConcurrentParts(n int) Option {
	return func(o *Options) {
		o.MaxConcurrentParts = n
	}
}

// WithTelemetry sets Options.Telemetry.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *Options) {
		o.Telemetry = tel
	}
}

// Job reassembles one blob into targetPath and reports exactly one terminal outcome.
type Job struct {
	ctx        context.Context
	exec       transfer.Executor
	blobName   string
	targetPath string
	opts       Options
	logger     *slog.Logger

	onDone  func(blobName string, err error)
	deliver sync.Once
	started atomic.Bool
	done    chan struct{}
}

// NewJob creates a job. onDone is called once with blobName on success or with the
// first error on failure; in both cases after every dispatched part writer returned.
func NewJob(ctx context.Context, exec transfer.Executor, blobName, targetPath string, onDone func(string, error), opts ...Option) *Job {
	o := Options{MaxConcurrentParts: DefaultMaxConcurrentParts}
	for _, opt := range opts {
		opt(&o)
	}

	if o.MaxConcurrentParts < 1 {
		o.MaxConcurrentParts = 1
	}

	return &Job{
		ctx:        ctx,
		exec:       exec,
		blobName:   blobName,
		targetPath: targetPath,
		opts:       o,
		logger:     logctx.LoggerFromContext(ctx).With("blob", blobName, "target", targetPath),
		onDone:     onDone,
		done:       make(chan struct{}),
	}
}

// Reassemble waits for the blob's read context and reassembles it into targetPath.
// It returns immediately; the outcome is delivered to onDone.
func Reassemble(
	ctx context.Context,
	exec transfer.Executor,
	blobName, targetPath string,
	blob *transfer.Future[*Blob],
	onDone func(string, error),
	opts ...Option,
) *Job {
	job := NewJob(ctx, exec, blobName, targetPath, onDone, opts...)

	go func() {
		b, err := blob.Await(ctx)
		if err != nil {
			job.OnFailure(err)

			return
		}

		job.OnResponse(b)
	}()

	return job
}

// Done is closed after the terminal outcome was delivered.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// OnFailure terminates the job because its read context could not be fetched.
// The target file is never created.
func (j *Job) OnFailure(err error) {
	var fetchErr *transfer.FetchError
	if !errors.As(err, &fetchErr) {
		err = &transfer.FetchError{Blob: j.blobName, Err: err}
	}

	j.finish(err)
}

// OnResponse starts writing the parts of b. It returns without waiting for them.
func (j *Job) OnResponse(b *Blob) {
	if b == nil {
		j.OnFailure(errors.New("nil read context"))

		return
	}

	if !j.started.CompareAndSwap(false, true) {
		return
	}

	go j.run(b)
}

func (j *Job) run(b *Blob) {
	if err := removeIfExists(j.targetPath); err != nil {
		j.finish(&transfer.WriteError{Path: j.targetPath, Err: err})

		return
	}

	if len(b.Parts) == 0 {
		j.finish(j.createEmpty(b.Size))

		return
	}

	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()

	var (
		failed  atomic.Bool
		outcome error
	)

	queue := transfer.NewQueue(b.Parts)
	tracker := transfer.NewTracker(len(b.Parts), func(err error) { outcome = err }, queue.Clear, cancel)
	workers := transfer.Budget(len(b.Parts), j.exec.Max(), j.opts.MaxConcurrentParts)

	j.logger.Debug("reassembling blob",
		"parts", len(b.Parts),
		"size", humanize.Bytes(uint64(max(b.Size, 0))),
		"workers", workers)

	transfer.FanOut(j.exec, queue, workers, func(p Part) {
		j.writePart(ctx, p, &failed, tracker)
	}).Wait()

	for _, p := range queue.Drain() {
		closeWhenReady(p.Stream)
	}

	if !tracker.Terminated() {
		outcome = transfer.ErrAborted
	}

	if outcome == nil {
		outcome = j.verifySize(b.Size)
	}

	j.finish(outcome)
}

func (j *Job) writePart(ctx context.Context, p Part, failed *atomic.Bool, tracker *transfer.Tracker) {
	if failed.Load() {
		closeWhenReady(p.Stream)

		return
	}

	onPartDone := func(index int, err error) {
		if err != nil {
			j.logger.Error("part failed", "part", index, "err", err)
			tracker.RecordFailure(err)

			return
		}

		tracker.RecordSuccess()
	}

	if p.Stream == nil {
		j.newWriter(p.Index, StreamContainer{}, failed, onPartDone).
			Fail(&transfer.StreamOpenError{Blob: j.blobName, Length: -1, Err: fmt.Errorf("part %d has no stream", p.Index)})

		return
	}

	sc, err := p.Stream.Await(ctx)
	if err != nil {
		closeWhenReady(p.Stream)

		if failed.Load() {
			return
		}

		var openErr *transfer.StreamOpenError
		if !errors.As(err, &openErr) {
			err = &transfer.StreamOpenError{Blob: j.blobName, Length: -1, Err: err}
		}

		j.newWriter(p.Index, StreamContainer{}, failed, onPartDone).Fail(err)

		return
	}

	w := j.newWriter(p.Index, sc, failed, onPartDone)
	w.Write()

	status := "success"
	if !w.Succeeded() {
		status = "error"
	}

	j.opts.Telemetry.RecordPartWrite(status, w.Written())
}

func (j *Job) newWriter(index int, sc StreamContainer, failed *atomic.Bool, onDone func(int, error)) *PartWriter {
	w := NewPartWriter(logctx.WithLogger(j.ctx, j.logger), index, sc, j.targetPath, failed, onDone)

	return w
}

func (j *Job) verifySize(size int64) error {
	if size < 0 {
		return nil
	}

	info, err := os.Stat(j.targetPath)
	if err != nil {
		return &transfer.WriteError{Path: j.targetPath, Err: err}
	}

	if info.Size() == size {
		return nil
	}

	_ = os.Remove(j.targetPath)

	return fmt.Errorf("reassembled %s has %d bytes, expected %d", j.blobName, info.Size(), size)
}

func (j *Job) createEmpty(size int64) error {
	if size > 0 {
		return fmt.Errorf("blob %s declares %d bytes but has no parts", j.blobName, size)
	}

	f, err := os.OpenFile(j.targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return &transfer.WriteError{Path: j.targetPath, Err: err}
	}

	if err := f.Close(); err != nil {
		return &transfer.WriteError{Path: j.targetPath, Err: err}
	}

	return nil
}

func (j *Job) finish(err error) {
	j.deliver.Do(func() {
		defer close(j.done)

		if err != nil {
			j.logger.Error("reassembly failed", "err", err)
			j.opts.Telemetry.RecordReassembly("error")
			j.onDone("", err)

			return
		}

		j.logger.Info("reassembly finished")
		j.opts.Telemetry.RecordReassembly("success")
		j.onDone(j.blobName, nil)
	})
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}
