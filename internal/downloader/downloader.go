// Package downloader copies batches of whole files from a remote store into a local
// directory, optionally mirroring each file to a second store.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/segment_recovery/internal/blobstore"
	"github.com/italolelis/segment_recovery/internal/cleanup"
	"github.com/italolelis/segment_recovery/internal/downloader/progress"
	"github.com/italolelis/segment_recovery/internal/logctx"
	"github.com/italolelis/segment_recovery/internal/reassembly"
	"github.com/italolelis/segment_recovery/internal/telemetry"
	"github.com/italolelis/segment_recovery/internal/transfer"
)

const (
	dirPerm                 = 0o755
	defaultProgressInterval = 100 * 1024 * 1024
)

// ErrInvalidStreamLimit is returned by Download when the stream limit is below one.
var ErrInvalidStreamLimit = errors.New("max concurrent streams must be at least 1")

// Options configures a Downloader.
type Options struct {
	Telemetry *telemetry.Telemetry

	// PartExecutor runs the part writers of multipart downloads. It must not be the
	// executor whole files run on, since a file worker blocks until its parts finish.
	PartExecutor transfer.Executor
	// MultipartThreshold is the size above which a file is fetched as parallel ranges.
	// Zero disables multipart downloads.
	MultipartThreshold int64
	PartSize           int64
	MaxConcurrentParts int

	// ProgressInterval is how many bytes a single stream copy reads between progress logs.
	ProgressInterval int64
}

// Option configures a Downloader.
type Option func(*Options)

// WithTelemetry records file, batch and part metrics through tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *Options) {
		o.Telemetry = tel
	}
}

// WithMultipart enables ranged multipart downloads of files larger than threshold.
func WithMultipart(partExec transfer.Executor, threshold, partSize int64, maxConcurrentParts int) Option {
	return func(o *Options) {
		o.PartExecutor = partExec
		o.MultipartThreshold = threshold
		o.PartSize = partSize
		o.MaxConcurrentParts = maxConcurrentParts
	}
}

// WithProgressInterval sets Options.ProgressInterval.
func WithProgressInterval(n int64) Option {
	return func(o *Options) {
		o.ProgressInterval = n
	}
}

// BatchOptions configures one Download call.
type BatchOptions struct {
	BatchID          string
	Mirror           blobstore.Directory
	OnFileComplete   func(name string)
	CleanupOnFailure bool
}

// BatchOption configures one Download call.
type BatchOption func(*BatchOptions)

// WithMirror copies every downloaded file from the target directory to mirror as well.
func WithMirror(mirror blobstore.Directory) BatchOption {
	return func(o *BatchOptions) {
		o.Mirror = mirror
	}
}

// WithFileCompletion calls fn with the file name after each file reached the target
// directory and before it is mirrored. fn runs on a worker and must be safe for concurrent use.
func WithFileCompletion(fn func(name string)) BatchOption {
	return func(o *BatchOptions) {
		o.OnFileComplete = fn
	}
}

// WithCleanupOnFailure deletes every file the batch started writing to the target
// directory when the batch fails.
func WithCleanupOnFailure() BatchOption {
	return func(o *BatchOptions) {
		o.CleanupOnFailure = true
	}
}

// WithBatchID sets the id the batch is logged under. A random one is used otherwise.
func WithBatchID(id string) BatchOption {
	return func(o *BatchOptions) {
		o.BatchID = id
	}
}

// localPaths is implemented by target directories that live on the local file system.
type localPaths interface {
	Path(name string) (string, error)
}

// Downloader runs batches of whole-file copies on a shared executor.
type Downloader struct {
	exec       transfer.Executor
	maxStreams int
	opts       Options
}

// New returns a Downloader that runs at most maxConcurrentStreams copies of a batch at once
// on exec.
func New(exec transfer.Executor, maxConcurrentStreams int, opts ...Option) *Downloader {
	o := Options{
		PartSize:         blobstore.DefaultPartSize,
		ProgressInterval: defaultProgressInterval,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return &Downloader{
		exec:       exec,
		maxStreams: maxConcurrentStreams,
		opts:       o,
	}
}

// Download copies files from source into target and blocks until all of them are done or
// the first one failed. On failure no further file is started, the files already in flight
// run to completion, and the first error is returned as a *transfer.BatchError.
func (d *Downloader) Download(ctx context.Context, source, target blobstore.Directory, files []string, opts ...BatchOption) error {
	if d.maxStreams < 1 {
		return ErrInvalidStreamLimit
	}

	o := BatchOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.BatchID == "" {
		o.BatchID = uuid.NewString()
	}

	logger := logctx.LoggerFromContext(ctx).With("batch_id", o.BatchID)
	ctx = logctx.WithLogger(ctx, logger)

	if len(files) == 0 {
		logger.Debug("empty batch")
		d.opts.Telemetry.RecordBatch("success")

		return nil
	}

	var (
		batchErr error
		mu       sync.Mutex
		started  []string
	)

	queue := transfer.NewQueue(files)
	tracker := transfer.NewTracker(len(files), func(err error) { batchErr = err }, queue.Clear)
	workers := transfer.Budget(len(files), d.exec.Max(), d.maxStreams)

	logger.Info("downloading batch", "files", len(files), "workers", workers, "mirror", o.Mirror != nil)

	start := time.Now()

	transfer.FanOut(d.exec, queue, workers, func(name string) {
		mu.Lock()
		started = append(started, name)
		mu.Unlock()

		err := d.opts.Telemetry.InstrumentFileDownload(ctx, func(ctx context.Context) error {
			return d.downloadFile(ctx, source, target, name, &o)
		})
		if err != nil {
			logger.Error("failed to download file", "file", name, "err", err)
			tracker.RecordFailure(&transfer.BatchError{File: name, Err: err})

			return
		}

		tracker.RecordSuccess()
	}).Wait()

	if !tracker.Terminated() {
		batchErr = transfer.ErrAborted
	}

	if batchErr != nil {
		logger.Error("batch failed", "started", len(started), "files", len(files), "err", batchErr)
		d.opts.Telemetry.RecordBatch("error")

		if o.CleanupOnFailure {
			if err := cleanup.RemoveFiles(ctx, target, started); err != nil {
				logger.Error("failed to clean up batch", "err", err)
			}
		}

		return batchErr
	}

	logger.Info("batch downloaded", "files", len(files), "duration", time.Since(start))
	d.opts.Telemetry.RecordBatch("success")

	return nil
}

func (d *Downloader) downloadFile(ctx context.Context, source, target blobstore.Directory, name string, o *BatchOptions) error {
	logger := logctx.LoggerFromContext(ctx).With("file", name)

	size, err := source.Size(ctx, name)
	if err != nil {
		return &transfer.StreamOpenError{Blob: name, Length: -1, Err: err}
	}

	if d.useMultipart(source, target, size) {
		err = d.reassemble(ctx, source.(blobstore.RangedDirectory), target.(localPaths), name)
	} else {
		err = d.copy(ctx, source, target, name, size, logger)
	}

	if err != nil {
		return err
	}

	logger.Info("downloaded file", "size", humanize.Bytes(uint64(max(size, 0))))

	if o.OnFileComplete != nil {
		o.OnFileComplete(name)
	}

	if o.Mirror != nil {
		if _, err := blobstore.Copy(ctx, o.Mirror, target, name); err != nil {
			return fmt.Errorf("failed to mirror file: %w", err)
		}

		logger.Debug("mirrored file")
	}

	return nil
}

func (d *Downloader) useMultipart(source, target blobstore.Directory, size int64) bool {
	if d.opts.PartExecutor == nil || d.opts.MultipartThreshold <= 0 || size <= d.opts.MultipartThreshold {
		return false
	}

	if _, ok := source.(blobstore.RangedDirectory); !ok {
		return false
	}

	_, ok := target.(localPaths)

	return ok
}

func (d *Downloader) copy(ctx context.Context, source, target blobstore.Directory, name string, size int64, logger *slog.Logger) error {
	r, err := source.Open(ctx, name)
	if err != nil {
		return &transfer.StreamOpenError{Blob: name, Length: -1, Err: err}
	}
	defer r.Close()

	pr := progress.NewReader(r, size, d.opts.ProgressInterval, func(read, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "downloaded", humanize.Bytes(uint64(read)))
		}
	})

	if _, err := blobstore.CopyFrom(ctx, target, name, pr); err != nil {
		if pr.Err() != nil {
			return &transfer.ReadError{Blob: name, Part: -1, Err: err}
		}

		return &transfer.WriteError{Path: name, Offset: pr.BytesRead(), Err: err}
	}

	return nil
}

func (d *Downloader) reassemble(ctx context.Context, source blobstore.RangedDirectory, target localPaths, name string) error {
	path, err := target.Path(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return &transfer.WriteError{Path: path, Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	maxParts := max(d.opts.MaxConcurrentParts, 1)

	var result error

	job := reassembly.Reassemble(ctx, d.opts.PartExecutor, name, path,
		blobstore.ReadParts(ctx, source, name, d.opts.PartSize, maxParts),
		func(_ string, err error) { result = err },
		reassembly.WithMaxConcurrentParts(maxParts),
		reassembly.WithTelemetry(d.opts.Telemetry))

	<-job.Done()

	return result
}
