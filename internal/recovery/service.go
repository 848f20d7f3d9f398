// Package recovery runs recovery batches: it resolves the files to restore, downloads them
// and records the outcome in the ledger.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/italolelis/segment_recovery/internal/blobstore"
	"github.com/italolelis/segment_recovery/internal/downloader"
	"github.com/italolelis/segment_recovery/internal/logctx"
	"github.com/italolelis/segment_recovery/internal/notifier"
	"github.com/italolelis/segment_recovery/internal/storage"
)

// ErrNothingToRecover is returned when a request resolves to no files.
var ErrNothingToRecover = errors.New("no files to recover")

// Request selects the files of a batch. When Files is empty every file of the source
// below Prefix is recovered.
type Request struct {
	Files  []string
	Prefix string
}

// Service runs recovery batches against one source, target and optional mirror.
type Service struct {
	downloader *downloader.Downloader
	source     blobstore.Directory
	target     blobstore.Directory
	mirror     blobstore.Directory
	ledger     storage.RecoveryWriteRepository
	notifier   notifier.Notifier
	cleanup    bool

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithMirror mirrors every recovered file to dir.
func WithMirror(dir blobstore.Directory) Option {
	return func(s *Service) {
		s.mirror = dir
	}
}

// WithLedger records batches and completed files in ledger.
func WithLedger(ledger storage.RecoveryWriteRepository) Option {
	return func(s *Service) {
		s.ledger = ledger
	}
}

// WithNotifier sends the outcome of every batch through n.
func WithNotifier(n notifier.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithCleanupOnFailure deletes the local files of failed batches.
func WithCleanupOnFailure(enabled bool) Option {
	return func(s *Service) {
		s.cleanup = enabled
	}
}

// NewService creates a Service.
func NewService(d *downloader.Downloader, source, target blobstore.Directory, opts ...Option) *Service {
	s := &Service{
		downloader: d,
		source:     source,
		target:     target,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Recover runs a batch and blocks until it finished. It returns the batch id.
func (s *Service) Recover(ctx context.Context, req Request) (string, error) {
	files, err := s.resolve(ctx, req)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()

	return id, s.run(ctx, id, files)
}

// Start runs a batch in the background and returns its id once the file list is resolved
// and the batch is recorded. Wait blocks until every started batch finished.
func (s *Service) Start(ctx context.Context, req Request) (string, error) {
	files, err := s.resolve(ctx, req)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()

	if err := s.startBatch(ctx, id, len(files)); err != nil {
		return "", err
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		// The batch outlives the request that started it.
		_ = s.download(context.WithoutCancel(ctx), id, files)
	}()

	return id, nil
}

// Wait blocks until all batches started with Start returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) resolve(ctx context.Context, req Request) ([]string, error) {
	files := req.Files
	if len(files) == 0 {
		var err error

		files, err = s.source.List(ctx, req.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to list source files: %w", err)
		}
	}

	if len(files) == 0 {
		return nil, ErrNothingToRecover
	}

	return files, nil
}

func (s *Service) run(ctx context.Context, id string, files []string) error {
	if err := s.startBatch(ctx, id, len(files)); err != nil {
		return err
	}

	return s.download(ctx, id, files)
}

func (s *Service) startBatch(ctx context.Context, id string, files int) error {
	if s.ledger == nil {
		return nil
	}

	if err := s.ledger.StartBatch(ctx, id, files); err != nil {
		return fmt.Errorf("failed to record batch: %w", err)
	}

	return nil
}

func (s *Service) download(ctx context.Context, id string, files []string) error {
	// The downloader adds batch_id to the context logger itself.
	logger := logctx.LoggerFromContext(ctx).With("batch_id", id)

	opts := []downloader.BatchOption{
		downloader.WithBatchID(id),
		downloader.WithFileCompletion(func(name string) {
			if s.ledger == nil {
				return
			}

			if err := s.ledger.RecordFile(ctx, id, name); err != nil {
				logger.Error("failed to record file", "file", name, "err", err)
			}
		}),
	}

	if s.mirror != nil {
		opts = append(opts, downloader.WithMirror(s.mirror))
	}

	if s.cleanup {
		opts = append(opts, downloader.WithCleanupOnFailure())
	}

	err := s.downloader.Download(ctx, s.source, s.target, files, opts...)

	if s.ledger != nil {
		if ferr := s.ledger.FinishBatch(ctx, id, err); ferr != nil {
			logger.Error("failed to finish batch", "err", ferr)
		}
	}

	if s.notifier != nil {
		if nerr := s.notifier.Notify(ctx, notifier.BatchMessage(id, len(files), err)); nerr != nil {
			logger.Warn("failed to send notification", "err", nerr)
		}
	}

	return err
}
