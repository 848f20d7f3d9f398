package storage

import (
	"context"
	"errors"
	"time"
)

// ErrBatchNotFound is returned when a batch id is unknown.
var ErrBatchNotFound = errors.New("batch not found")

// Batch statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// BatchRecord represents one recovery batch.
type BatchRecord struct {
	ID         string
	Files      int
	Completed  int
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// FileRecord represents a file of a batch that reached the target directory.
type FileRecord struct {
	BatchID     string
	FileName    string
	CompletedAt time.Time
}

// RecoveryReadRepository reads the recovery ledger.
type RecoveryReadRepository interface {
	GetBatches(ctx context.Context, limit int) ([]BatchRecord, error)
	GetBatch(ctx context.Context, id string) (BatchRecord, error)
	GetBatchFiles(ctx context.Context, id string) ([]FileRecord, error)
}

// RecoveryWriteRepository writes the recovery ledger.
type RecoveryWriteRepository interface {
	StartBatch(ctx context.Context, id string, files int) error
	RecordFile(ctx context.Context, batchID, fileName string) error
	// FinishBatch marks the batch succeeded when cause is nil and failed otherwise.
	FinishBatch(ctx context.Context, id string, cause error) error
}

// RecoveryRepository reads and writes the recovery ledger.
type RecoveryRepository interface {
	RecoveryReadRepository
	RecoveryWriteRepository
}
