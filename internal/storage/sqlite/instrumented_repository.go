package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/segment_recovery/internal/storage"
	"github.com/italolelis/segment_recovery/internal/telemetry"
)

// InstrumentedRecoveryRepository wraps RecoveryRepository with telemetry.
type InstrumentedRecoveryRepository struct {
	repo      *RecoveryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRecoveryRepository creates a new instrumented recovery repository.
func NewInstrumentedRecoveryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedRecoveryRepository {
	return &InstrumentedRecoveryRepository{
		repo:      NewRecoveryRepository(dbConn),
		telemetry: tel,
	}
}

// GetBatches lists batches with telemetry.
func (r *InstrumentedRecoveryRepository) GetBatches(ctx context.Context, limit int) ([]storage.BatchRecord, error) {
	var result []storage.BatchRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_batches", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetBatches(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetBatch reads one batch with telemetry.
func (r *InstrumentedRecoveryRepository) GetBatch(ctx context.Context, id string) (storage.BatchRecord, error) {
	var result storage.BatchRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_batch", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetBatch(ctx, id)

		return err
	})

	return result, err
}

// GetBatchFiles lists the completed files of a batch with telemetry.
func (r *InstrumentedRecoveryRepository) GetBatchFiles(ctx context.Context, id string) ([]storage.FileRecord, error) {
	var result []storage.FileRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_batch_files", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetBatchFiles(ctx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// StartBatch records a new batch with telemetry.
func (r *InstrumentedRecoveryRepository) StartBatch(ctx context.Context, id string, files int) error {
	return r.telemetry.InstrumentDBOperation(ctx, "start_batch", func(ctx context.Context) error {
		return r.repo.StartBatch(ctx, id, files)
	})
}

// RecordFile records a completed file with telemetry.
func (r *InstrumentedRecoveryRepository) RecordFile(ctx context.Context, batchID, fileName string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_file", func(ctx context.Context) error {
		return r.repo.RecordFile(ctx, batchID, fileName)
	})
}

// FinishBatch finishes a batch with telemetry.
func (r *InstrumentedRecoveryRepository) FinishBatch(ctx context.Context, id string, cause error) error {
	return r.telemetry.InstrumentDBOperation(ctx, "finish_batch", func(ctx context.Context) error {
		return r.repo.FinishBatch(ctx, id, cause)
	})
}
