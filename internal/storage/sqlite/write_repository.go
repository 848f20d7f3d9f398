package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/segment_recovery/internal/storage"
)

// RecoveryWriteRepository implements storage.RecoveryWriteRepository
// and stores ledger records in SQLite.
type RecoveryWriteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRecoveryWriteRepository(db *sql.DB) *RecoveryWriteRepository {
	return &RecoveryWriteRepository{db: db, now: time.Now}
}

func (r *RecoveryWriteRepository) StartBatch(ctx context.Context, id string, files int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO batches (id, files, status, started_at) VALUES (?, ?, ?, ?)`,
		id, files, storage.StatusRunning, formatTime(r.now()),
	)

	return err
}

// RecordFile adds a completed file to a batch. Recording the same file twice is a no-op.
func (r *RecoveryWriteRepository) RecordFile(ctx context.Context, batchID, fileName string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO batch_files (batch_id, file_name, completed_at) VALUES (?, ?, ?)
		ON CONFLICT(batch_id, file_name) DO NOTHING`,
		batchID, fileName, formatTime(r.now()),
	)

	return err
}

// FinishBatch sets the terminal status of a running batch.
func (r *RecoveryWriteRepository) FinishBatch(ctx context.Context, id string, cause error) error {
	status, message := storage.StatusSucceeded, ""
	if cause != nil {
		status, message = storage.StatusFailed, cause.Error()
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, error = ?, finished_at = ? WHERE id = ? AND status = ?`,
		status, message, formatTime(r.now()), id, storage.StatusRunning,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s is not running", storage.ErrBatchNotFound, id)
	}

	return nil
}
