package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/segment_recovery/internal/storage"
)

type RecoveryReadRepository struct {
	db *sql.DB
}

func NewRecoveryReadRepository(dbConn *sql.DB) *RecoveryReadRepository {
	return &RecoveryReadRepository{db: dbConn}
}

const batchColumns = `
	b.id,
	b.files,
	(SELECT COUNT(*) FROM batch_files f WHERE f.batch_id = b.id),
	b.status,
	b.error,
	b.started_at,
	b.finished_at`

// GetBatches returns the most recent batches first, up to limit.
func (r *RecoveryReadRepository) GetBatches(ctx context.Context, limit int) ([]storage.BatchRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+batchColumns+`
		FROM batches b
		ORDER BY b.started_at DESC, b.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []storage.BatchRecord

	for rows.Next() {
		record, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}

		batches = append(batches, record)
	}

	return batches, rows.Err()
}

// GetBatch returns one batch or storage.ErrBatchNotFound.
func (r *RecoveryReadRepository) GetBatch(ctx context.Context, id string) (storage.BatchRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches b WHERE b.id = ?`, id)

	record, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.BatchRecord{}, fmt.Errorf("%w: %s", storage.ErrBatchNotFound, id)
	}

	return record, err
}

// GetBatchFiles returns the completed files of a batch in completion order.
func (r *RecoveryReadRepository) GetBatchFiles(ctx context.Context, id string) ([]storage.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT batch_id, file_name, completed_at FROM batch_files WHERE batch_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []storage.FileRecord

	for rows.Next() {
		var (
			record      storage.FileRecord
			completedAt string
		)

		if err := rows.Scan(&record.BatchID, &record.FileName, &completedAt); err != nil {
			return nil, err
		}

		if record.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}

		files = append(files, record)
	}

	return files, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(s scanner) (storage.BatchRecord, error) {
	var (
		record     storage.BatchRecord
		startedAt  string
		finishedAt sql.NullString
	)

	err := s.Scan(&record.ID, &record.Files, &record.Completed, &record.Status, &record.Error, &startedAt, &finishedAt)
	if err != nil {
		return storage.BatchRecord{}, err
	}

	if record.StartedAt, err = parseTime(startedAt); err != nil {
		return storage.BatchRecord{}, err
	}

	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return storage.BatchRecord{}, err
		}

		record.FinishedAt = &t
	}

	return record, nil
}

// timeLayout has a fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// parseTime accepts any fractional width. DATETIME columns come back from the driver as
// time.Time and are formatted as RFC3339Nano, which trims trailing zeros.

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}

	return t, nil
}
