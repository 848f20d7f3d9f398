package cleanup

import (
	"context"
	"errors"
	"io/fs"

	"github.com/italolelis/segment_recovery/internal/logctx"
)

// Deleter removes a file by name.
type Deleter interface {
	Delete(ctx context.Context, name string) error
}

// RemoveFiles deletes every named file from dir. Missing files are skipped. It keeps
// going after a failed delete and returns all errors joined.
func RemoveFiles(ctx context.Context, dir Deleter, names []string) error {
	logger := logctx.LoggerFromContext(ctx)

	var errs []error

	for _, name := range names {
		if err := dir.Delete(ctx, name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // never written
			}

			logger.Error("Failed to delete file", "file", name, "err", err)

			errs = append(errs, err)

			continue
		}

		logger.Info("Deleted file of failed batch", "file", name)
	}

	return errors.Join(errs...)
}
