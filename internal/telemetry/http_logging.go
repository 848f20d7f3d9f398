package telemetry

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/segment_recovery/internal/logctx"
)

// probePaths are polled by health checks and scrapers; successful hits are logged at debug.
var probePaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// HTTPLogging logs every admin API request once it completes, at a level chosen by its
// status code.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logctx.LoggerFromContext(ctx)
		start := time.Now()

		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"size", humanize.Bytes(uint64(rec.bytesWritten)),
			"duration_ms", time.Since(start).Milliseconds(),
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "admin request failed", attrs...)
		case rec.status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "admin request rejected", attrs...)
		case probePaths[r.URL.Path]:
			logger.DebugContext(ctx, "probe request served", attrs...)
		default:
			logger.InfoContext(ctx, "admin request served", attrs...)
		}
	})
}
