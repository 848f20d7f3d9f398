// Package progress reports how far a long running copy got.
package progress

import (
	"errors"
	"io"
)

// Reader wraps an io.Reader and reports progress via a callback every interval bytes
// and once when five percent of a known total is crossed.
type Reader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(read int64, total int64)

	totalRead      int64
	lastReport     int64
	reportInterval int64
	err            error
}

// NewReader returns a Reader over r. total may be zero when unknown.
func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		pr.err = err
	}

	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.shouldReport(int64(n)) {
			if pr.OnProgress != nil {
				pr.OnProgress(pr.totalRead, pr.Total)
			}

			pr.lastReport = 0
		}
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}

// Err returns the last read error other than io.EOF. A copy that failed while Err is nil
// failed on the writing side.
func (pr *Reader) Err() error {
	return pr.err
}

func (pr *Reader) shouldReport(n int64) bool {
	if pr.reportInterval > 0 && pr.lastReport >= pr.reportInterval {
		return true
	}

	return pr.Total > 0 && pr.totalRead*100/pr.Total >= 5 && (pr.totalRead-n)*100/pr.Total < 5
}
