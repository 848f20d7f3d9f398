// Package reassembly downloads the byte-range parts of one blob concurrently and writes
// them into a single local file at their offsets. The file is either complete or absent.
package reassembly

import (
	"context"
	"io"

	"github.com/italolelis/segment_recovery/internal/transfer"
)

// StreamContainer pairs a readable part stream with its declared length and the
// offset it belongs at in the target file.
type StreamContainer struct {
	Body   io.ReadCloser
	Length int64
	Offset int64
}

// Part is one byte range of a blob. Its stream may still be in flight.
type Part struct {
	Index  int
	Stream *transfer.Future[StreamContainer]
}

// Blob is the read context of one blob: its declared size and the parts covering it.
type Blob struct {
	Size  int64
	Parts []Part
}

// closeWhenReady releases a part stream that arrives after nobody needs it anymore.
func closeWhenReady(stream *transfer.Future[StreamContainer]) {
	if stream == nil {
		return
	}

	go func() {
		sc, err := stream.Await(context.Background())
		if err == nil && sc.Body != nil {
			_ = sc.Body.Close()
		}
	}()
}
