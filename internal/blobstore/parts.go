package blobstore

import (
	"context"
	"io"
	"sync"

	"github.com/italolelis/segment_recovery/internal/reassembly"
	"github.com/italolelis/segment_recovery/internal/transfer"
	"golang.org/x/sync/semaphore"
)

// DefaultPartSize is used when ReadParts is given a non-positive part size.
const DefaultPartSize = 16 * 1024 * 1024

// ReadParts resolves the read context of name: its size and one part per partSize bytes.
//
// Part streams are opened in index order in the background, with at most prefetch of them
// open at a time. A stream counts as open until its body is closed, so prefetch must be at
// least the number of workers consuming the parts. Cancelling ctx fails every part that was
// not opened yet.
func ReadParts(ctx context.Context, src RangedDirectory, name string, partSize int64, prefetch int) *transfer.Future[*reassembly.Blob] {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}

	prefetch = max(prefetch, 1)

	return transfer.Go(func() (*reassembly.Blob, error) {
		size, err := src.Size(ctx, name)
		if err != nil {
			return nil, &transfer.FetchError{Blob: name, Err: err}
		}

		ranges := SplitRanges(size, partSize)
		parts := make([]reassembly.Part, len(ranges))

		for i := range ranges {
			parts[i] = reassembly.Part{Index: i, Stream: transfer.NewFuture[reassembly.StreamContainer]()}
		}

		go openParts(ctx, src, name, ranges, parts, semaphore.NewWeighted(int64(prefetch)))

		return &reassembly.Blob{Size: size, Parts: parts}, nil
	})
}

// Range is a byte range of a file.
type Range struct {
	Offset int64
	Length int64
}

// SplitRanges cuts size bytes into consecutive ranges of partSize; the last one may be shorter.
func SplitRanges(size, partSize int64) []Range {
	if size <= 0 || partSize <= 0 {
		return nil
	}

	ranges := make([]Range, 0, (size+partSize-1)/partSize)
	for off := int64(0); off < size; off += partSize {
		ranges = append(ranges, Range{Offset: off, Length: min(partSize, size-off)})
	}

	return ranges
}

func openParts(ctx context.Context, src RangeReader, name string, ranges []Range, parts []reassembly.Part, sem *semaphore.Weighted) {
	for i, r := range ranges {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(parts); j++ {
				parts[j].Stream.Complete(reassembly.StreamContainer{}, &transfer.StreamOpenError{
					Blob: name, Offset: ranges[j].Offset, Length: ranges[j].Length, Err: err,
				})
			}

			return
		}

		body, err := src.OpenRange(ctx, name, r.Offset, r.Length)
		if err != nil {
			sem.Release(1)
			parts[i].Stream.Complete(reassembly.StreamContainer{}, &transfer.StreamOpenError{
				Blob: name, Offset: r.Offset, Length: r.Length, Err: err,
			})

			continue
		}

		parts[i].Stream.Complete(reassembly.StreamContainer{
			Body:   &releasingBody{ReadCloser: body, release: func() { sem.Release(1) }},
			Length: r.Length,
			Offset: r.Offset,
		}, nil)
	}
}

// releasingBody gives its prefetch slot back on the first Close.
type releasingBody struct {
	io.ReadCloser

	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)

	return err
}
