package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// Bucket is a Directory backed by a gocloud bucket (s3://, gs://, file://, mem://).
type Bucket struct {
	bucket *blob.Bucket
	url    string
}

// OpenBucket opens the bucket at url.
func OpenBucket(ctx context.Context, url string) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}

	return &Bucket{bucket: b, url: url}, nil
}

// NewBucket wraps an already opened bucket.
func NewBucket(b *blob.Bucket) *Bucket {
	return &Bucket{bucket: b}
}

// Kind implements Directory.
func (b *Bucket) Kind() string {
	return "bucket"
}

// URL returns the URL the bucket was opened with, if any.
func (b *Bucket) URL() string {
	return b.url
}

// Open implements Directory.
func (b *Bucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := b.bucket.NewReader(ctx, name, nil)
	if err != nil {
		return nil, b.wrap("open", name, err)
	}

	return r, nil
}

// OpenRange implements RangeReader.
func (b *Bucket) OpenRange(ctx context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	r, err := b.bucket.NewRangeReader(ctx, name, offset, length, nil)
	if err != nil {
		return nil, b.wrap("open range of", name, err)
	}

	return r, nil
}

// Create implements Directory. The object becomes visible when the writer is closed.
func (b *Bucket) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	w, err := b.bucket.NewWriter(ctx, name, nil)
	if err != nil {
		return nil, b.wrap("create", name, err)
	}

	return w, nil
}

// Size implements Directory.
func (b *Bucket) Size(ctx context.Context, name string) (int64, error) {
	attrs, err := b.bucket.Attributes(ctx, name)
	if err != nil {
		return 0, b.wrap("stat", name, err)
	}

	return attrs.Size, nil
}

// Delete implements Directory.
func (b *Bucket) Delete(ctx context.Context, name string) error {
	if err := b.bucket.Delete(ctx, name); err != nil {
		return b.wrap("delete", name, err)
	}

	return nil
}

// List implements Directory.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string

	iter := b.bucket.List(&blob.ListOptions{Prefix: prefix})

	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return names, nil
		}

		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}

		if !obj.IsDir {
			names = append(names, obj.Key)
		}
	}
}

// Close releases the bucket.
func (b *Bucket) Close() error {
	return b.bucket.Close()
}

// wrap maps missing objects onto fs.ErrNotExist so callers can treat both directory
// kinds the same way.
func (b *Bucket) wrap(op, name string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%s %s: %w (%w)", op, name, fs.ErrNotExist, err)
	}

	return fmt.Errorf("%s %s: %w", op, name, err)
}
