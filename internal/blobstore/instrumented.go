package blobstore

import (
	"context"
	"io"

	"github.com/italolelis/segment_recovery/internal/telemetry"
)

// Instrument records every operation on dir as a store operation metric and span.
// The result implements RangeReader when dir does.
func Instrument(dir Directory, tel *telemetry.Telemetry) Directory {
	base := &instrumented{dir: dir, tel: tel}

	if rr, ok := dir.(RangeReader); ok {
		return &instrumentedRanged{instrumented: base, ranges: rr}
	}

	return base
}

type instrumented struct {
	dir Directory
	tel *telemetry.Telemetry
}

func (i *instrumented) Kind() string {
	return i.dir.Kind()
}

func (i *instrumented) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	var r io.ReadCloser

	err := i.tel.InstrumentStoreOperation(ctx, i.dir.Kind(), "open", func(ctx context.Context) error {
		var err error
		r, err = i.dir.Open(ctx, name)

		return err
	})

	return r, err
}

func (i *instrumented) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	var w io.WriteCloser

	err := i.tel.InstrumentStoreOperation(ctx, i.dir.Kind(), "create", func(ctx context.Context) error {
		var err error
		w, err = i.dir.Create(ctx, name)

		return err
	})

	return w, err
}

func (i *instrumented) Size(ctx context.Context, name string) (int64, error) {
	var size int64

	err := i.tel.InstrumentStoreOperation(ctx, i.dir.Kind(), "stat", func(ctx context.Context) error {
		var err error
		size, err = i.dir.Size(ctx, name)

		return err
	})

	return size, err
}

func (i *instrumented) Delete(ctx context.Context, name string) error {
	return i.tel.InstrumentStoreOperation(ctx, i.dir.Kind(), "delete", func(ctx context.Context) error {
		return i.dir.Delete(ctx, name)
	})
}

func (i *instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string

	err := i.tel.InstrumentStoreOperation(ctx, i.dir.Kind(), "list", func(ctx context.Context) error {
		var err error
		names, err = i.dir.List(ctx, prefix)

		return err
	})

	return names, err
}

type instrumentedRanged struct {
	*instrumented
	ranges RangeReader
}

func (i *instrumentedRanged) OpenRange(ctx context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	var r io.ReadCloser

	err := i.tel.InstrumentStoreOperation(ctx, i.dir.Kind(), "open_range", func(ctx context.Context) error {
		var err error
		r, err = i.ranges.OpenRange(ctx, name, offset, length)

		return err
	})

	return r, err
}
