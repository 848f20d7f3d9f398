package transfer

import (
	"context"
	"sync"
)

// Future is a single-assignment result cell. The first Complete wins.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture returns an uncompleted future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future that already holds v and err.
func Completed[T any](v T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Complete(v, err)

	return f
}

// Go runs fn on a new goroutine and completes the returned future with its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()

	go func() {
		f.Complete(fn())
	}()

	return f
}

// Complete stores the result. It reports false if the future was already completed.
func (f *Future[T]) Complete(v T, err error) bool {
	completed := false

	f.once.Do(func() {
		f.value = v
		f.err = err
		completed = true
		close(f.done)
	})

	return completed
}

// Done is closed once the future holds a result.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future completes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}
