package transfer

import "sync"

// Executor runs submitted tasks on a bounded set of goroutines.
type Executor interface {
	// Submit hands a task to the executor. It may block while the executor is saturated.
	Submit(task func())
	// Max returns the maximum number of tasks the executor runs at once.
	Max() int
}

// Budget returns how many workers a batch may use: the smallest of the unit count,
// the executor capacity and the configured stream limit.
func Budget(units, poolCapacity, maxStreams int) int {
	return max(0, min(units, poolCapacity, maxStreams))
}

// Workers is the handle of a running fan-out.
type Workers struct {
	wg sync.WaitGroup
}

// Wait blocks until every worker of the fan-out has exited.
func (w *Workers) Wait() {
	w.wg.Wait()
}

// FanOut starts exactly n workers on exec. Each worker takes items from q and runs action on
// them until the queue yields nothing, so uneven item costs balance themselves out.
func FanOut[T any](exec Executor, q *Queue[T], n int, action func(T)) *Workers {
	w := &Workers{}

	for range n {
		w.wg.Add(1)

		exec.Submit(func() {
			defer w.wg.Done()

			for {
				item, ok := q.TryTake()
				if !ok {
					return
				}

				action(item)
			}
		})
	}

	return w
}
