package transfer

import "sync/atomic"

// Tracker aggregates the outcomes of a fixed number of units into one terminal signal.
//
// onDone runs exactly once: with nil after the expected number of successes, or with
// the first recorded error. Outcomes recorded after that are counted and otherwise ignored.
type Tracker struct {
	expected   int64
	outcomes   atomic.Int64
	successes  atomic.Int64
	terminated atomic.Bool

	onDone    func(error)
	onFailure []func()
}

// NewTracker creates a tracker expecting the given number of outcomes. The onFailure hooks
// run before onDone when the first failure terminates the group, typically to clear a queue.
// A tracker expecting zero outcomes terminates immediately with success.
func NewTracker(expected int, onDone func(error), onFailure ...func()) *Tracker {
	t := &Tracker{
		expected:  int64(expected),
		onDone:    onDone,
		onFailure: onFailure,
	}

	if expected <= 0 {
		t.terminate(nil)
	}

	return t
}

// RecordSuccess records one successful unit.
func (t *Tracker) RecordSuccess() {
	t.outcomes.Add(1)

	if t.successes.Add(1) == t.expected {
		t.terminate(nil)
	}
}

// RecordFailure records one failed unit. Only the first failure of the group is signalled.
func (t *Tracker) RecordFailure(err error) {
	t.outcomes.Add(1)

	if err == nil {
		err = ErrAborted
	}

	if !t.terminated.CompareAndSwap(false, true) {
		return
	}

	for _, hook := range t.onFailure {
		hook()
	}

	if t.onDone != nil {
		t.onDone(err)
	}
}

// Terminated reports whether the terminal signal has fired.
func (t *Tracker) Terminated() bool {
	return t.terminated.Load()
}

// Outcomes returns how many outcomes were recorded, including those after termination.
func (t *Tracker) Outcomes() int64 {
	return t.outcomes.Load()
}

func (t *Tracker) terminate(err error) {
	if !t.terminated.CompareAndSwap(false, true) {
		return
	}

	if t.onDone != nil {
		t.onDone(err)
	}
}
