package transfer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/segment_recovery/internal/transfer"
	"github.com/italolelis/segment_recovery/internal/workerpool"
	"github.com/stretchr/testify/assert"
)

func TestBudget(t *testing.T) {
	tests := []struct {
		name                   string
		units, capacity, limit int
		want                   int
	}{
		{"units smallest", 2, 8, 20, 2},
		{"capacity smallest", 50, 4, 20, 4},
		{"limit smallest", 50, 8, 3, 3},
		{"no units", 0, 8, 3, 0},
		{"negative clamps", -1, 8, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transfer.Budget(tt.units, tt.capacity, tt.limit))
		})
	}
}

func TestQueue_TakeEachItemOnce(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	q := transfer.NewQueue(items)
	assert.Equal(t, 100, q.Len())

	var mu sync.Mutex
	seen := make(map[int]int)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				v, ok := q.TryTake()
				if !ok {
					return
				}

				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Len(t, seen, 100)
	for v, n := range seen {
		assert.Equal(t, 1, n, "item %d taken %d times", v, n)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ClearStopsHandOut(t *testing.T) {
	q := transfer.NewQueue([]string{"a", "b", "c"})

	v, ok := q.TryTake()
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	q.Clear()

	_, ok = q.TryTake()
	assert.False(t, ok)
	assert.True(t, q.Cleared())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DrainReturnsUntaken(t *testing.T) {
	q := transfer.NewQueue([]int{1, 2, 3, 4})

	_, _ = q.TryTake()

	assert.Equal(t, []int{2, 3, 4}, q.Drain())
	assert.True(t, q.Cleared())
	assert.Nil(t, q.Drain())

	_, ok := q.TryTake()
	assert.False(t, ok)
}

func TestFanOut_RespectsBudget(t *testing.T) {
	tests := []struct {
		name                   string
		units, capacity, limit int
	}{
		{"limit binds", 30, 8, 3},
		{"capacity binds", 30, 2, 10},
		{"units bind", 2, 8, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := workerpool.New(context.Background(), "fanout", tt.capacity)
			defer pool.Close()

			q := transfer.NewQueue(make([]struct{}, tt.units))
			k := transfer.Budget(tt.units, pool.Max(), tt.limit)

			var running, peak, done atomic.Int64

			transfer.FanOut(pool, q, k, func(struct{}) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}

				time.Sleep(2 * time.Millisecond)
				running.Add(-1)
				done.Add(1)
			}).Wait()

			assert.Equal(t, int64(tt.units), done.Load())
			assert.LessOrEqual(t, peak.Load(), int64(min(tt.units, tt.capacity, tt.limit)))
		})
	}
}

func TestFanOut_FailureStopsNewWork(t *testing.T) {
	pool := workerpool.New(context.Background(), "fanout", 1)
	defer pool.Close()

	q := transfer.NewQueue([]string{"a", "b", "c", "d"})

	var started []string
	var result error

	tr := transfer.NewTracker(4, func(err error) { result = err }, q.Clear)

	transfer.FanOut(pool, q, 1, func(name string) {
		started = append(started, name)

		if name == "b" {
			tr.RecordFailure(errors.New("copy failed"))

			return
		}

		tr.RecordSuccess()
	}).Wait()

	assert.Equal(t, []string{"a", "b"}, started)
	assert.EqualError(t, result, "copy failed")
}
