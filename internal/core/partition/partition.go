// Package partition splits an id range across a fixed number of workers.
package partition

import (
	"fmt"

	"maintscraper/internal/core/record"
)

// Assignment maps each worker to the ids it owns, in ascending order. Ids
// are interleaved: worker i owns every id k with k mod n == i.
type Assignment struct {
	Start, Stop int
	workers     [][]int
}

// Range partitions [start, stop) across workers.
func Range(start, stop, workers int) (Assignment, error) {
	if workers < 1 {
		return Assignment{}, fmt.Errorf("partition: worker count must be at least 1, got %d", workers)
	}
	if stop < start {
		return Assignment{}, fmt.Errorf("partition: stop %d is before start %d", stop, start)
	}
	a := Assignment{Start: start, Stop: stop, workers: make([][]int, workers)}
	for k := start; k < stop; k++ {
		w := Owner(k, workers)
		a.workers[w] = append(a.workers[w], k)
	}
	return a, nil
}

// Owner is the worker index of id k among n workers.
func Owner(k, n int) int {
	return ((k % n) + n) % n
}

// Count is the number of workers.
func (a Assignment) Count() int { return len(a.workers) }

// Size is the number of ids in the range.
func (a Assignment) Size() int { return a.Stop - a.Start }

// Worker returns the ids owned by worker i.
func (a Assignment) Worker(i int) []int {
	if i < 0 || i >= len(a.workers) {
		return nil
	}
	return a.workers[i]
}

// Owner returns the worker owning id k.
func (a Assignment) Owner(k int) int { return Owner(k, len(a.workers)) }

// Keys renders worker i's ids as item keys of kind, applying prefix to orders.
func (a Assignment) Keys(i int, kind record.Kind, prefix string) []string {
	ids := a.Worker(i)
	keys := make([]string, len(ids))
	for j, id := range ids {
		keys[j] = kind.Key(prefix, id)
	}
	return keys
}
