// Package pool provides bounded fan-out helpers and object pooling.
package pool

import (
	"context"
	"fmt"
	"sync"
)

// Result is the outcome of fn for one item.
type Result[R any] struct {
	Value R
	Err   error
}

// PanicError wraps a value recovered from a panicking worker.
type PanicError struct {
	Index int
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("item %d panicked: %v", e.Index, e.Value)
}

// ChunkSize returns max(1, n/workers). workers <= 0 is treated as 1.
func ChunkSize(n, workers int) int {
	if workers <= 0 {
		workers = 1
	}
	size := n / workers
	if size < 1 {
		size = 1
	}
	return size
}

// Partition splits items into contiguous chunks of ChunkSize(len(items), workers)
// and runs one goroutine per chunk. Each goroutine fills its own buffer; buffers
// are concatenated in chunk order once every goroutine has returned, so the
// result is index-aligned with items.
//
// A panic in fn is recovered into that item's Err. Items not yet started when
// ctx is cancelled get ctx.Err().
func Partition[T, R any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, index int, item T) (R, error)) []Result[R] {
	if len(items) == 0 {
		return nil
	}

	size := ChunkSize(len(items), workers)
	var chunks [][]Result[R]
	var wg sync.WaitGroup

	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, nil)
		slot := len(chunks) - 1

		wg.Add(1)
		go func(slot, start, end int) {
			defer wg.Done()
			local := make([]Result[R], 0, end-start)
			for i := start; i < end; i++ {
				local = append(local, runOne(ctx, i, items[i], fn))
			}
			chunks[slot] = local
		}(slot, start, end)
	}
	wg.Wait()

	out := make([]Result[R], 0, len(items))
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func runOne[T, R any](ctx context.Context, index int, item T, fn func(context.Context, int, T) (R, error)) (res Result[R]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[R]{Err: &PanicError{Index: index, Value: r}}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Result[R]{Err: err}
	}
	v, err := fn(ctx, index, item)
	return Result[R]{Value: v, Err: err}
}
