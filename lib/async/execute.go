package async

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type State string

const (
	Fulfilled State = "fulfilled"
	Rejected  State = "rejected"
)

// Outcome is the settled result of one item.
type Outcome[V any] struct {
	State State
	Value V
	Err   error
}

type Work[V any] func(ctx context.Context) (V, error)

type Item[K comparable, V any] struct {
	Key  K
	Work Work[V]
}

type Config[K comparable, V any] struct {
	// Concurrency caps the number of items running at once. Zero or less means no cap.
	Concurrency int

	// Fulfilled and Rejected are called once per item, never concurrently with each other.
	Fulfilled func(value V, key K)
	Rejected  func(err error, key K)
}

// Indexed keys works by their position.
func Indexed[V any](works ...Work[V]) []Item[int, V] {
	items := make([]Item[int, V], len(works))
	for i, w := range works {
		items[i] = Item[int, V]{Key: i, Work: w}
	}
	return items
}

// Keyed keys works by their map key.
func Keyed[K comparable, V any](works map[K]Work[V]) []Item[K, V] {
	items := make([]Item[K, V], 0, len(works))
	for k, w := range works {
		items = append(items, Item[K, V]{Key: k, Work: w})
	}
	return items
}

// Execute runs every item and returns the outcome of each, keyed by item key.
//
// All items start at once; the concurrency gate, acquired in FIFO order, bounds how many run.
// A failing item never stops the others. An item whose context is done while
// waiting for the gate is rejected with the context error without running.
// When keys repeat, the outcome of the item that finished last is kept.
func Execute[K comparable, V any](ctx context.Context, items []Item[K, V], cfg Config[K, V]) map[K]Outcome[V] {
	results := make(map[K]Outcome[V], len(items))
	if len(items) == 0 {
		return results
	}

	var gate *semaphore.Weighted
	if cfg.Concurrency > 0 {
		gate = semaphore.NewWeighted(int64(cfg.Concurrency))
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex // guards results and serializes callbacks.
	)
	for _, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()

			v, err := runGated(ctx, gate, item.Work)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				results[item.Key] = Outcome[V]{State: Rejected, Err: err}
				if cfg.Rejected != nil {
					cfg.Rejected(err, item.Key)
				}
				return
			}

			results[item.Key] = Outcome[V]{State: Fulfilled, Value: v}
			if cfg.Fulfilled != nil {
				cfg.Fulfilled(v, item.Key)
			}
		}()
	}
	wg.Wait()

	return results
}

// ExecuteAsync is [Execute] returning immediately with a promise of the results.
func ExecuteAsync[K comparable, V any](ctx context.Context, items []Item[K, V], cfg Config[K, V]) *Promise[map[K]Outcome[V]] {
	return Go(ctx, func(ctx context.Context) (map[K]Outcome[V], error) {
		return Execute(ctx, items, cfg), nil
	})
}

func runGated[V any](ctx context.Context, gate *semaphore.Weighted, work Work[V]) (V, error) {
	if gate != nil {
		if err := gate.Acquire(ctx, 1); err != nil {
			var zero V
			return zero, err
		}
		defer gate.Release(1)
	}

	return run(ctx, work)
}
