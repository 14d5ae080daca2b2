// Package processor coalesces concurrent requests for the same derived artifact
// into a single computation,
// and bounds how many CPU-heavy conversions run at once.
package processor

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Processor runs at most one computation per key at a time.
//
// The first caller of Run for a key drives the computation;
// callers arriving while it is in flight wait for the same result.
// The computation is detached from its callers' cancellation:
// a caller whose context ends stops waiting,
// but the computation runs to completion,
// so its side effects (stored blobs, recorded relations) are never left half done.
//
// Results are not cached.
// Once a computation finishes, the next Run for its key starts a new one,
// which is what makes a failed computation retryable.
type Processor[T any] struct {
	g  singleflight.Group
	wg sync.WaitGroup
}

// Run returns the result of the in-flight computation for key,
// starting f if there is none.
// The context passed to f carries ctx's values but not its cancellation or deadline.
func (p *Processor[T]) Run(ctx context.Context, key string, f func(context.Context) (T, error)) (T, error) {
	detached := context.WithoutCancel(ctx)

	p.wg.Add(1)
	ch := p.g.DoChan(key, func() (interface{}, error) {
		return f(detached)
	})

	// Keep the WaitGroup count until the computation delivers,
	// even if this caller gives up first.
	done := make(chan singleflight.Result, 1)
	go func() {
		defer p.wg.Done()
		done <- <-ch
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()

	case res := <-done:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}

// Wait blocks until every computation started through Run has finished.
func (p *Processor[T]) Wait() {
	p.wg.Wait()
}
