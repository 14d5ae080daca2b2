package processor

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// Permits is the size of the conversion semaphore:
// one less than the number of CPUs, but at least one.
var Permits = func() int64 {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return int64(n)
}()

// The one process-wide conversion semaphore.
var conversions = semaphore.NewWeighted(Permits)

// Acquire takes a conversion permit,
// blocking until one is available or ctx ends.
// The caller must call release when the conversion is done.
func Acquire(ctx context.Context) (release func(), err error) {
	if err := conversions.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "acquiring conversion permit")
	}
	return func() { conversions.Release(1) }, nil
}
