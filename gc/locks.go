package gc

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
)

// Guard serializes Run's decision to remove a hash
// with other code that may be attaching aliases to it.
type Guard interface {
	// Lock claims h, blocking until it is free or ctx ends.
	// The caller must call unlock when done with h.
	Lock(ctx context.Context, h pict.Hash) (unlock func(), err error)
}

var _ Guard = &Locks{}

// Locks is a set of per-hash mutexes.
// The zero value is ready to use.
type Locks struct {
	mu sync.Mutex
	m  map[pict.Hash]*hashLock
}

type hashLock struct {
	ch   chan struct{}
	refs int
}

// Lock implements Guard.
func (l *Locks) Lock(ctx context.Context, h pict.Hash) (func(), error) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[pict.Hash]*hashLock)
	}
	hl, ok := l.m[h]
	if !ok {
		hl = &hashLock{ch: make(chan struct{}, 1)}
		l.m[h] = hl
	}
	hl.refs++
	l.mu.Unlock()

	select {
	case hl.ch <- struct{}{}:
		return func() {
			<-hl.ch
			l.release(h, hl)
		}, nil

	case <-ctx.Done():
		l.release(h, hl)
		return nil, errors.Wrapf(ctx.Err(), "locking %s", h)
	}
}

func (l *Locks) release(h pict.Hash, hl *hashLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hl.refs--
	if hl.refs == 0 {
		delete(l.m, h)
	}
}

// Len is the number of hashes locked or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
