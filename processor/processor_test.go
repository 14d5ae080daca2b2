package processor

import (
	"context"
	stderrs "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescing(t *testing.T) {
	var (
		p       Processor[string]
		calls   int32
		started = make(chan struct{})
		release = make(chan struct{})
	)

	compute := func(context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "result", nil
	}

	const n = 20

	var (
		wg      sync.WaitGroup
		results = make([]string, n)
		errs    = make([]error, n)
	)
	ctx := context.Background()

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = p.Run(ctx, "key", compute)
	}()
	<-started

	for i := 1; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.Run(ctx, "key", compute)
		}()
	}

	// Give the waiters time to register before the computation completes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("computation ran %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d: %s", i, errs[i])
		}
		if results[i] != "result" {
			t.Errorf("caller %d got %q", i, results[i])
		}
	}
}

func TestDistinctKeys(t *testing.T) {
	var (
		p     Processor[int]
		calls int32
	)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		i := i
		got, err := p.Run(ctx, string(rune('a'+i)), func(context.Context) (int, error) {
			atomic.AddInt32(&calls, 1)
			return i, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got != i {
			t.Errorf("got %d, want %d", got, i)
		}
	}
	if calls != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}
}

func TestErrorNotCached(t *testing.T) {
	var (
		p       Processor[int]
		errBoom = stderrs.New("boom")
		calls   int
	)
	ctx := context.Background()

	_, err := p.Run(ctx, "key", func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	})
	if !stderrs.Is(err, errBoom) {
		t.Fatalf("got error %v, want %v", err, errBoom)
	}

	got, err := p.Run(ctx, "key", func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
	if calls != 2 {
		t.Errorf("got %d calls, want 2", calls)
	}
}

func TestErrorToWaiters(t *testing.T) {
	var (
		p       Processor[int]
		errBoom = stderrs.New("boom")
		started = make(chan struct{})
		release = make(chan struct{})
	)
	compute := func(context.Context) (int, error) {
		close(started)
		<-release
		return 0, errBoom
	}
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() {
		_, err := p.Run(ctx, "key", compute)
		errs <- err
	}()
	<-started
	go func() {
		_, err := p.Run(ctx, "key", compute)
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; !stderrs.Is(err, errBoom) {
			t.Errorf("got error %v, want %v", err, errBoom)
		}
	}
}

func TestDriverCancel(t *testing.T) {
	var (
		p        Processor[string]
		started  = make(chan struct{})
		release  = make(chan struct{})
		finished int32
	)

	ctx, cancel := context.WithCancel(context.Background())

	type result struct {
		s   string
		err error
	}
	driver := make(chan result, 1)
	go func() {
		s, err := p.Run(ctx, "key", func(cctx context.Context) (string, error) {
			close(started)
			<-release
			if cctx.Err() != nil {
				return "", cctx.Err()
			}
			atomic.StoreInt32(&finished, 1)
			return "done", nil
		})
		driver <- result{s: s, err: err}
	}()
	<-started

	waiter := make(chan result, 1)
	go func() {
		s, err := p.Run(context.Background(), "key", func(context.Context) (string, error) {
			return "", stderrs.New("waiter must not compute")
		})
		waiter <- result{s: s, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	r := <-driver
	if !stderrs.Is(r.err, context.Canceled) {
		t.Fatalf("driver got %v, want context.Canceled", r.err)
	}

	close(release)
	p.Wait()

	if atomic.LoadInt32(&finished) != 1 {
		t.Error("computation did not run to completion after its driver was canceled")
	}
	r = <-waiter
	if r.err != nil {
		t.Fatalf("waiter got error %v", r.err)
	}
	if r.s != "done" {
		t.Errorf("waiter got %q, want done", r.s)
	}
}

func TestSemaphore(t *testing.T) {
	ctx := context.Background()

	var releases []func()
	for i := int64(0); i < Permits; i++ {
		release, err := Acquire(ctx)
		if err != nil {
			t.Fatal(err)
		}
		releases = append(releases, release)
	}

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := Acquire(tctx); err == nil {
		t.Fatal("acquired more permits than exist")
	}

	for _, release := range releases {
		release()
	}

	release, err := Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	release()
}
