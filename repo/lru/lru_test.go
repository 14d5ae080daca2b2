package lru

import (
	"context"
	"encoding/json"
	stderrs "errors"
	"path/filepath"
	"testing"

	"github.com/bobg/pict"
	"github.com/bobg/pict/repo/sqlite3"
	"github.com/bobg/pict/testutil"
)

type countingRepo struct {
	pict.FullRepo
	detailsCalls int
}

func (c *countingRepo) Details(ctx context.Context, id pict.Identifier) (pict.Details, error) {
	c.detailsCalls++
	return c.FullRepo.Details(ctx, id)
}

func newNested(ctx context.Context, t *testing.T) pict.FullRepo {
	t.Helper()

	r, err := sqlite3.Open(ctx, filepath.Join(t.TempDir(), "pict.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRepo(t *testing.T) {
	ctx := context.Background()
	r, err := New(newNested(ctx, t), 100)
	if err != nil {
		t.Fatal(err)
	}
	testutil.RepoConformance(ctx, t, r)
}

func TestDetailsCache(t *testing.T) {
	ctx := context.Background()
	nested := &countingRepo{FullRepo: newNested(ctx, t)}

	r, err := New(nested, 100)
	if err != nil {
		t.Fatal(err)
	}

	const id = pict.Identifier("a/b")
	details := pict.NewDetails(10, 20, "image/png", 0)
	if err := nested.RelateDetails(ctx, id, details); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		got, err := r.Details(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Width != 10 || got.Height != 20 {
			t.Errorf("got %dx%d, want 10x20", got.Width, got.Height)
		}
	}
	if nested.detailsCalls != 1 {
		t.Errorf("nested repo consulted %d times, want 1", nested.detailsCalls)
	}

	if err := r.CleanupIdentifier(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Details(ctx, id); !stderrs.Is(err, pict.ErrNotFound) {
		t.Errorf("got %v after CleanupIdentifier, want ErrNotFound", err)
	}
}

func TestIntParam(t *testing.T) {
	for _, v := range []interface{}{7, float64(7), json.Number("7")} {
		if n, ok := intParam(v); !ok || n != 7 {
			t.Errorf("intParam(%#v) = %d, %v", v, n, ok)
		}
	}
	if _, ok := intParam("7"); ok {
		t.Error("intParam accepted a string")
	}
}
