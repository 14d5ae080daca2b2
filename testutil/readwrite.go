package testutil

import (
	"bytes"
	"context"
	stderrs "errors"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"github.com/bobg/pict"
)

// StoreReadWrite permits testing a Store implementation
// by writing some data to it,
// then reading it back out (whole and in ranges) to make sure it's the same,
// then removing it.
// It also checks that a save whose input fails leaves no blob behind.
func StoreReadWrite(ctx context.Context, t *testing.T, store pict.Store, data []byte) {
	t1 := time.Now()
	id, err := store.Save(ctx, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("wrote %d bytes in %s", len(data), time.Since(t1))

	n, err := store.Len(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(data)) {
		t.Errorf("got length %d, want %d", n, len(data))
	}

	buf := new(bytes.Buffer)
	t2 := time.Now()
	if err = store.ReadInto(ctx, id, buf); err != nil {
		t.Fatal(err)
	}
	got := buf.Bytes()
	t.Logf("read %d bytes in %s", len(got), time.Since(t2))
	checkBytes(t, "ReadInto", got, data)

	ranges := []struct{ offset, length int64 }{
		{0, -1},
		{0, 0},
		{1, 10},
		{int64(len(data) / 2), -1},
		{int64(len(data) / 3), int64(len(data) / 3)},
		{int64(len(data)) - 1, 100},
		{int64(len(data)), -1},
	}
	for _, r := range ranges {
		want := data[r.offset:]
		if r.length >= 0 && r.length < int64(len(want)) {
			want = want[:r.length]
		}
		rc, err := store.Stream(ctx, id, r.offset, r.length)
		if err != nil {
			t.Fatalf("Stream(%d, %d): %s", r.offset, r.length, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("reading Stream(%d, %d): %s", r.offset, r.length, err)
		}
		checkBytes(t, "Stream", got, want)
	}

	// The same bytes saved again are a distinct blob.
	id2, err := store.SaveBytes(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if id2 == id {
		t.Errorf("second save of the same data reused identifier %s", id)
	}

	if err = store.Remove(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err = store.Len(ctx, id); !stderrs.Is(err, pict.ErrNotFound) {
		t.Errorf("got %v from Len after Remove, want ErrNotFound", err)
	}
	if _, err = store.Stream(ctx, id, 0, -1); !stderrs.Is(err, pict.ErrNotFound) {
		t.Errorf("got %v from Stream after Remove, want ErrNotFound", err)
	}
	if err = store.Remove(ctx, id); !stderrs.Is(err, pict.ErrNotFound) {
		t.Errorf("got %v from second Remove, want ErrNotFound", err)
	}

	n, err = store.Len(ctx, id2)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(data)) {
		t.Errorf("got length %d for second blob, want %d", n, len(data))
	}
	if err = store.Remove(ctx, id2); err != nil {
		t.Fatal(err)
	}

	errInput := stderrs.New("input failed")
	id3, err := store.Save(ctx, io.MultiReader(bytes.NewReader(data), iotest.ErrReader(errInput)))
	if !stderrs.Is(err, errInput) {
		t.Errorf("got %v from Save with failing input, want the input error", err)
	}
	if id3 != "" {
		if _, err = store.Len(ctx, id3); !stderrs.Is(err, pict.ErrNotFound) {
			t.Errorf("got %v from Len of failed save %s, want ErrNotFound", err, id3)
		}
	}
}

func checkBytes(t *testing.T, what string, got, want []byte) {
	t.Helper()

	if len(got) != len(want) {
		t.Errorf("%s: got length %d, want %d", what, len(got), len(want))
		return
	}
	for i := 0; i < len(got); i++ {
		if got[i] != want[i] {
			t.Fatalf("%s: mismatch at position %d (of %d)", what, i, len(got))
		}
	}
}
