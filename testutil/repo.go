package testutil

import (
	"context"
	stderrs "errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/pict"
)

// RepoConformance exercises every operation of a pict.FullRepo implementation.
// The repo should be empty.
func RepoConformance(ctx context.Context, t *testing.T, r pict.FullRepo) {
	t.Run("settings", func(t *testing.T) { repoSettings(ctx, t, r) })
	t.Run("details", func(t *testing.T) { repoDetails(ctx, t, r) })
	t.Run("hash", func(t *testing.T) { repoHash(ctx, t, r) })
	t.Run("alias", func(t *testing.T) { repoAlias(ctx, t, r) })
	t.Run("delete", func(t *testing.T) { repoDelete(ctx, t, r) })
	t.Run("hashes", func(t *testing.T) { RepoHashes(ctx, t, r, 5) })
}

func wantNotFound(t *testing.T, what string, err error) {
	t.Helper()
	if !stderrs.Is(err, pict.ErrNotFound) {
		t.Errorf("%s: got %v, want ErrNotFound", what, err)
	}
}

func aliasStrings(aliases []pict.Alias) []string {
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}

func repoSettings(ctx context.Context, t *testing.T, r pict.SettingsRepo) {
	_, err := r.GetSetting(ctx, "absent")
	wantNotFound(t, "GetSetting", err)

	if err := r.SetSetting(ctx, "key", []byte("value1")); err != nil {
		t.Fatal(err)
	}
	if err := r.SetSetting(ctx, "key", []byte("value2")); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetSetting(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "value2" {
		t.Errorf("got %q, want value2", got)
	}

	if err := r.RemoveSetting(ctx, "key"); err != nil {
		t.Fatal(err)
	}
	_, err = r.GetSetting(ctx, "key")
	wantNotFound(t, "GetSetting after RemoveSetting", err)
}

func repoDetails(ctx context.Context, t *testing.T, r pict.IdentifierRepo) {
	const id = pict.Identifier("00/01/some-file")

	_, err := r.Details(ctx, id)
	wantNotFound(t, "Details", err)

	want := pict.Details{
		Width:     640,
		Height:    480,
		MimeType:  "image/gif",
		Frames:    12,
		CreatedAt: time.Date(2022, 3, 4, 5, 6, 7, 8, time.UTC),
	}
	if err := r.RelateDetails(ctx, id, want); err != nil {
		t.Fatal(err)
	}
	got, err := r.Details(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("details mismatch (-want +got):\n%s", diff)
	}

	if err := r.CleanupIdentifier(ctx, id); err != nil {
		t.Fatal(err)
	}
	_, err = r.Details(ctx, id)
	wantNotFound(t, "Details after CleanupIdentifier", err)
}

func repoHash(ctx context.Context, t *testing.T, r pict.FullRepo) {
	h := pict.HashBytes([]byte("repoHash"))

	if err := r.CreateHash(ctx, h); err != nil {
		t.Fatal(err)
	}
	if err := r.RelateIdentifier(ctx, h, "orig"); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateHash(ctx, h); !stderrs.Is(err, pict.ErrAlreadyExists) {
		t.Errorf("second CreateHash: got %v, want ErrAlreadyExists", err)
	}
	id, err := r.Identifier(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if id != "orig" {
		t.Errorf("got identifier %s after duplicate CreateHash, want orig", id)
	}

	var (
		a1 = pict.GenerateAlias(".png")
		a2 = pict.AliasFromExisting("imported-name.png")
		a3 = pict.GenerateAlias("")
	)
	for _, a := range []pict.Alias{a1, a2, a3} {
		if err := r.RelateAlias(ctx, h, a); err != nil {
			t.Fatal(err)
		}
	}
	// Relating an alias twice is harmless.
	if err := r.RelateAlias(ctx, h, a1); err != nil {
		t.Fatal(err)
	}
	aliases, err := r.Aliases(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(aliasStrings([]pict.Alias{a1, a2, a3}), aliasStrings(aliases)); diff != "" {
		t.Errorf("aliases mismatch (-want +got):\n%s", diff)
	}
	for _, a := range aliases {
		if a != a1 && a != a2 && a != a3 {
			t.Errorf("alias %s does not round-trip", a)
		}
	}

	if err := r.RemoveAlias(ctx, h, a2); err != nil {
		t.Fatal(err)
	}
	aliases, err = r.Aliases(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(aliasStrings([]pict.Alias{a1, a3}), aliasStrings(aliases)); diff != "" {
		t.Errorf("aliases after RemoveAlias mismatch (-want +got):\n%s", diff)
	}

	_, err = r.VariantIdentifier(ctx, h, "thumbnail.256/x.png")
	wantNotFound(t, "VariantIdentifier", err)

	wantVariants := []pict.Variant{
		{Key: "blur.2/thumbnail.256/x.webp", Identifier: "v1"},
		{Key: "thumbnail.256/x.png", Identifier: "v2"},
	}
	for _, v := range wantVariants {
		if err := r.RelateVariantIdentifier(ctx, h, v.Key, v.Identifier); err != nil {
			t.Fatal(err)
		}
	}
	vid, err := r.VariantIdentifier(ctx, h, "thumbnail.256/x.png")
	if err != nil {
		t.Fatal(err)
	}
	if vid != "v2" {
		t.Errorf("got variant identifier %s, want v2", vid)
	}
	variants, err := r.Variants(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantVariants, variants); diff != "" {
		t.Errorf("variants mismatch (-want +got):\n%s", diff)
	}

	_, err = r.MotionIdentifier(ctx, h)
	wantNotFound(t, "MotionIdentifier", err)
	if err := r.RelateMotionIdentifier(ctx, h, "motion"); err != nil {
		t.Fatal(err)
	}
	mid, err := r.MotionIdentifier(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if mid != "motion" {
		t.Errorf("got motion identifier %s, want motion", mid)
	}

	// A neighboring hash's relations must survive cleanup.
	other := pict.HashBytes([]byte("other"))
	if err := r.CreateHash(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := r.RelateAlias(ctx, other, a1); err != nil {
		t.Fatal(err)
	}

	if err := r.CleanupHash(ctx, h); err != nil {
		t.Fatal(err)
	}
	_, err = r.Identifier(ctx, h)
	wantNotFound(t, "Identifier after CleanupHash", err)
	_, err = r.MotionIdentifier(ctx, h)
	wantNotFound(t, "MotionIdentifier after CleanupHash", err)
	_, err = r.VariantIdentifier(ctx, h, "thumbnail.256/x.png")
	wantNotFound(t, "VariantIdentifier after CleanupHash", err)
	if aliases, err = r.Aliases(ctx, h); err != nil || len(aliases) != 0 {
		t.Errorf("got aliases %v (err %v) after CleanupHash", aliases, err)
	}
	if variants, err = r.Variants(ctx, h); err != nil || len(variants) != 0 {
		t.Errorf("got variants %v (err %v) after CleanupHash", variants, err)
	}
	if err := r.CreateHash(ctx, h); err != nil {
		t.Errorf("CreateHash after CleanupHash: %s", err)
	}

	if aliases, err = r.Aliases(ctx, other); err != nil || len(aliases) != 1 {
		t.Errorf("got aliases %v (err %v) for neighboring hash", aliases, err)
	}

	for _, hh := range []pict.Hash{h, other} {
		if err := r.CleanupHash(ctx, hh); err != nil {
			t.Fatal(err)
		}
	}
}

func repoAlias(ctx context.Context, t *testing.T, r pict.FullRepo) {
	var (
		a  = pict.GenerateAlias(".jpg")
		h  = pict.HashBytes([]byte("repoAlias"))
		t1 = pict.GenerateDeleteToken()
		t2 = pict.GenerateDeleteToken()
	)

	if err := r.CreateAlias(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateAlias(ctx, a); !stderrs.Is(err, pict.ErrAlreadyExists) {
		t.Errorf("second CreateAlias: got %v, want ErrAlreadyExists", err)
	}

	_, err := r.DeleteToken(ctx, a)
	wantNotFound(t, "DeleteToken", err)
	if err := r.RelateDeleteToken(ctx, a, t1); err != nil {
		t.Fatal(err)
	}
	if err := r.RelateDeleteToken(ctx, a, t2); !stderrs.Is(err, pict.ErrAlreadyExists) {
		t.Errorf("second RelateDeleteToken: got %v, want ErrAlreadyExists", err)
	}
	got, err := r.DeleteToken(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(t1) {
		t.Errorf("got token %s, want %s", got, t1)
	}

	_, err = r.Hash(ctx, a)
	wantNotFound(t, "Hash", err)
	if err := r.RelateHash(ctx, a, h); err != nil {
		t.Fatal(err)
	}
	gotHash, err := r.Hash(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if gotHash != h {
		t.Errorf("got hash %s, want %s", gotHash, h)
	}

	if err := r.CleanupAlias(ctx, a); err != nil {
		t.Fatal(err)
	}
	_, err = r.Hash(ctx, a)
	wantNotFound(t, "Hash after CleanupAlias", err)
	_, err = r.DeleteToken(ctx, a)
	wantNotFound(t, "DeleteToken after CleanupAlias", err)
	if err := r.CreateAlias(ctx, a); err != nil {
		t.Errorf("CreateAlias after CleanupAlias: %s", err)
	}
	if err := r.CleanupAlias(ctx, a); err != nil {
		t.Fatal(err)
	}
}

// createAlias performs the full set of alias relations an upload makes.
func createAlias(ctx context.Context, t *testing.T, r pict.FullRepo, h pict.Hash, a pict.Alias, tok pict.DeleteToken) {
	t.Helper()

	if err := r.CreateAlias(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := r.RelateDeleteToken(ctx, a, tok); err != nil {
		t.Fatal(err)
	}
	if err := r.RelateHash(ctx, a, h); err != nil {
		t.Fatal(err)
	}
	if err := r.RelateAlias(ctx, h, a); err != nil {
		t.Fatal(err)
	}
}

func repoDelete(ctx context.Context, t *testing.T, r pict.FullRepo) {
	var (
		h   = pict.HashBytes([]byte("repoDelete"))
		a1  = pict.GenerateAlias(".png")
		a2  = pict.GenerateAlias(".png")
		tk1 = pict.GenerateDeleteToken()
		tk2 = pict.GenerateDeleteToken()
	)

	if err := r.CreateHash(ctx, h); err != nil {
		t.Fatal(err)
	}
	createAlias(ctx, t, r, h, a1, tk1)
	createAlias(ctx, t, r, h, a2, tk2)

	// Wrong token: nothing changes.
	if _, err := r.DeleteAlias(ctx, a1, tk2); !stderrs.Is(err, pict.ErrInvalidToken) {
		t.Fatalf("DeleteAlias with wrong token: got %v, want ErrInvalidToken", err)
	}
	if got, err := r.DeleteToken(ctx, a1); err != nil || !got.Equal(tk1) {
		t.Errorf("after failed delete, token is %s (err %v), want %s", got, err, tk1)
	}
	if got, err := r.Hash(ctx, a1); err != nil || got != h {
		t.Errorf("after failed delete, hash is %s (err %v), want %s", got, err, h)
	}
	aliases, err := r.Aliases(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if len(aliases) != 2 {
		t.Errorf("after failed delete, got %d aliases, want 2", len(aliases))
	}
	if err := r.CreateAlias(ctx, a1); !stderrs.Is(err, pict.ErrAlreadyExists) {
		t.Errorf("after failed delete, CreateAlias: got %v, want ErrAlreadyExists", err)
	}

	// Right token.
	got, err := r.DeleteAlias(ctx, a1, tk1)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("DeleteAlias returned hash %s, want %s", got, h)
	}
	_, err = r.DeleteToken(ctx, a1)
	wantNotFound(t, "DeleteToken after DeleteAlias", err)
	_, err = r.Hash(ctx, a1)
	wantNotFound(t, "Hash after DeleteAlias", err)
	aliases, err = r.Aliases(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{a2.String()}, aliasStrings(aliases)); diff != "" {
		t.Errorf("aliases after DeleteAlias mismatch (-want +got):\n%s", diff)
	}

	_, err = r.DeleteAlias(ctx, a1, tk1)
	wantNotFound(t, "second DeleteAlias", err)

	if _, err = r.DeleteAlias(ctx, a2, tk2); err != nil {
		t.Fatal(err)
	}
	if aliases, err = r.Aliases(ctx, h); err != nil || len(aliases) != 0 {
		t.Errorf("got aliases %v (err %v) after deleting both", aliases, err)
	}
	if err := r.CleanupHash(ctx, h); err != nil {
		t.Fatal(err)
	}
}

// RepoHashes creates n hashes in r,
// which should contain no others,
// and checks that Hashes produces them in order,
// and that an error from the callback stops the enumeration.
func RepoHashes(ctx context.Context, t *testing.T, r pict.FullRepo, n int) {
	var want []pict.Hash
	for i := 0; i < n; i++ {
		h := pict.HashBytes([]byte{byte(i)})
		if err := r.CreateHash(ctx, h); err != nil {
			t.Fatal(err)
		}
		want = append(want, h)
	}
	sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })

	var got []pict.Hash
	err := r.Hashes(ctx, func(h pict.Hash) error {
		got = append(got, h)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("hashes mismatch (-want +got):\n%s", diff)
	}

	errStop := stderrs.New("stop")
	var count int
	err = r.Hashes(ctx, func(pict.Hash) error {
		count++
		if count == 2 {
			return errStop
		}
		return nil
	})
	if !stderrs.Is(err, errStop) {
		t.Errorf("got %v, want the callback's error", err)
	}
	if count != 2 {
		t.Errorf("callback called %d times after its error, want 2", count)
	}

	for _, h := range want {
		if err := r.CleanupHash(ctx, h); err != nil {
			t.Fatal(err)
		}
	}
}
