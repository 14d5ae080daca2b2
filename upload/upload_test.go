package upload

import (
	"bytes"
	"context"
	stderrs "errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bobg/pict"
	"github.com/bobg/pict/magick"
	"github.com/bobg/pict/processor"
	"github.com/bobg/pict/repo/sqlite3"
	"github.com/bobg/pict/store/mem"
)

// Fake media is a header line "width height mime frames" followed by a payload.
func media(width, height int, mimeType string, frames int, payload string) []byte {
	return []byte(fmt.Sprintf("%d %d %s %d\n%s", width, height, mimeType, frames, payload))
}

type fakeMedia struct {
	width, height int
	mimeType      string
	frames        int
	payload       string
}

func parseMedia(r io.Reader) (fakeMedia, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return fakeMedia{}, err
	}
	header, payload, _ := strings.Cut(string(b), "\n")
	var m fakeMedia
	if _, err := fmt.Sscanf(header, "%d %d %s %d", &m.width, &m.height, &m.mimeType, &m.frames); err != nil {
		return fakeMedia{}, errors.Wrapf(err, "parsing header %q", header)
	}
	m.payload = payload
	return m, nil
}

type fakeConverter struct {
	details, converts, thumbnails atomic.Int32

	// If non-nil, Convert signals started and then waits for gate to close.
	gate    chan struct{}
	started chan struct{}

	// If non-nil, Convert fails with it.
	convertErr error
}

var _ Converter = &fakeConverter{}

func (c *fakeConverter) Details(_ context.Context, r io.Reader, _ magick.InputType) (pict.Details, error) {
	c.details.Add(1)
	m, err := parseMedia(r)
	if err != nil {
		return pict.Details{}, err
	}
	return pict.NewDetails(m.width, m.height, m.mimeType, m.frames), nil
}

func (c *fakeConverter) Convert(_ context.Context, r io.Reader, args []string, format magick.Format) (io.ReadCloser, error) {
	c.converts.Add(1)
	if c.gate != nil {
		c.started <- struct{}{}
		<-c.gate
	}
	if c.convertErr != nil {
		return nil, c.convertErr
	}
	m, err := parseMedia(r)
	if err != nil {
		return nil, err
	}
	out := media(m.width, m.height, format.MimeType(), 0, strings.TrimSpace(m.payload+" "+strings.Join(args, " ")))
	return io.NopCloser(bytes.NewReader(out)), nil
}

func (c *fakeConverter) Thumbnail(_ context.Context, r io.Reader, _ magick.InputType, format magick.Format) (io.ReadCloser, error) {
	c.thumbnails.Add(1)
	m, err := parseMedia(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(media(m.width, m.height, format.MimeType(), 0, "still of "+m.payload))), nil
}

type fixture struct {
	m     *Manager
	store *mem.Store
	repo  pict.FullRepo
	conv  *fakeConverter
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()

	repo, err := sqlite3.Open(context.Background(), filepath.Join(t.TempDir(), "pict.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	obs, logs := observer.New(zapcore.DebugLevel)
	logger := zaptest.NewLogger(t).WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, obs)
	}))

	var (
		store = mem.New()
		conv  = &fakeConverter{}
		m     = New(store, repo, conv, logger, opts)
	)
	t.Cleanup(m.Wait)

	return fixture{m: m, store: store, repo: repo, conv: conv, logs: logs}
}

func (f fixture) read(ctx context.Context, t *testing.T, id pict.Identifier) string {
	t.Helper()

	buf := new(bytes.Buffer)
	if err := f.store.ReadInto(ctx, id, buf); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func thumbnail10(t *testing.T) magick.Chain {
	t.Helper()

	chain, err := magick.ParseChain([]magick.Param{{Name: "thumbnail", Value: "10"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return chain
}

func TestDedup(t *testing.T) {
	var (
		ctx     = context.Background()
		f       = newFixture(t, Options{})
		content = media(20, 10, "image/png", 0, "cat")
	)

	u1, err := f.m.Ingest(ctx, bytes.NewReader(content), ".png")
	if err != nil {
		t.Fatal(err)
	}
	u2, err := f.m.Ingest(ctx, bytes.NewReader(content), ".png")
	if err != nil {
		t.Fatal(err)
	}

	if u1.Alias == u2.Alias {
		t.Errorf("both uploads got alias %s", u1.Alias)
	}
	if u1.Hash != u2.Hash || u1.Hash != pict.HashBytes(content) {
		t.Errorf("got hashes %s and %s, want %s", u1.Hash, u2.Hash, pict.HashBytes(content))
	}
	if u1.Identifier != u2.Identifier {
		t.Errorf("got identifiers %s and %s, want one", u1.Identifier, u2.Identifier)
	}
	if n := f.store.Count(); n != 1 {
		t.Errorf("store holds %d blobs, want 1", n)
	}
	if u1.Alias.Extension() != ".png" {
		t.Errorf("got extension %q, want .png", u1.Alias.Extension())
	}
	if n := f.conv.details.Load(); n != 1 {
		t.Errorf("details computed %d times, want 1", n)
	}

	for _, u := range []Upload{u1, u2} {
		h, err := f.repo.Hash(ctx, u.Alias)
		if err != nil {
			t.Fatal(err)
		}
		if h != u1.Hash {
			t.Errorf("alias %s resolves to %s, want %s", u.Alias, h, u1.Hash)
		}
	}
	aliases, err := f.m.Aliases(ctx, u1.Alias)
	if err != nil {
		t.Fatal(err)
	}
	if len(aliases) != 2 {
		t.Errorf("got %d aliases, want 2", len(aliases))
	}
}

func TestReferenceCountedDelete(t *testing.T) {
	var (
		ctx     = context.Background()
		f       = newFixture(t, Options{})
		content = media(20, 10, "image/png", 0, "dog")
	)

	u1, err := f.m.Ingest(ctx, bytes.NewReader(content), ".png")
	if err != nil {
		t.Fatal(err)
	}
	u2, err := f.m.Ingest(ctx, bytes.NewReader(content), ".png")
	if err != nil {
		t.Fatal(err)
	}
	v, err := f.m.Variant(ctx, u1.Alias, thumbnail10(t), magick.WEBP)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.m.Delete(ctx, u1.Alias, u1.DeleteToken); err != nil {
		t.Fatal(err)
	}
	f.m.Wait()

	if _, err := f.repo.Hash(ctx, u1.Alias); !stderrs.Is(err, pict.ErrNotFound) {
		t.Errorf("deleted alias: got %v, want ErrNotFound", err)
	}
	if _, _, err := f.m.Original(ctx, u2.Alias); err != nil {
		t.Fatalf("remaining alias: %s", err)
	}
	if n := f.store.Count(); n != 2 {
		t.Errorf("store holds %d blobs, want original and variant", n)
	}

	if err := f.m.Delete(ctx, u2.Alias, u2.DeleteToken); err != nil {
		t.Fatal(err)
	}
	f.m.Wait()

	if n := f.store.Count(); n != 0 {
		t.Errorf("store holds %d blobs after last alias deleted", n)
	}
	if _, err := f.repo.Identifier(ctx, u1.Hash); !stderrs.Is(err, pict.ErrNotFound) {
		t.Errorf("identifier: got %v, want ErrNotFound", err)
	}
	if _, err := f.repo.Details(ctx, v.Identifier); !stderrs.Is(err, pict.ErrNotFound) {
		t.Errorf("variant details: got %v, want ErrNotFound", err)
	}
}

func TestInvalidToken(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t, Options{})
	)

	u, err := f.m.Ingest(ctx, bytes.NewReader(media(1, 1, "image/png", 0, "x")), ".png")
	if err != nil {
		t.Fatal(err)
	}

	err = f.m.Delete(ctx, u.Alias, pict.GenerateDeleteToken())
	if !stderrs.Is(err, pict.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
	f.m.Wait()

	h, err := f.repo.Hash(ctx, u.Alias)
	if err != nil {
		t.Fatal(err)
	}
	if h != u.Hash {
		t.Errorf("alias now resolves to %s, want %s", h, u.Hash)
	}
	token, err := f.repo.DeleteToken(ctx, u.Alias)
	if err != nil {
		t.Fatal(err)
	}
	if !token.Equal(u.DeleteToken) {
		t.Error("delete token changed")
	}
	if n := f.store.Count(); n != 1 {
		t.Errorf("store holds %d blobs, want 1", n)
	}
}

func TestVariantCoalescing(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t, Options{})
	)
	f.conv.gate = make(chan struct{})
	f.conv.started = make(chan struct{}, 1)

	u, err := f.m.Ingest(ctx, bytes.NewReader(media(40, 30, "image/jpeg", 0, "bird")), ".jpeg")
	if err != nil {
		t.Fatal(err)
	}

	const n = 10
	var (
		wg      sync.WaitGroup
		results [n]Variant
		errs    [n]error
		chain   = thumbnail10(t)
	)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.m.Variant(ctx, u.Alias, chain, magick.PNG)
		}()
	}

	<-f.conv.started
	close(f.conv.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %s", i, errs[i])
		}
		if results[i].Identifier != results[0].Identifier {
			t.Errorf("request %d got %s, want %s", i, results[i].Identifier, results[0].Identifier)
		}
	}
	if got := f.conv.converts.Load(); got != 1 {
		t.Errorf("converted %d times, want 1", got)
	}
	if got := f.read(ctx, t, results[0].Identifier); got != string(media(40, 30, "image/png", 0, "bird -sample 10x10>")) {
		t.Errorf("got variant content %q", got)
	}
	if results[0].Details.MimeType != "image/png" {
		t.Errorf("got variant mime type %s", results[0].Details.MimeType)
	}
}

func TestVariantCancelSafety(t *testing.T) {
	var (
		ctx   = context.Background()
		f     = newFixture(t, Options{})
		chain = thumbnail10(t)
	)
	f.conv.gate = make(chan struct{})
	f.conv.started = make(chan struct{}, 1)

	u, err := f.m.Ingest(ctx, bytes.NewReader(media(40, 30, "image/jpeg", 0, "fish")), ".jpeg")
	if err != nil {
		t.Fatal(err)
	}

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan error)
	go func() {
		_, err := f.m.Variant(cctx, u.Alias, chain, magick.PNG)
		done <- err
	}()

	<-f.conv.started
	cancel()
	if err := <-done; !stderrs.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}

	close(f.conv.gate)
	f.m.Wait()

	if _, err := f.m.VariantDetails(ctx, u.Alias, chain, magick.PNG); err != nil {
		t.Fatalf("variant not recorded after canceled request: %s", err)
	}
	if _, err := f.m.Variant(ctx, u.Alias, chain, magick.PNG); err != nil {
		t.Fatal(err)
	}
	if got := f.conv.converts.Load(); got != 1 {
		t.Errorf("converted %d times, want 1", got)
	}
}

func TestVariantDetailsMissing(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t, Options{})
	)

	u, err := f.m.Ingest(ctx, bytes.NewReader(media(4, 4, "image/png", 0, "x")), ".png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.VariantDetails(ctx, u.Alias, thumbnail10(t), magick.PNG); !stderrs.Is(err, pict.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if n := f.conv.converts.Load(); n != 0 {
		t.Errorf("converted %d times, want 0", n)
	}
}

func TestVariantBlobMissing(t *testing.T) {
	var (
		ctx   = context.Background()
		f     = newFixture(t, Options{})
		chain = thumbnail10(t)
	)

	u, err := f.m.Ingest(ctx, bytes.NewReader(media(4, 4, "image/png", 0, "x")), ".png")
	if err != nil {
		t.Fatal(err)
	}
	v, err := f.m.Variant(ctx, u.Alias, chain, magick.PNG)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Remove(ctx, v.Identifier); err != nil {
		t.Fatal(err)
	}

	v2, err := f.m.Variant(ctx, u.Alias, chain, magick.PNG)
	if err != nil {
		t.Fatal(err)
	}
	if v2.Identifier == v.Identifier {
		t.Error("got the removed blob back")
	}
	if n := f.conv.converts.Load(); n != 2 {
		t.Errorf("converted %d times, want 2", n)
	}
}

func TestMotionPreview(t *testing.T) {
	var (
		ctx   = context.Background()
		f     = newFixture(t, Options{})
		chain = thumbnail10(t)
	)

	u, err := f.m.Ingest(ctx, bytes.NewReader(media(64, 48, "image/gif", 5, "dance")), ".gif")
	if err != nil {
		t.Fatal(err)
	}
	if u.Details.Frames != 5 {
		t.Errorf("got %d frames, want 5", u.Details.Frames)
	}

	v, err := f.m.Variant(ctx, u.Alias, chain, magick.JPEG)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.read(ctx, t, v.Identifier); got != string(media(64, 48, "image/jpeg", 0, "still of dance -sample 10x10>")) {
		t.Errorf("got variant content %q", got)
	}

	motion, err := f.repo.MotionIdentifier(ctx, u.Hash)
	if err != nil {
		t.Fatal(err)
	}
	d, err := f.repo.Details(ctx, motion)
	if err != nil {
		t.Fatal(err)
	}
	if d.MimeType != "image/png" {
		t.Errorf("motion preview is %s, want image/png", d.MimeType)
	}

	// A second variant reuses the motion preview.
	if _, err := f.m.Variant(ctx, u.Alias, chain, magick.WEBP); err != nil {
		t.Fatal(err)
	}
	if n := f.conv.thumbnails.Load(); n != 1 {
		t.Errorf("extracted %d stills, want 1", n)
	}
}

func TestImport(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t, Options{})
	)

	u, err := f.m.Import(ctx, bytes.NewReader(media(3, 3, "image/png", 0, "old")), "legacy-name.png")
	if err != nil {
		t.Fatal(err)
	}
	if u.Alias.IsUUID() {
		t.Errorf("imported alias %s is a UUID", u.Alias)
	}
	if got := u.Alias.String(); got != "legacy-name.png" {
		t.Errorf("got alias %s, want legacy-name.png", got)
	}

	_, err = f.m.Import(ctx, bytes.NewReader(media(3, 3, "image/png", 0, "different")), "legacy-name.png")
	if !stderrs.Is(err, pict.ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
	if n := f.store.Count(); n != 1 {
		t.Errorf("store holds %d blobs, want 1", n)
	}

	var hashes int
	err = f.repo.Hashes(ctx, func(pict.Hash) error {
		hashes++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if hashes != 1 {
		t.Errorf("repo holds %d hashes, want 1", hashes)
	}
}

func TestLimits(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t, Options{MaxWidth: 100, MaxArea: 5000, MaxFrames: 10})
	)

	cases := []struct {
		name    string
		content []byte
	}{
		{name: "width", content: media(101, 1, "image/png", 0, "wide")},
		{name: "area", content: media(100, 51, "image/png", 0, "big")},
		{name: "frames", content: media(10, 10, "image/gif", 11, "long")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.m.Ingest(ctx, bytes.NewReader(tc.content), ".png")
			if !stderrs.Is(err, ErrTooLarge) {
				t.Fatalf("got %v, want ErrTooLarge", err)
			}
			if n := f.store.Count(); n != 0 {
				t.Errorf("store holds %d blobs after rejected upload", n)
			}
			if _, err := f.repo.Identifier(ctx, pict.HashBytes(tc.content)); !stderrs.Is(err, pict.ErrNotFound) {
				t.Errorf("rejected upload left its hash behind: %v", err)
			}
		})
	}

	if _, err := f.m.Ingest(ctx, bytes.NewReader(media(100, 50, "image/png", 0, "ok")), ".png"); err != nil {
		t.Errorf("upload within limits: %s", err)
	}
}

func TestReencode(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t, Options{Format: magick.WEBP})
	)

	u, err := f.m.Ingest(ctx, bytes.NewReader(media(5, 5, "image/png", 0, "pic")), ".png")
	if err != nil {
		t.Fatal(err)
	}
	if u.Alias.Extension() != ".webp" {
		t.Errorf("got extension %s, want .webp", u.Alias.Extension())
	}
	if u.Details.MimeType != "image/webp" {
		t.Errorf("got mime type %s, want image/webp", u.Details.MimeType)
	}

	// Already in the target format, and video, are stored as is.
	if _, err := f.m.Ingest(ctx, bytes.NewReader(media(5, 5, "image/webp", 0, "pic2")), ".webp"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.Ingest(ctx, bytes.NewReader(media(5, 5, "video/mp4", 30, "clip")), ".mp4"); err != nil {
		t.Fatal(err)
	}
	if n := f.conv.converts.Load(); n != 1 {
		t.Errorf("converted %d times, want 1", n)
	}
}

func TestUnsupportedExtension(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.m.Ingest(context.Background(), strings.NewReader("x"), ".bmp")
	if !stderrs.Is(err, magick.ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestPurge(t *testing.T) {
	var (
		ctx     = context.Background()
		f       = newFixture(t, Options{})
		content = media(2, 2, "image/png", 0, "shared")
		first   Upload
	)

	for i := 0; i < 3; i++ {
		u, err := f.m.Ingest(ctx, bytes.NewReader(content), ".png")
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = u
		}
	}

	removed, err := f.m.Purge(ctx, first.Alias)
	if err != nil {
		t.Fatal(err)
	}
	f.m.Wait()

	if len(removed) != 3 {
		t.Errorf("purged %d aliases, want 3", len(removed))
	}
	if n := f.store.Count(); n != 0 {
		t.Errorf("store holds %d blobs after purge", n)
	}
	if _, err := f.m.Aliases(ctx, first.Alias); !stderrs.Is(err, pict.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSweep(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t, Options{})
	)

	orphan, err := f.m.Ingest(ctx, bytes.NewReader(media(2, 2, "image/png", 0, "orphan")), ".png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.Ingest(ctx, bytes.NewReader(media(2, 2, "image/png", 0, "live")), ".png"); err != nil {
		t.Fatal(err)
	}

	// Delete the alias without the follow-up cleanup,
	// as a crash between the two would.
	if _, err := f.repo.DeleteAlias(ctx, orphan.Alias, orphan.DeleteToken); err != nil {
		t.Fatal(err)
	}
	if n := f.store.Count(); n != 2 {
		t.Fatalf("store holds %d blobs, want 2", n)
	}

	removed, err := f.m.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("swept %d hashes, want 1", removed)
	}
	if n := f.store.Count(); n != 1 {
		t.Errorf("store holds %d blobs after sweep, want 1", n)
	}
}

func TestOriginalLazyDetails(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t, Options{})
	)

	u, err := f.m.Ingest(ctx, bytes.NewReader(media(7, 9, "image/jpeg", 0, "x")), ".jpeg")
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a migrated file whose details were never recorded.
	if err := f.repo.CleanupIdentifier(ctx, u.Identifier); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		id, d, err := f.m.Original(ctx, u.Alias)
		if err != nil {
			t.Fatal(err)
		}
		if id != u.Identifier {
			t.Errorf("got identifier %s, want %s", id, u.Identifier)
		}
		if d.Width != 7 || d.Height != 9 {
			t.Errorf("got %dx%d, want 7x9", d.Width, d.Height)
		}
	}
	if n := f.conv.details.Load(); n != 2 {
		t.Errorf("details computed %d times, want 2 (ingest and first lookup)", n)
	}
}

// Takes every conversion permit until the returned function is called.
func holdPermits(t *testing.T) func() {
	t.Helper()

	var releases []func()
	for i := int64(0); i < processor.Permits; i++ {
		release, err := processor.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		releases = append(releases, release)
	}

	var once sync.Once
	releaseAll := func() {
		once.Do(func() {
			for _, release := range releases {
				release()
			}
		})
	}
	t.Cleanup(releaseAll)
	return releaseAll
}

func TestIngestHoldsPermit(t *testing.T) {
	var (
		ctx     = context.Background()
		f       = newFixture(t, Options{Format: magick.WEBP})
		content = media(12, 8, "image/png", 0, "queued")
	)

	releaseAll := holdPermits(t)

	calls := []struct {
		name string
		f    func(context.Context) error
	}{{
		name: "ingest",
		f: func(ctx context.Context) error {
			_, err := f.m.Ingest(ctx, bytes.NewReader(content), ".webp")
			return err
		},
	}, {
		name: "ingest-reencode",
		f: func(ctx context.Context) error {
			_, err := f.m.Ingest(ctx, bytes.NewReader(content), ".png")
			return err
		},
	}, {
		name: "import",
		f: func(ctx context.Context) error {
			_, err := f.m.Import(ctx, bytes.NewReader(content), "queued.png")
			return err
		},
	}}
	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			if err := c.f(tctx); !stderrs.Is(err, context.DeadlineExceeded) {
				t.Errorf("got %v, want context.DeadlineExceeded", err)
			}
		})
	}
	if n := f.conv.details.Load(); n != 0 {
		t.Errorf("identified %d times with no permit free, want 0", n)
	}
	if n := f.conv.converts.Load(); n != 0 {
		t.Errorf("converted %d times with no permit free, want 0", n)
	}
	if n := f.store.Count(); n != 0 {
		t.Errorf("store holds %d blobs, want 0", n)
	}

	releaseAll()
	if _, err := f.m.Import(ctx, bytes.NewReader(content), "queued.png"); err != nil {
		t.Fatal(err)
	}
	if n := f.conv.details.Load(); n != 1 {
		t.Errorf("identified %d times, want 1", n)
	}
}

func TestLazyDetailsHoldPermit(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t, Options{})
	)

	u, err := f.m.Ingest(ctx, bytes.NewReader(media(7, 9, "image/jpeg", 0, "late")), ".jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.repo.CleanupIdentifier(ctx, u.Identifier); err != nil {
		t.Fatal(err)
	}

	releaseAll := holdPermits(t)

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, _, err := f.m.Original(tctx, u.Alias); !stderrs.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
	if n := f.conv.details.Load(); n != 1 {
		t.Errorf("identified %d times, want 1 (ingest only)", n)
	}

	releaseAll()
	if _, _, err := f.m.Original(ctx, u.Alias); err != nil {
		t.Fatal(err)
	}
	if n := f.conv.details.Load(); n != 2 {
		t.Errorf("identified %d times, want 2", n)
	}
}

func TestVariantFailureReturnedNotLogged(t *testing.T) {
	var (
		ctx        = context.Background()
		f          = newFixture(t, Options{})
		errConvert = stderrs.New("converter crashed")
	)

	u, err := f.m.Ingest(ctx, bytes.NewReader(media(40, 30, "image/png", 0, "eel")), ".png")
	if err != nil {
		t.Fatal(err)
	}
	f.conv.convertErr = errConvert

	if _, err := f.m.Variant(ctx, u.Alias, thumbnail10(t), magick.PNG); !stderrs.Is(err, errConvert) {
		t.Errorf("got %v, want the converter's error", err)
	}
	f.m.Wait()

	if n := f.logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != 0 {
		t.Errorf("got %d error log entries for a failure returned to the caller, want 0", n)
	}
}
