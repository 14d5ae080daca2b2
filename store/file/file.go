// Package file implements a blob store as a file hierarchy.
//
// Each blob lives in a directory of its own,
// allocated by a Generator whose cursor is persisted in the metadata repository
// so that a restarted process resumes where the last one stopped.
package file

import (
	"bytes"
	"context"
	stderrs "errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bobg/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bobg/pict"
	"github.com/bobg/pict/store"
)

// GeneratorKey is the settings key under which the path cursor is persisted.
const GeneratorKey = "last-path"

var _ pict.Store = &Store{}

// Store is a file-based implementation of a blob store.
type Store struct {
	root     string
	settings pict.SettingsRepo
	gen      *Generator

	mu      sync.Mutex // serializes cursor allocation within this process
	flocker flock.Locker
}

// New produces a new Store storing data beneath root,
// resuming the path cursor recorded in settings.
func New(ctx context.Context, root string, settings pict.SettingsRepo) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "ensuring path %s exists", root)
	}
	start, err := loadCursor(ctx, settings)
	if err != nil {
		return nil, err
	}
	return &Store{
		root:     root,
		settings: settings,
		gen:      NewGenerator(start),
	}, nil
}

func loadCursor(ctx context.Context, settings pict.SettingsRepo) (Path, error) {
	b, err := settings.GetSetting(ctx, GeneratorKey)
	if stderrs.Is(err, pict.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading path cursor")
	}
	p, err := PathFromBytes(b)
	return p, errors.Wrap(err, "decoding path cursor")
}

func (s *Store) lockPath() string {
	return filepath.Join(s.root, GeneratorKey+".lock")
}

// nextDirectory allocates a fresh directory path and persists the cursor.
// Other processes sharing the root and the repository
// may have advanced the cursor, so it is reloaded under the file lock.
func (s *Store) nextDirectory(ctx context.Context) (Path, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockPath := s.lockPath()
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "creating lock file %s", lockPath)
	}
	lf.Close()

	if err := s.flocker.Lock(lockPath); err != nil {
		return nil, errors.Wrap(err, "locking path cursor")
	}
	defer s.flocker.Unlock(lockPath)

	cur, err := loadCursor(ctx, s.settings)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		s.gen.Reset(cur)
	}

	next := s.gen.Next()
	if err := s.settings.SetSetting(ctx, GeneratorKey, next.Bytes()); err != nil {
		return nil, errors.Wrap(err, "persisting path cursor")
	}
	return next, nil
}

func (s *Store) abspath(id pict.Identifier) (string, error) {
	rel := id.String()
	if rel == "" || !utf8.ValidString(rel) {
		return "", errors.Wrapf(pict.ErrMalformed, "file identifier %q", rel)
	}
	if path.IsAbs(rel) || strings.Contains(rel, `\`) {
		return "", errors.Wrapf(pict.ErrMalformed, "file identifier %q is not relative", rel)
	}
	for _, elem := range strings.Split(rel, "/") {
		if elem == ".." || elem == "." || elem == "" {
			return "", errors.Wrapf(pict.ErrMalformed, "file identifier %q is not clean", rel)
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

// Save implements pict.Store.Save.
func (s *Store) Save(ctx context.Context, r io.Reader) (pict.Identifier, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir, err := s.nextDirectory(ctx)
	if err != nil {
		return "", err
	}

	id := pict.Identifier(path.Join(dir.String(), uuid.New().String()))
	abs, err := s.abspath(id)
	if err != nil {
		return "", err
	}

	if err := s.saveFile(ctx, abs, r); err != nil {
		s.removeParents(filepath.Dir(abs))
		return "", err
	}
	return id, nil
}

func (s *Store) saveFile(ctx context.Context, abs string, r io.Reader) error {
	absdir := filepath.Dir(abs)
	if err := os.MkdirAll(absdir, 0755); err != nil {
		return errors.Wrapf(err, "ensuring path %s exists", absdir)
	}

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if os.IsExist(err) {
		return errors.Wrapf(pict.ErrFileExists, "creating %s", abs)
	}
	if err != nil {
		return errors.Wrapf(err, "creating %s", abs)
	}

	_, err = io.Copy(f, ctxReader{ctx: ctx, r: r})
	if err != nil {
		f.Close()
		os.Remove(abs)
		return errors.Wrapf(err, "writing data to %s", abs)
	}
	if err = f.Close(); err != nil {
		os.Remove(abs)
		return errors.Wrapf(err, "closing %s", abs)
	}
	return nil
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(buf []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(buf)
}

// SaveBytes implements pict.Store.SaveBytes.
func (s *Store) SaveBytes(ctx context.Context, b []byte) (pict.Identifier, error) {
	return s.Save(ctx, bytes.NewReader(b))
}

type limitedFile struct {
	io.Reader
	f *os.File
}

func (l limitedFile) Close() error {
	return l.f.Close()
}

// Stream implements pict.Store.Stream.
func (s *Store) Stream(_ context.Context, id pict.Identifier, offset, length int64) (io.ReadCloser, error) {
	abs, err := s.abspath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(pict.ErrNotFound, "opening %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", abs)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "seeking to %d in %s", offset, abs)
		}
	}
	if length < 0 {
		return f, nil
	}
	return limitedFile{Reader: io.LimitReader(f, length), f: f}, nil
}

// ReadInto implements pict.Store.ReadInto.
func (s *Store) ReadInto(ctx context.Context, id pict.Identifier, w io.Writer) error {
	rc, err := s.Stream(ctx, id, 0, -1)
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(w, rc)
	return errors.Wrapf(err, "copying %s", id)
}

// Len implements pict.Store.Len.
func (s *Store) Len(_ context.Context, id pict.Identifier) (int64, error) {
	abs, err := s.abspath(id)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return 0, errors.Wrapf(pict.ErrNotFound, "statting %s", id)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "statting %s", abs)
	}
	return info.Size(), nil
}

// Remove implements pict.Store.Remove.
// Directories left empty are removed too, up to but not including the root.
func (s *Store) Remove(_ context.Context, id pict.Identifier) error {
	abs, err := s.abspath(id)
	if err != nil {
		return err
	}
	err = os.Remove(abs)
	if os.IsNotExist(err) {
		return errors.Wrapf(pict.ErrNotFound, "removing %s", id)
	}
	if err != nil {
		return errors.Wrapf(err, "removing %s", abs)
	}
	s.removeParents(filepath.Dir(abs))
	return nil
}

// removeParents removes dir and its ancestors while they are empty,
// stopping at the root.
// Failure (typically a non-empty directory) just ends the walk.
func (s *Store) removeParents(dir string) {
	root := filepath.Clean(s.root)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !strings.HasPrefix(dir, root+string(filepath.Separator)) {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func init() {
	store.Register("file", func(ctx context.Context, conf map[string]interface{}, settings pict.SettingsRepo) (pict.Store, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		s, err := New(ctx, root, settings)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
