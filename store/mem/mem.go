// Package mem implements an in-memory blob store.
package mem

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bobg/pict"
	"github.com/bobg/pict/store"
)

var _ pict.Store = &Store{}

// Store is a memory-based implementation of a blob store.
type Store struct {
	mu    sync.Mutex
	blobs map[pict.Identifier][]byte
}

// New produces a new Store.
func New() *Store {
	return &Store{blobs: make(map[pict.Identifier][]byte)}
}

// Save implements pict.Store.Save.
func (s *Store) Save(ctx context.Context, r io.Reader) (pict.Identifier, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, "reading blob")
	}
	return s.SaveBytes(ctx, b)
}

// SaveBytes implements pict.Store.SaveBytes.
func (s *Store) SaveBytes(_ context.Context, b []byte) (pict.Identifier, error) {
	id := pict.Identifier(uuid.New().String())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; ok {
		return "", errors.Wrapf(pict.ErrFileExists, "saving %s", id)
	}
	s.blobs[id] = append([]byte(nil), b...)
	return id, nil
}

// Caller must obtain a lock.
func (s *Store) get(id pict.Identifier) ([]byte, error) {
	if b, ok := s.blobs[id]; ok {
		return b, nil
	}
	return nil, errors.Wrapf(pict.ErrNotFound, "blob %s", id)
}

// Stream implements pict.Store.Stream.
func (s *Store) Stream(_ context.Context, id pict.Identifier, offset, length int64) (io.ReadCloser, error) {
	s.mu.Lock()
	b, err := s.get(id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Stored slices are never modified, so b may be read without the lock.
	if offset > int64(len(b)) {
		offset = int64(len(b))
	}
	b = b[offset:]
	if length >= 0 && length < int64(len(b)) {
		b = b[:length]
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// ReadInto implements pict.Store.ReadInto.
func (s *Store) ReadInto(_ context.Context, id pict.Identifier, w io.Writer) error {
	s.mu.Lock()
	b, err := s.get(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return errors.Wrapf(err, "writing %s", id)
}

// Len implements pict.Store.Len.
func (s *Store) Len(_ context.Context, id pict.Identifier) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.get(id)
	return int64(len(b)), err
}

// Remove implements pict.Store.Remove.
func (s *Store) Remove(_ context.Context, id pict.Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(id); err != nil {
		return err
	}
	delete(s.blobs, id)
	return nil
}

// Count reports the number of blobs in the store.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.blobs)
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}, pict.SettingsRepo) (pict.Store, error) {
		return New(), nil
	})
}
