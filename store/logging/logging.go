// Package logging implements a store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/pict"
	"github.com/bobg/pict/store"
)

var _ pict.Store = &Store{}

type Store struct {
	s      pict.Store
	logger *zap.Logger
}

func New(s pict.Store, logger *zap.Logger) *Store {
	return &Store{s: s, logger: logger}
}

func (s *Store) log(op string, id pict.Identifier, err error, fields ...zap.Field) {
	fields = append(fields, zap.Stringer("identifier", id))
	if err != nil {
		s.logger.Error(op, append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug(op, fields...)
}

// countingReader counts the bytes passing through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(buf []byte) (int, error) {
	n, err := c.r.Read(buf)
	c.n += int64(n)
	return n, err
}

func (s *Store) Save(ctx context.Context, r io.Reader) (pict.Identifier, error) {
	cr := &countingReader{r: r}
	id, err := s.s.Save(ctx, cr)
	s.log("Save", id, err, zap.Int64("bytes", cr.n))
	return id, err
}

func (s *Store) SaveBytes(ctx context.Context, b []byte) (pict.Identifier, error) {
	id, err := s.s.SaveBytes(ctx, b)
	s.log("SaveBytes", id, err, zap.Int("bytes", len(b)))
	return id, err
}

func (s *Store) Stream(ctx context.Context, id pict.Identifier, offset, length int64) (io.ReadCloser, error) {
	r, err := s.s.Stream(ctx, id, offset, length)
	s.log("Stream", id, err, zap.Int64("offset", offset), zap.Int64("length", length))
	return r, err
}

func (s *Store) ReadInto(ctx context.Context, id pict.Identifier, w io.Writer) error {
	err := s.s.ReadInto(ctx, id, w)
	s.log("ReadInto", id, err)
	return err
}

func (s *Store) Len(ctx context.Context, id pict.Identifier) (int64, error) {
	n, err := s.s.Len(ctx, id)
	s.log("Len", id, err, zap.Int64("len", n))
	return n, err
}

func (s *Store) Remove(ctx context.Context, id pict.Identifier) error {
	err := s.s.Remove(ctx, id)
	s.log("Remove", id, err)
	return err
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}, settings pict.SettingsRepo) (pict.Store, error) {
		nested, ok := conf["nested"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "nested" parameter`)
		}
		nestedType, ok := nested["type"].(string)
		if !ok {
			return nil, errors.New(`"nested" parameter missing "type"`)
		}
		nestedStore, err := store.Create(ctx, nestedType, nested, settings)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested store")
		}
		logger := zap.L()
		if l, ok := conf["logger"].(*zap.Logger); ok {
			logger = l
		}
		return New(nestedStore, logger.Named("store")), nil
	})
}
