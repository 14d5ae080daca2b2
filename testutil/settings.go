package testutil

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
)

var _ pict.SettingsRepo = &Settings{}

// Settings is an in-memory pict.SettingsRepo for tests of components
// that need settings but not a whole repository.
type Settings struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (s *Settings) SetSetting(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m == nil {
		s.m = make(map[string][]byte)
	}
	s.m[key] = append([]byte(nil), value...)
	return nil
}

func (s *Settings) GetSetting(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.m[key]
	if !ok {
		return nil, errors.Wrapf(pict.ErrNotFound, "setting %s", key)
	}
	return append([]byte(nil), v...), nil
}

func (s *Settings) RemoveSetting(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.m, key)
	return nil
}
