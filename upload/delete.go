package upload

import (
	"context"
	stderrs "errors"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/pict"
	"github.com/bobg/pict/gc"
)

// Delete removes alias if token is its delete token.
// If that leaves the file with no aliases,
// its blobs and metadata are removed in the background;
// see Wait.
func (m *Manager) Delete(ctx context.Context, alias pict.Alias, token pict.DeleteToken) error {
	h, err := m.repo.DeleteAlias(ctx, alias, token)
	if err != nil {
		return errors.Wrapf(err, "deleting %s", alias)
	}
	m.logger.Debug("deleted alias", zap.Stringer("alias", alias), zap.Stringer("hash", h))

	detached := context.WithoutCancel(ctx)
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		m.cleanup(detached, h)
	}()
	return nil
}

func (m *Manager) cleanup(ctx context.Context, h pict.Hash) {
	unlock, err := m.locks.Lock(ctx, h)
	if err != nil {
		m.logger.Error("locking hash for cleanup", zap.Stringer("hash", h), zap.Error(err))
		return
	}
	defer unlock()

	removed, err := gc.IfUnreferenced(ctx, m.repo, m.store, h)
	if err != nil {
		// Left for a later sweep.
		m.logger.Error("removing unreferenced hash", zap.Stringer("hash", h), zap.Error(err))
		return
	}
	if removed {
		m.logger.Debug("removed unreferenced hash", zap.Stringer("hash", h))
	}
}

// DeleteWithoutToken removes alias as Delete does,
// without requiring its delete token.
func (m *Manager) DeleteWithoutToken(ctx context.Context, alias pict.Alias) error {
	token, err := m.repo.DeleteToken(ctx, alias)
	if err != nil {
		return errors.Wrapf(err, "getting delete token of %s", alias)
	}
	return m.Delete(ctx, alias, token)
}

// Purge removes every alias of the file alias refers to,
// and so the file itself.
// It returns the aliases removed.
func (m *Manager) Purge(ctx context.Context, alias pict.Alias) ([]pict.Alias, error) {
	aliases, err := m.Aliases(ctx, alias)
	if err != nil {
		return nil, err
	}
	var removed []pict.Alias
	for _, a := range aliases {
		err := m.DeleteWithoutToken(ctx, a)
		if stderrs.Is(err, pict.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed = append(removed, a)
	}
	return removed, nil
}

// Sweep removes files left with no aliases,
// as happens when cleanup after a deletion is interrupted.
// It is safe to run alongside other Manager operations.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return gc.Run(ctx, m.repo, m.store, &m.locks, m.logger)
}
