// Package gc removes the blobs and metadata of hashes that no alias refers to.
//
// Deleting an alias is transactional,
// but removing the hash it leaves unreferenced is a separate, later step.
// A crash in between leaves an orphaned hash:
// one with no aliases but with live blobs and metadata.
// Hash is that later step, and Run is the sweep that finds and finishes orphans.
package gc

import (
	"context"
	stderrs "errors"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/pict"
)

// Hash removes every blob belonging to h
// (its original, its motion preview, and its variants)
// and then all of h's metadata.
// Blobs that are already gone are not an error,
// so Hash may be retried after a partial failure.
// Metadata is removed only after all blobs are,
// so a failed Hash leaves h findable by a later sweep.
func Hash(ctx context.Context, repo pict.FullRepo, store pict.Store, h pict.Hash) error {
	ids, err := identifiers(ctx, repo, h)
	if err != nil {
		return err
	}

	for _, id := range ids {
		err := store.Remove(ctx, id)
		if err != nil && !stderrs.Is(err, pict.ErrNotFound) {
			return errors.Wrapf(err, "removing blob %s of %s", id, h)
		}
	}
	for _, id := range ids {
		if err := repo.CleanupIdentifier(ctx, id); err != nil {
			return errors.Wrapf(err, "cleaning up identifier %s of %s", id, h)
		}
	}
	return errors.Wrapf(repo.CleanupHash(ctx, h), "cleaning up %s", h)
}

func identifiers(ctx context.Context, repo pict.HashRepo, h pict.Hash) ([]pict.Identifier, error) {
	var ids []pict.Identifier

	id, err := repo.Identifier(ctx, h)
	switch {
	case stderrs.Is(err, pict.ErrNotFound):
	case err != nil:
		return nil, errors.Wrapf(err, "getting identifier of %s", h)
	default:
		ids = append(ids, id)
	}

	id, err = repo.MotionIdentifier(ctx, h)
	switch {
	case stderrs.Is(err, pict.ErrNotFound):
	case err != nil:
		return nil, errors.Wrapf(err, "getting motion identifier of %s", h)
	default:
		ids = append(ids, id)
	}

	variants, err := repo.Variants(ctx, h)
	if err != nil {
		return nil, errors.Wrapf(err, "getting variants of %s", h)
	}
	for _, v := range variants {
		ids = append(ids, v.Identifier)
	}

	return ids, nil
}

// Run removes every hash in repo that has no aliases.
// It reports the number of hashes removed.
//
// When guard is non-nil,
// each hash is locked with it while Run decides whether to remove it and removes it,
// so that code attaching a new alias to an existing hash under the same guard
// cannot race with its removal.
// A failure to remove one hash is logged and does not stop the sweep.
func Run(ctx context.Context, repo pict.FullRepo, store pict.Store, guard Guard, logger *zap.Logger) (int, error) {
	var removed int
	err := repo.Hashes(ctx, func(h pict.Hash) error {
		ok, err := sweep(ctx, repo, store, guard, h)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("removing orphaned hash", zap.Stringer("hash", h), zap.Error(err))
			return nil
		}
		if ok {
			logger.Info("removed orphaned hash", zap.Stringer("hash", h))
			removed++
		}
		return nil
	})
	return removed, errors.Wrap(err, "sweeping hashes")
}

func sweep(ctx context.Context, repo pict.FullRepo, store pict.Store, guard Guard, h pict.Hash) (bool, error) {
	if guard != nil {
		unlock, err := guard.Lock(ctx, h)
		if err != nil {
			return false, err
		}
		defer unlock()
	}
	return IfUnreferenced(ctx, repo, store, h)
}

// IfUnreferenced calls Hash on h if h has no aliases,
// reporting whether it did.
// Callers serializing with a Guard must hold h's lock.
func IfUnreferenced(ctx context.Context, repo pict.FullRepo, store pict.Store, h pict.Hash) (bool, error) {
	aliases, err := repo.Aliases(ctx, h)
	if err != nil {
		return false, errors.Wrapf(err, "getting aliases of %s", h)
	}
	if len(aliases) > 0 {
		return false, nil
	}
	return true, Hash(ctx, repo, store, h)
}
