// Package migrate copies metadata from the legacy layout into a repository.
//
// Migration runs once:
// on success it records a marker setting,
// and later runs see the marker and return immediately.
// A hash that fails to migrate is logged and skipped.
package migrate

import (
	"context"
	stderrs "errors"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/pict"
	"github.com/bobg/pict/repo/legacy"
)

// Settings keys.
const (
	// MarkerKey is set once migration is complete.
	MarkerKey = "repo-migration-01"

	GeneratorKey      = "last-path"
	StoreMigrationKey = "store-migration-progress"
)

// Run migrates old into repo unless that has already happened.
func Run(ctx context.Context, repo pict.FullRepo, old legacy.Repo, logger *zap.Logger) error {
	_, err := repo.GetSetting(ctx, MarkerKey)
	if err == nil {
		logger.Debug("repo already migrated")
		return nil
	}
	if !stderrs.Is(err, pict.ErrNotFound) {
		return errors.Wrap(err, "checking migration marker")
	}

	var migrated, failed int
	err = old.Hashes(ctx, func(h pict.Hash) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := migrateHash(ctx, repo, old, h); err != nil {
			logger.Warn("failed to migrate hash", zap.Stringer("hash", h), zap.Error(err))
			failed++
			return nil
		}
		migrated++
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "enumerating legacy hashes")
	}

	for _, key := range []string{GeneratorKey, StoreMigrationKey} {
		if err := copySetting(ctx, repo, old, key); err != nil {
			return err
		}
	}

	logger.Info("migrated repo", zap.Int("hashes", migrated), zap.Int("failed", failed))

	return errors.Wrap(repo.SetSetting(ctx, MarkerKey, []byte("1")), "setting migration marker")
}

func copySetting(ctx context.Context, repo pict.SettingsRepo, old legacy.Repo, key string) error {
	v, err := old.Setting(ctx, key)
	if stderrs.Is(err, pict.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading legacy setting %s", key)
	}
	return errors.Wrapf(repo.SetSetting(ctx, key, v), "copying setting %s", key)
}

// NormalizeIdentifier strips the leading "files" component
// that legacy paths carry and current file-store identifiers do not.
func NormalizeIdentifier(id pict.Identifier) pict.Identifier {
	if s := id.String(); strings.HasPrefix(s, "files/") {
		return pict.Identifier(strings.TrimPrefix(s, "files/"))
	}
	return id
}

// legacyHash is everything the legacy repo knows about one hash.
type legacyHash struct {
	identifier pict.Identifier
	aliases    []legacy.Alias
	motion     pict.Identifier // empty if none
	variants   []pict.Variant
	details    map[pict.Identifier]pict.Details
}

func readHash(ctx context.Context, old legacy.Repo, h pict.Hash) (*legacyHash, error) {
	var (
		lh  legacyHash
		err error
	)
	if lh.identifier, err = old.Identifier(ctx, h); err != nil {
		return nil, errors.Wrap(err, "getting legacy identifier")
	}
	if lh.aliases, err = old.Aliases(ctx, h); err != nil {
		return nil, errors.Wrap(err, "getting legacy aliases")
	}
	lh.motion, err = old.MotionIdentifier(ctx, h)
	if err != nil && !stderrs.Is(err, pict.ErrNotFound) {
		return nil, errors.Wrap(err, "getting legacy motion identifier")
	}
	if lh.variants, err = old.Variants(ctx, h); err != nil {
		return nil, errors.Wrap(err, "getting legacy variants")
	}
	if lh.details, err = old.Details(ctx, h); err != nil {
		return nil, errors.Wrap(err, "getting legacy details")
	}
	return &lh, nil
}

// migrateHash reads everything about h first,
// so a hash that cannot be read leaves no trace in repo.
func migrateHash(ctx context.Context, repo pict.FullRepo, old legacy.Repo, h pict.Hash) error {
	lh, err := readHash(ctx, old, h)
	if err != nil {
		return err
	}

	err = repo.CreateHash(ctx, h)
	if stderrs.Is(err, pict.ErrAlreadyExists) {
		// Migrated by an earlier, interrupted run.
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "creating hash")
	}

	if err = writeHash(ctx, repo, h, lh); err != nil {
		if cerr := repo.CleanupHash(ctx, h); cerr != nil {
			return errors.Wrapf(err, "cleanup also failed (%s)", cerr)
		}
		return err
	}
	return nil
}

func writeHash(ctx context.Context, repo pict.FullRepo, h pict.Hash, lh *legacyHash) error {
	if err := repo.RelateIdentifier(ctx, h, NormalizeIdentifier(lh.identifier)); err != nil {
		return errors.Wrap(err, "relating identifier")
	}
	for _, a := range lh.aliases {
		if err := migrateAlias(ctx, repo, h, a); err != nil {
			return errors.Wrapf(err, "migrating alias %s", a.Alias)
		}
	}
	if lh.motion != "" {
		if err := repo.RelateMotionIdentifier(ctx, h, NormalizeIdentifier(lh.motion)); err != nil {
			return errors.Wrap(err, "relating motion identifier")
		}
	}
	for _, v := range lh.variants {
		if err := repo.RelateVariantIdentifier(ctx, h, v.Key, NormalizeIdentifier(v.Identifier)); err != nil {
			return errors.Wrapf(err, "relating variant %s", v.Key)
		}
	}
	for id, d := range lh.details {
		if err := repo.RelateDetails(ctx, NormalizeIdentifier(id), d); err != nil {
			return errors.Wrapf(err, "relating details of %s", id)
		}
	}
	return nil
}

func migrateAlias(ctx context.Context, repo pict.FullRepo, h pict.Hash, a legacy.Alias) error {
	err := repo.CreateAlias(ctx, a.Alias)
	if stderrs.Is(err, pict.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	if err = repo.RelateHash(ctx, a.Alias, h); err != nil {
		return err
	}
	if err = repo.RelateAlias(ctx, h, a.Alias); err != nil {
		return err
	}
	if !a.HasToken {
		return nil
	}
	err = repo.RelateDeleteToken(ctx, a.Alias, a.Token)
	if stderrs.Is(err, pict.ErrAlreadyExists) {
		return nil
	}
	return err
}
