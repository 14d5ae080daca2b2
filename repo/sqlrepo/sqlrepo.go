// Package sqlrepo implements the metadata repository on a SQL database,
// as a set of named trees in a single ordered key-value table.
// Dialect packages (repo/sqlite3, repo/pg) supply the database and its schema.
package sqlrepo

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
)

// Tree names.
const (
	settingsTree               = "settings"
	identifierDetailsTree      = "identifier-details"
	hashesTree                 = "hashes"
	hashAliasesTree            = "hash-aliases"
	hashIdentifiersTree        = "hash-identifiers"
	hashVariantIdentifiersTree = "hash-variant-identifiers"
	hashMotionIdentifiersTree  = "hash-motion-identifiers"
	aliasesTree                = "aliases"
	aliasDeleteTokensTree      = "alias-delete-tokens"
	aliasHashesTree            = "alias-hashes"
)

// HashPageSize is the number of hashes Hashes reads per query.
var HashPageSize = 100

var _ pict.FullRepo = &Repo{}

// Repo is a SQL-based metadata repository.
type Repo struct {
	db *sql.DB
}

// New produces a new Repo using db for storage.
// It executes schema,
// which must create the kv table described by Schema if it does not exist.
func New(ctx context.Context, db *sql.DB, schema string) (*Repo, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, errors.Wrap(err, "creating schema")
	}
	return &Repo{db: db}, nil
}

// DB returns the underlying database.
func (r *Repo) DB() *sql.DB {
	return r.db
}

// Close closes the underlying database.
func (r *Repo) Close() error {
	return r.db.Close()
}

// withTx runs f in a transaction,
// committing if f succeeds and rolling back otherwise.
func (r *Repo) withTx(ctx context.Context, f func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func aliasKey(a pict.Alias) []byte {
	return []byte(a.String())
}

func hashAliasKey(h pict.Hash, a pict.Alias) []byte {
	return append(h.Bytes(), a.String()...)
}

func hashVariantKey(h pict.Hash, variant string) []byte {
	return append(h.Bytes(), variant...)
}

// SetSetting implements pict.SettingsRepo.
func (r *Repo) SetSetting(ctx context.Context, key string, value []byte) error {
	return Put(ctx, r.db, settingsTree, []byte(key), value)
}

// GetSetting implements pict.SettingsRepo.
func (r *Repo) GetSetting(ctx context.Context, key string) ([]byte, error) {
	v, err := Get(ctx, r.db, settingsTree, []byte(key))
	return v, errors.Wrapf(err, "getting setting %s", key)
}

// RemoveSetting implements pict.SettingsRepo.
func (r *Repo) RemoveSetting(ctx context.Context, key string) error {
	return Delete(ctx, r.db, settingsTree, []byte(key))
}

// RelateDetails implements pict.IdentifierRepo.
func (r *Repo) RelateDetails(ctx context.Context, id pict.Identifier, details pict.Details) error {
	b, err := details.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encoding details")
	}
	return Put(ctx, r.db, identifierDetailsTree, id.Bytes(), b)
}

// Details implements pict.IdentifierRepo.
func (r *Repo) Details(ctx context.Context, id pict.Identifier) (pict.Details, error) {
	var details pict.Details

	b, err := Get(ctx, r.db, identifierDetailsTree, id.Bytes())
	if err != nil {
		return details, errors.Wrapf(err, "getting details of %s", id)
	}
	err = details.UnmarshalBinary(b)
	return details, errors.Wrapf(err, "decoding details of %s", id)
}

// CleanupIdentifier implements pict.IdentifierRepo.
func (r *Repo) CleanupIdentifier(ctx context.Context, id pict.Identifier) error {
	return Delete(ctx, r.db, identifierDetailsTree, id.Bytes())
}

// Hashes implements pict.HashRepo.
func (r *Repo) Hashes(ctx context.Context, f func(pict.Hash) error) error {
	return Keys(ctx, r.db, hashesTree, len(pict.Zero), HashPageSize, func(k []byte) error {
		h, err := pict.HashFromBytes(k)
		if err != nil {
			return err
		}
		return f(h)
	})
}

// CreateHash implements pict.HashRepo.
func (r *Repo) CreateHash(ctx context.Context, h pict.Hash) error {
	added, err := Insert(ctx, r.db, hashesTree, h.Bytes(), nil)
	if err != nil {
		return err
	}
	if !added {
		return errors.Wrapf(pict.ErrAlreadyExists, "hash %s", h)
	}
	return nil
}

// RelateAlias implements pict.HashRepo.
func (r *Repo) RelateAlias(ctx context.Context, h pict.Hash, a pict.Alias) error {
	return Put(ctx, r.db, hashAliasesTree, hashAliasKey(h, a), nil)
}

// RemoveAlias implements pict.HashRepo.
func (r *Repo) RemoveAlias(ctx context.Context, h pict.Hash, a pict.Alias) error {
	return Delete(ctx, r.db, hashAliasesTree, hashAliasKey(h, a))
}

// Aliases implements pict.HashRepo.
func (r *Repo) Aliases(ctx context.Context, h pict.Hash) ([]pict.Alias, error) {
	return aliases(ctx, r.db, h)
}

func aliases(ctx context.Context, q Querier, h pict.Hash) ([]pict.Alias, error) {
	var out []pict.Alias
	err := ScanPrefix(ctx, q, hashAliasesTree, h.Bytes(), func(k, _ []byte) error {
		out = append(out, pict.AliasFromExisting(string(k[len(h):])))
		return nil
	})
	return out, errors.Wrapf(err, "listing aliases of %s", h)
}

func (r *Repo) getIdentifier(ctx context.Context, tree string, k []byte) (pict.Identifier, error) {
	b, err := Get(ctx, r.db, tree, k)
	if err != nil {
		return "", err
	}
	return pict.IdentifierFromBytes(b)
}

// RelateIdentifier implements pict.HashRepo.
func (r *Repo) RelateIdentifier(ctx context.Context, h pict.Hash, id pict.Identifier) error {
	return Put(ctx, r.db, hashIdentifiersTree, h.Bytes(), id.Bytes())
}

// Identifier implements pict.HashRepo.
func (r *Repo) Identifier(ctx context.Context, h pict.Hash) (pict.Identifier, error) {
	id, err := r.getIdentifier(ctx, hashIdentifiersTree, h.Bytes())
	return id, errors.Wrapf(err, "getting identifier of %s", h)
}

// RelateVariantIdentifier implements pict.HashRepo.
func (r *Repo) RelateVariantIdentifier(ctx context.Context, h pict.Hash, variant string, id pict.Identifier) error {
	return Put(ctx, r.db, hashVariantIdentifiersTree, hashVariantKey(h, variant), id.Bytes())
}

// VariantIdentifier implements pict.HashRepo.
func (r *Repo) VariantIdentifier(ctx context.Context, h pict.Hash, variant string) (pict.Identifier, error) {
	id, err := r.getIdentifier(ctx, hashVariantIdentifiersTree, hashVariantKey(h, variant))
	return id, errors.Wrapf(err, "getting variant %s of %s", variant, h)
}

// Variants implements pict.HashRepo.
func (r *Repo) Variants(ctx context.Context, h pict.Hash) ([]pict.Variant, error) {
	var out []pict.Variant
	err := ScanPrefix(ctx, r.db, hashVariantIdentifiersTree, h.Bytes(), func(k, v []byte) error {
		id, err := pict.IdentifierFromBytes(v)
		if err != nil {
			return err
		}
		out = append(out, pict.Variant{Key: string(k[len(h):]), Identifier: id})
		return nil
	})
	return out, errors.Wrapf(err, "listing variants of %s", h)
}

// RelateMotionIdentifier implements pict.HashRepo.
func (r *Repo) RelateMotionIdentifier(ctx context.Context, h pict.Hash, id pict.Identifier) error {
	return Put(ctx, r.db, hashMotionIdentifiersTree, h.Bytes(), id.Bytes())
}

// MotionIdentifier implements pict.HashRepo.
func (r *Repo) MotionIdentifier(ctx context.Context, h pict.Hash) (pict.Identifier, error) {
	id, err := r.getIdentifier(ctx, hashMotionIdentifiersTree, h.Bytes())
	return id, errors.Wrapf(err, "getting motion identifier of %s", h)
}

// CleanupHash implements pict.HashRepo.
// Every hash-scoped relation is removed in one transaction.
// Identifier details are not hash-scoped and are left to CleanupIdentifier.
func (r *Repo) CleanupHash(ctx context.Context, h pict.Hash) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		k := h.Bytes()
		for _, tree := range []string{hashesTree, hashIdentifiersTree, hashMotionIdentifiersTree} {
			if err := Delete(ctx, tx, tree, k); err != nil {
				return err
			}
		}
		for _, tree := range []string{hashAliasesTree, hashVariantIdentifiersTree} {
			if err := DeletePrefix(ctx, tx, tree, k); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateAlias implements pict.AliasRepo.
func (r *Repo) CreateAlias(ctx context.Context, a pict.Alias) error {
	added, err := Insert(ctx, r.db, aliasesTree, aliasKey(a), nil)
	if err != nil {
		return err
	}
	if !added {
		return errors.Wrapf(pict.ErrAlreadyExists, "alias %s", a)
	}
	return nil
}

// RelateDeleteToken implements pict.AliasRepo.
func (r *Repo) RelateDeleteToken(ctx context.Context, a pict.Alias, t pict.DeleteToken) error {
	added, err := Insert(ctx, r.db, aliasDeleteTokensTree, aliasKey(a), []byte(t.String()))
	if err != nil {
		return err
	}
	if !added {
		return errors.Wrapf(pict.ErrAlreadyExists, "delete token for %s", a)
	}
	return nil
}

// DeleteToken implements pict.AliasRepo.
func (r *Repo) DeleteToken(ctx context.Context, a pict.Alias) (pict.DeleteToken, error) {
	return deleteToken(ctx, r.db, a)
}

func deleteToken(ctx context.Context, q Querier, a pict.Alias) (pict.DeleteToken, error) {
	b, err := Get(ctx, q, aliasDeleteTokensTree, aliasKey(a))
	if err != nil {
		return pict.DeleteToken{}, errors.Wrapf(err, "getting delete token of %s", a)
	}
	return pict.DeleteTokenFromExisting(string(b)), nil
}

// RelateHash implements pict.AliasRepo.
func (r *Repo) RelateHash(ctx context.Context, a pict.Alias, h pict.Hash) error {
	return Put(ctx, r.db, aliasHashesTree, aliasKey(a), h.Bytes())
}

// Hash implements pict.AliasRepo.
func (r *Repo) Hash(ctx context.Context, a pict.Alias) (pict.Hash, error) {
	return aliasHash(ctx, r.db, a)
}

func aliasHash(ctx context.Context, q Querier, a pict.Alias) (pict.Hash, error) {
	b, err := Get(ctx, q, aliasHashesTree, aliasKey(a))
	if err != nil {
		return pict.Zero, errors.Wrapf(err, "getting hash of %s", a)
	}
	return pict.HashFromBytes(b)
}

// CleanupAlias implements pict.AliasRepo.
func (r *Repo) CleanupAlias(ctx context.Context, a pict.Alias) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return cleanupAlias(ctx, tx, a)
	})
}

func cleanupAlias(ctx context.Context, q Querier, a pict.Alias) error {
	k := aliasKey(a)
	for _, tree := range []string{aliasDeleteTokensTree, aliasHashesTree, aliasesTree} {
		if err := Delete(ctx, q, tree, k); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAlias implements pict.FullRepo.
// The token check and every removal happen in one transaction.
func (r *Repo) DeleteAlias(ctx context.Context, a pict.Alias, t pict.DeleteToken) (pict.Hash, error) {
	var h pict.Hash
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := deleteToken(ctx, tx, a)
		if err != nil {
			return err
		}
		if !stored.Equal(t) {
			return errors.Wrapf(pict.ErrInvalidToken, "deleting %s", a)
		}

		h, err = aliasHash(ctx, tx, a)
		if err != nil {
			return err
		}

		if err = cleanupAlias(ctx, tx, a); err != nil {
			return err
		}
		return Delete(ctx, tx, hashAliasesTree, hashAliasKey(h, a))
	})
	return h, err
}
