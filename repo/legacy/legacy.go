// Package legacy reads metadata in the layout used before the repository was split
// into per-relation trees.
// It exists only to feed the migrate package and exposes nothing else.
//
// The legacy layout, in the same kv table that repo/sqlrepo uses, is:
//
//	main:     hash -> filename
//	          hash 0x00 uint64(id) -> alias
//	alias:    alias -> hash
//	          alias "/id" -> uint64(id)
//	          alias "/delete" -> delete token
//	filename: filename -> hash
//	path:     filename -> path of the original
//	          filename "/motion" -> path of the motion preview
//	          filename "/" variant -> path of the variant
//	details:  filename "/" path -> JSON details
//	settings: key -> value
//
// Integers are big-endian.
package legacy

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrs "errors"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
	"github.com/bobg/pict/repo/sqlrepo"
)

const (
	mainTree     = "main"
	aliasTree    = "alias"
	filenameTree = "filename"
	pathTree     = "path"
	detailsTree  = "details"
	settingsTree = "settings"
)

const motionSuffix = "motion"

// Repo is the read-only view of legacy metadata that migration needs.
type Repo interface {
	// Hashes calls f for each hash, in order.
	Hashes(ctx context.Context, f func(pict.Hash) error) error

	// Identifier returns the identifier of the hash's original bytes.
	Identifier(ctx context.Context, h pict.Hash) (pict.Identifier, error)

	// Aliases returns the aliases of h with their delete tokens.
	Aliases(ctx context.Context, h pict.Hash) ([]Alias, error)

	// MotionIdentifier returns pict.ErrNotFound if h has no motion preview.
	MotionIdentifier(ctx context.Context, h pict.Hash) (pict.Identifier, error)

	Variants(ctx context.Context, h pict.Hash) ([]pict.Variant, error)

	// Details returns the details of every identifier related to h.
	Details(ctx context.Context, h pict.Hash) (map[pict.Identifier]pict.Details, error)

	// Setting returns pict.ErrNotFound if key is not set.
	Setting(ctx context.Context, key string) ([]byte, error)
}

// Alias is a legacy alias and its delete token, if it has one.
type Alias struct {
	Alias    pict.Alias
	Token    pict.DeleteToken
	HasToken bool
}

// Details is the JSON form of legacy details.
type Details struct {
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// HashPageSize is the number of hashes Hashes reads per query.
var HashPageSize = 100

var _ Repo = &Reader{}

// Reader implements Repo on a SQL database.
type Reader struct {
	db *sql.DB
}

// New produces a Reader on db,
// which must contain the kv table (see sqlrepo.Schema).
func New(db *sql.DB) *Reader {
	return &Reader{db: db}
}

func (r *Reader) Hashes(ctx context.Context, f func(pict.Hash) error) error {
	return sqlrepo.Keys(ctx, r.db, mainTree, len(pict.Zero), HashPageSize, func(k []byte) error {
		h, err := pict.HashFromBytes(k)
		if err != nil {
			return err
		}
		return f(h)
	})
}

func (r *Reader) filename(ctx context.Context, h pict.Hash) (string, error) {
	b, err := sqlrepo.Get(ctx, r.db, mainTree, h.Bytes())
	if err != nil {
		return "", errors.Wrapf(err, "getting filename of %s", h)
	}
	return string(b), nil
}

func (r *Reader) path(ctx context.Context, key string) (pict.Identifier, error) {
	b, err := sqlrepo.Get(ctx, r.db, pathTree, []byte(key))
	if err != nil {
		return "", err
	}
	return pict.IdentifierFromBytes(b)
}

func (r *Reader) Identifier(ctx context.Context, h pict.Hash) (pict.Identifier, error) {
	filename, err := r.filename(ctx, h)
	if err != nil {
		return "", err
	}
	id, err := r.path(ctx, filename)
	return id, errors.Wrapf(err, "getting path of %s", filename)
}

func (r *Reader) Aliases(ctx context.Context, h pict.Hash) ([]Alias, error) {
	var names []string
	err := sqlrepo.ScanPrefix(ctx, r.db, mainTree, append(h.Bytes(), 0), func(_, v []byte) error {
		names = append(names, string(v))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing aliases of %s", h)
	}

	var out []Alias
	for _, name := range names {
		a := Alias{Alias: pict.AliasFromExisting(name)}
		tok, err := sqlrepo.Get(ctx, r.db, aliasTree, []byte(name+"/delete"))
		switch {
		case stderrs.Is(err, pict.ErrNotFound):
		case err != nil:
			return nil, errors.Wrapf(err, "getting delete token of %s", name)
		default:
			a.Token = pict.DeleteTokenFromExisting(string(tok))
			a.HasToken = true
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Reader) MotionIdentifier(ctx context.Context, h pict.Hash) (pict.Identifier, error) {
	filename, err := r.filename(ctx, h)
	if err != nil {
		return "", err
	}
	id, err := r.path(ctx, filename+"/"+motionSuffix)
	return id, errors.Wrapf(err, "getting motion path of %s", filename)
}

func (r *Reader) Variants(ctx context.Context, h pict.Hash) ([]pict.Variant, error) {
	filename, err := r.filename(ctx, h)
	if err != nil {
		return nil, err
	}
	prefix := filename + "/"

	var out []pict.Variant
	err = sqlrepo.ScanPrefix(ctx, r.db, pathTree, []byte(prefix), func(k, v []byte) error {
		key := strings.TrimPrefix(string(k), prefix)
		if key == motionSuffix {
			return nil
		}
		id, err := pict.IdentifierFromBytes(v)
		if err != nil {
			return errors.Wrapf(err, "variant %s of %s", key, filename)
		}
		out = append(out, pict.Variant{Key: key, Identifier: id})
		return nil
	})
	return out, errors.Wrapf(err, "listing variants of %s", filename)
}

func (r *Reader) Details(ctx context.Context, h pict.Hash) (map[pict.Identifier]pict.Details, error) {
	filename, err := r.filename(ctx, h)
	if err != nil {
		return nil, err
	}
	prefix := filename + "/"

	out := make(map[pict.Identifier]pict.Details)
	err = sqlrepo.ScanPrefix(ctx, r.db, detailsTree, []byte(prefix), func(k, v []byte) error {
		id := pict.Identifier(strings.TrimPrefix(string(k), prefix))
		if id == "" {
			return nil
		}
		var d Details
		if err := json.Unmarshal(v, &d); err != nil {
			return errors.Wrapf(err, "decoding details of %s", id)
		}
		out[id] = pict.Details{
			Width:     d.Width,
			Height:    d.Height,
			MimeType:  d.ContentType,
			CreatedAt: d.CreatedAt.UTC(),
		}
		return nil
	})
	return out, errors.Wrapf(err, "listing details of %s", filename)
}

func (r *Reader) Setting(ctx context.Context, key string) ([]byte, error) {
	return sqlrepo.Get(ctx, r.db, settingsTree, []byte(key))
}
