package legacy

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
	"github.com/bobg/pict/repo/sqlrepo"
)

// Writer records metadata in the legacy layout.
// It is used to build fixtures for migration.
type Writer struct {
	db *sql.DB
}

// NewWriter produces a Writer on db,
// which must contain the kv table (see sqlrepo.Schema).
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// AddFile records h as the hash of the file named filename,
// stored at path.
func (w *Writer) AddFile(ctx context.Context, h pict.Hash, filename string, path pict.Identifier) error {
	if err := sqlrepo.Put(ctx, w.db, mainTree, h.Bytes(), []byte(filename)); err != nil {
		return err
	}
	if err := sqlrepo.Put(ctx, w.db, filenameTree, []byte(filename), h.Bytes()); err != nil {
		return err
	}
	return sqlrepo.Put(ctx, w.db, pathTree, []byte(filename), path.Bytes())
}

// AddAlias records alias a, with the given id and delete token, for h.
func (w *Writer) AddAlias(ctx context.Context, h pict.Hash, a string, id uint64, token string) error {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], id)

	k := append(append(h.Bytes(), 0), idBytes[:]...)
	if err := sqlrepo.Put(ctx, w.db, mainTree, k, []byte(a)); err != nil {
		return err
	}
	if err := sqlrepo.Put(ctx, w.db, aliasTree, []byte(a), h.Bytes()); err != nil {
		return err
	}
	if err := sqlrepo.Put(ctx, w.db, aliasTree, []byte(a+"/id"), idBytes[:]); err != nil {
		return err
	}
	if token == "" {
		return nil
	}
	return sqlrepo.Put(ctx, w.db, aliasTree, []byte(a+"/delete"), []byte(token))
}

// AddMotion records path as the motion preview of filename.
func (w *Writer) AddMotion(ctx context.Context, filename string, path pict.Identifier) error {
	return sqlrepo.Put(ctx, w.db, pathTree, []byte(filename+"/"+motionSuffix), path.Bytes())
}

// AddVariant records path as the variant of filename named by variant.
func (w *Writer) AddVariant(ctx context.Context, filename, variant string, path pict.Identifier) error {
	return sqlrepo.Put(ctx, w.db, pathTree, []byte(filename+"/"+variant), path.Bytes())
}

// AddDetails records the details of the file of filename stored at path.
func (w *Writer) AddDetails(ctx context.Context, filename string, path pict.Identifier, d pict.Details) error {
	b, err := json.Marshal(Details{
		Width:       d.Width,
		Height:      d.Height,
		ContentType: d.MimeType,
		CreatedAt:   d.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "encoding details")
	}
	return sqlrepo.Put(ctx, w.db, detailsTree, []byte(filename+"/"+path.String()), b)
}

// SetSetting records a setting.
func (w *Writer) SetSetting(ctx context.Context, key string, value []byte) error {
	return sqlrepo.Put(ctx, w.db, settingsTree, []byte(key), value)
}
