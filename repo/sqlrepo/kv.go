package sqlrepo

import (
	"context"
	"database/sql"
	stderrs "errors"
	"fmt"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/pict"
)

// Schema produces the SQL that New executes,
// with blobType as the column type for keys and values
// ("BLOB" for Sqlite, "BYTEA" for Postgresql).
// It creates the kv table if it does not exist.
// (If it does exist, it must have the columns and constraints described here.)
//
// The table holds a set of named trees:
// ordered maps from byte-string keys to byte-string values.
func Schema(blobType string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS kv (
  tree TEXT NOT NULL,
  k %[1]s NOT NULL,
  v %[1]s NOT NULL,
  PRIMARY KEY (tree, k)
);
`, blobType)
}

// Querier is the subset of *sql.DB and *sql.Tx used for tree access.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Get returns the value at k in tree,
// or pict.ErrNotFound.
func Get(ctx context.Context, q Querier, tree string, k []byte) ([]byte, error) {
	const query = `SELECT v FROM kv WHERE tree = $1 AND k = $2`

	var v []byte
	err := q.QueryRowContext(ctx, query, tree, k).Scan(&v)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(pict.ErrNotFound, "%s entry", tree)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s", tree)
	}
	return v, nil
}

// Put sets the value at k in tree, replacing any previous value.
func Put(ctx context.Context, q Querier, tree string, k, v []byte) error {
	const query = `INSERT INTO kv (tree, k, v) VALUES ($1, $2, $3)
		ON CONFLICT (tree, k) DO UPDATE SET v = excluded.v`

	_, err := q.ExecContext(ctx, query, tree, k, nonNil(v))
	return errors.Wrapf(err, "writing %s", tree)
}

// Insert sets the value at k in tree only if k is absent.
// It reports whether the row was added.
func Insert(ctx context.Context, q Querier, tree string, k, v []byte) (bool, error) {
	const query = `INSERT INTO kv (tree, k, v) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`

	res, err := q.ExecContext(ctx, query, tree, k, nonNil(v))
	if err != nil {
		return false, errors.Wrapf(err, "inserting into %s", tree)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "counting affected rows")
	}
	return aff > 0, nil
}

// Delete removes k from tree.
// Removing an absent key is not an error.
func Delete(ctx context.Context, q Querier, tree string, k []byte) error {
	const query = `DELETE FROM kv WHERE tree = $1 AND k = $2`

	_, err := q.ExecContext(ctx, query, tree, k)
	return errors.Wrapf(err, "deleting from %s", tree)
}

// DeletePrefix removes every key in tree beginning with prefix.
func DeletePrefix(ctx context.Context, q Querier, tree string, prefix []byte) error {
	if end := prefixEnd(prefix); end != nil {
		const query = `DELETE FROM kv WHERE tree = $1 AND k >= $2 AND k < $3`
		_, err := q.ExecContext(ctx, query, tree, nonNil(prefix), end)
		return errors.Wrapf(err, "deleting range from %s", tree)
	}
	const query = `DELETE FROM kv WHERE tree = $1 AND k >= $2`
	_, err := q.ExecContext(ctx, query, tree, nonNil(prefix))
	return errors.Wrapf(err, "deleting range from %s", tree)
}

// ScanPrefix calls f, in key order, for each key in tree beginning with prefix.
// Rows are read before f is called for any of them,
// so f may itself use q.
func ScanPrefix(ctx context.Context, q Querier, tree string, prefix []byte, f func(k, v []byte) error) error {
	type pair struct{ k, v []byte }

	var (
		pairs []pair
		err   error
		add   = func(k, v []byte) { pairs = append(pairs, pair{k: k, v: v}) }
	)
	if end := prefixEnd(prefix); end != nil {
		const query = `SELECT k, v FROM kv WHERE tree = $1 AND k >= $2 AND k < $3 ORDER BY k`
		err = sqlutil.ForQueryRows(ctx, q, query, tree, nonNil(prefix), end, add)
	} else {
		const query = `SELECT k, v FROM kv WHERE tree = $1 AND k >= $2 ORDER BY k`
		err = sqlutil.ForQueryRows(ctx, q, query, tree, nonNil(prefix), add)
	}
	if err != nil {
		return errors.Wrapf(err, "scanning %s", tree)
	}
	for _, p := range pairs {
		if err := f(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// Keys calls f, in order, for each key in tree,
// reading pageSize rows at a time.
// Only keys with length keyLen are passed to f,
// unless keyLen is negative.
// Between pages no transaction or connection is held,
// so f may use the database.
func Keys(ctx context.Context, db Querier, tree string, keyLen, pageSize int, f func(k []byte) error) error {
	const query = `SELECT k FROM kv WHERE tree = $1 AND k > $2 ORDER BY k LIMIT $3`

	after := []byte{}
	for {
		var page [][]byte
		err := sqlutil.ForQueryRows(ctx, db, query, tree, after, pageSize, func(k []byte) {
			page = append(page, k)
		})
		if err != nil {
			return errors.Wrapf(err, "listing %s", tree)
		}
		for _, k := range page {
			if keyLen >= 0 && len(k) != keyLen {
				continue
			}
			if err := f(k); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1]
	}
}

// prefixEnd returns the least key greater than every key beginning with prefix,
// or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// A nil []byte is stored as NULL,
// which the schema forbids.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
