// Package pg provides a Postgresql-based metadata repository.
package pg

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/bobg/pict"
	"github.com/bobg/pict/repo"
	"github.com/bobg/pict/repo/sqlrepo"
)

// Schema is the SQL that New executes.
var Schema = sqlrepo.Schema("BYTEA")

// New produces a new repository using db for storage.
func New(ctx context.Context, db *sql.DB) (*sqlrepo.Repo, error) {
	return sqlrepo.New(ctx, db, Schema)
}

func init() {
	repo.Register("pg", func(ctx context.Context, conf map[string]interface{}) (pict.FullRepo, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		r, err := New(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return r, nil
	})
}
