// Package sqlite3 provides a Sqlite-based metadata repository.
package sqlite3

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/pict"
	"github.com/bobg/pict/repo"
	"github.com/bobg/pict/repo/sqlrepo"
)

// Schema is the SQL that New executes.
var Schema = sqlrepo.Schema("BLOB")

// New produces a new repository using db for storage.
// The connection pool is capped at one connection,
// which serializes transactions.
func New(ctx context.Context, db *sql.DB) (*sqlrepo.Repo, error) {
	db.SetMaxOpenConns(1)
	return sqlrepo.New(ctx, db, Schema)
}

// Open opens the Sqlite database named by conn and produces a repository on it.
func Open(ctx context.Context, conn string) (*sqlrepo.Repo, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.Wrap(err, "opening db")
	}
	r, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func init() {
	repo.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (pict.FullRepo, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		r, err := Open(ctx, conn)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
}
