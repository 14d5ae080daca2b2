package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/pict/migrate"
	"github.com/bobg/pict/repo/legacy"
)

func (c maincmd) migrate(ctx context.Context, conn string, _ []string) error {
	if conn == "" {
		return errors.New("no legacy database configured")
	}

	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return errors.Wrapf(err, "opening legacy database %s", conn)
	}
	defer db.Close()

	return migrate.Run(ctx, c.repo, legacy.New(db), c.logger)
}

func (c maincmd) gc(ctx context.Context, _ []string) error {
	removed, err := c.m.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d unreferenced files\n", removed)
	return nil
}

func (c maincmd) legacyConn() string {
	if c.conf == nil {
		return ""
	}
	return c.conf.legacy
}
