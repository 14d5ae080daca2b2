package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/bobg/pict/upload"
)

func (c maincmd) upload(ctx context.Context, ext string, files []string) error {
	if len(files) == 0 {
		u, err := c.m.Ingest(ctx, os.Stdin, ext)
		if err != nil {
			return errors.Wrap(err, "uploading stdin")
		}
		printUpload(u)
		return nil
	}

	for _, file := range files {
		e := ext
		if e == "" {
			e = filepath.Ext(file)
		}
		u, err := withFile(file, func(r io.Reader) (upload.Upload, error) {
			return c.m.Ingest(ctx, r, e)
		})
		if err != nil {
			return errors.Wrapf(err, "uploading %s", file)
		}
		printUpload(u)
	}
	return nil
}

func (c maincmd) importFile(ctx context.Context, name string, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: import [-name NAME] FILE")
	}

	file := args[0]
	if name == "" {
		name = filepath.Base(file)
	}
	u, err := withFile(file, func(r io.Reader) (upload.Upload, error) {
		return c.m.Import(ctx, r, name)
	})
	if err != nil {
		return errors.Wrapf(err, "importing %s", file)
	}
	printUpload(u)
	return nil
}

func withFile(file string, f func(io.Reader) (upload.Upload, error)) (upload.Upload, error) {
	in, err := os.Open(file)
	if err != nil {
		return upload.Upload{}, errors.Wrapf(err, "opening %s", file)
	}
	defer in.Close()
	return f(in)
}

func printUpload(u upload.Upload) {
	fmt.Printf("%s %s %s\n", u.Alias, u.DeleteToken, u.Hash)
}
