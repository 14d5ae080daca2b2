package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
	"github.com/bobg/pict/magick"
)

func (c maincmd) get(ctx context.Context, out string, offset, length int64, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get [-o FILE] [-offset N] [-length N] ALIAS")
	}

	id, _, err := c.m.Original(ctx, pict.AliasFromExisting(args[0]))
	if err != nil {
		return err
	}
	return c.write(ctx, id, offset, length, out)
}

// Operations are given as NAME=VALUE arguments after the alias,
// for example "thumbnail=256 blur=1.5".
func (c maincmd) process(ctx context.Context, out, format string, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: process [-o FILE] [-format FMT] ALIAS [OP=VALUE ...]")
	}

	alias, chain, f, err := c.parseVariant(args, format)
	if err != nil {
		return err
	}
	v, err := c.m.Variant(ctx, alias, chain, f)
	if err != nil {
		return err
	}
	return c.write(ctx, v.Identifier, 0, -1, out)
}

// With operations after the alias,
// details reports on that existing variant rather than the original.
func (c maincmd) details(ctx context.Context, format string, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: details [-format FMT] ALIAS [OP=VALUE ...]")
	}

	var d pict.Details
	if len(args) == 1 {
		_, dd, err := c.m.Original(ctx, pict.AliasFromExisting(args[0]))
		if err != nil {
			return err
		}
		d = dd
	} else {
		alias, chain, f, err := c.parseVariant(args, format)
		if err != nil {
			return err
		}
		if d, err = c.m.VariantDetails(ctx, alias, chain, f); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(d), "writing details")
}

func (c maincmd) parseVariant(args []string, format string) (pict.Alias, magick.Chain, magick.Format, error) {
	f, err := magick.ParseFormat(format)
	if err != nil {
		return pict.Alias{}, nil, 0, err
	}
	var params []magick.Param
	for _, arg := range args[1:] {
		name, value, _ := strings.Cut(arg, "=")
		params = append(params, magick.Param{Name: name, Value: value})
	}
	chain, err := c.m.ParseChain(params)
	if err != nil {
		return pict.Alias{}, nil, 0, err
	}
	return pict.AliasFromExisting(args[0]), chain, f, nil
}

func (c maincmd) write(ctx context.Context, id pict.Identifier, offset, length int64, out string) error {
	r, err := c.store.Stream(ctx, id, offset, length)
	if err != nil {
		return errors.Wrapf(err, "reading %s", id)
	}
	defer r.Close()

	w := io.Writer(os.Stdout)
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return errors.Wrapf(err, "creating %s", out)
		}
		defer f.Close()
		w = f
	}

	_, err = io.Copy(w, r)
	return errors.Wrapf(err, "copying %s", id)
}
