package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
)

func (c maincmd) delete(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: delete ALIAS TOKEN")
	}
	return c.m.Delete(ctx, pict.AliasFromExisting(args[0]), pict.DeleteTokenFromExisting(args[1]))
}

func (c maincmd) aliases(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: aliases ALIAS")
	}
	aliases, err := c.m.Aliases(ctx, pict.AliasFromExisting(args[0]))
	if err != nil {
		return err
	}
	for _, a := range aliases {
		fmt.Println(a)
	}
	return nil
}

func (c maincmd) purge(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: purge ALIAS")
	}
	removed, err := c.m.Purge(ctx, pict.AliasFromExisting(args[0]))
	for _, a := range removed {
		fmt.Println(a)
	}
	return err
}
