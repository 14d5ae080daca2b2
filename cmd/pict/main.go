// Command pict stores media, serves derived renditions of it,
// and deletes it again, in a pict repository.
//
// Usage:
//
//	pict [-config FILE] [-log-level LEVEL] SUBCOMMAND [ARGS]
//
// Subcommands are upload, import, get, process, details, delete, aliases, purge, migrate, and gc.
package main

import (
	"context"
	"log"
	"os"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bobg/pict"
	"github.com/bobg/pict/repo"
	_ "github.com/bobg/pict/repo/lru"
	_ "github.com/bobg/pict/repo/pg"
	_ "github.com/bobg/pict/repo/sqlite3"
	"github.com/bobg/pict/store"
	_ "github.com/bobg/pict/store/file"
	_ "github.com/bobg/pict/store/gcs"
	_ "github.com/bobg/pict/store/logging"
	_ "github.com/bobg/pict/store/mem"
	"github.com/bobg/pict/upload"
)

type maincmd struct {
	conf   *config
	repo   pict.FullRepo
	store  pict.Store
	m      *upload.Manager
	logger *zap.Logger
}

func main() {
	var (
		configFile = pflag.String("config", "pict.json", "path to config file")
		logLevel   = pflag.String("log-level", "", "log level (default: from config file, else info)")
	)
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	conf, err := loadConfig(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	if *logLevel != "" {
		conf.logLevel = *logLevel
	}

	logger, err := newLogger(conf.logLevel)
	if err != nil {
		log.Fatal(err)
	}
	zap.ReplaceGlobals(logger)

	err = run(context.Background(), conf, logger, pflag.Args())
	if err != nil {
		logger.Error("running command", zap.Error(err))
	}
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// Runs the subcommand named in args.
// Background work finishes and the repo is closed before it returns.
func run(ctx context.Context, conf *config, logger *zap.Logger, args []string) error {
	c, err := newMaincmd(ctx, conf, logger)
	if err != nil {
		return errors.Wrap(err, "initializing")
	}
	defer c.repo.Close()
	defer c.m.Wait()

	return subcmd.Run(ctx, c, args)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing log level %s", level)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	return logger, errors.Wrap(err, "building logger")
}

func newMaincmd(ctx context.Context, conf *config, logger *zap.Logger) (maincmd, error) {
	r, err := repo.Create(ctx, conf.repoType, conf.repo)
	if err != nil {
		return maincmd{}, errors.Wrapf(err, "creating %s-type repo", conf.repoType)
	}
	s, err := store.Create(ctx, conf.storeType, conf.store, r)
	if err != nil {
		r.Close()
		return maincmd{}, errors.Wrapf(err, "creating %s-type store", conf.storeType)
	}
	return maincmd{
		conf:   conf,
		repo:   r,
		store:  s,
		m:      upload.New(s, r, conf.magick, logger, conf.opts),
		logger: logger,
	}, nil
}

func (c maincmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"upload", c.upload, subcmd.Params(
			"ext", subcmd.String, "", "file type, such as .png (default: from each file name; required for stdin)",
		),
		"import", c.importFile, subcmd.Params(
			"name", subcmd.String, "", "alias to import as (default: the file name)",
		),
		"get", c.get, subcmd.Params(
			"o", subcmd.String, "", "output file (default: stdout)",
			"offset", subcmd.Int64, int64(0), "first byte to get",
			"length", subcmd.Int64, int64(-1), "number of bytes to get (default: to the end)",
		),
		"process", c.process, subcmd.Params(
			"o", subcmd.String, "", "output file (default: stdout)",
			"format", subcmd.String, "png", "output format",
		),
		"details", c.details, subcmd.Params(
			"format", subcmd.String, "png", "variant format",
		),
		"delete", c.delete, nil,
		"aliases", c.aliases, nil,
		"purge", c.purge, nil,
		"migrate", c.migrate, subcmd.Params(
			"legacy", subcmd.String, c.legacyConn(), "sqlite3 connection string of the legacy database",
		),
		"gc", c.gc, nil,
	)
}
