package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/pict/magick"
	"github.com/bobg/pict/upload"
)

// A config file looks like this:
//
//	{
//	  "store": {"type": "file", "root": "/var/lib/pict/files"},
//	  "repo": {"type": "sqlite3", "conn": "/var/lib/pict/pict.db"},
//	  "legacy": "/var/lib/pict/old.db",
//	  "format": "webp",
//	  "filters": ["thumbnail", "resize", "blur"],
//	  "magick": "magick",
//	  "ffmpeg": "ffmpeg",
//	  "temp_dir": "/tmp",
//	  "max_width": 10000,
//	  "max_height": 10000,
//	  "max_area": 40000000,
//	  "max_frames": 900,
//	  "log": {"level": "info"}
//	}
//
// Only "store" and "repo" are required.
type config struct {
	storeType, repoType string
	store, repo         map[string]interface{}

	legacy   string // sqlite3 connection string for a pre-migration database
	opts     upload.Options
	magick   magick.Magick
	logLevel string
}

func loadConfig(filename string) (*config, error) {
	var conf map[string]interface{}
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config file %s", filename)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&conf); err != nil {
		return nil, errors.Wrapf(err, "decoding config file %s", filename)
	}

	c, err := parseConfig(conf)
	return c, errors.Wrapf(err, "in config file %s", filename)
}

func parseConfig(conf map[string]interface{}) (*config, error) {
	var (
		c   config
		err error
	)

	if c.store, c.storeType, err = backend(conf, "store"); err != nil {
		return nil, err
	}
	if c.repo, c.repoType, err = backend(conf, "repo"); err != nil {
		return nil, err
	}

	c.legacy, _ = conf["legacy"].(string)
	c.magick.Program, _ = conf["magick"].(string)
	c.magick.FFmpeg, _ = conf["ffmpeg"].(string)
	c.magick.TempDir, _ = conf["temp_dir"].(string)

	if s, ok := conf["format"].(string); ok {
		if c.opts.Format, err = magick.ParseFormat(s); err != nil {
			return nil, err
		}
	}

	if v, ok := conf["filters"]; ok {
		list, ok := v.([]interface{})
		if !ok {
			return nil, errors.New(`"filters" must be a list`)
		}
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, errors.New(`"filters" must contain strings`)
			}
			c.opts.Filters = append(c.opts.Filters, name)
		}
	}

	limits := []struct {
		key string
		dst *int
	}{
		{"max_width", &c.opts.MaxWidth},
		{"max_height", &c.opts.MaxHeight},
		{"max_area", &c.opts.MaxArea},
		{"max_frames", &c.opts.MaxFrames},
	}
	for _, l := range limits {
		v, ok := conf[l.key]
		if !ok {
			continue
		}
		if *l.dst, ok = intParam(v); !ok {
			return nil, errors.Errorf("%q must be an integer", l.key)
		}
	}

	if logConf, ok := conf["log"].(map[string]interface{}); ok {
		c.logLevel, _ = logConf["level"].(string)
	}

	return &c, nil
}

func backend(conf map[string]interface{}, key string) (map[string]interface{}, string, error) {
	sub, ok := conf[key].(map[string]interface{})
	if !ok {
		return nil, "", errors.Errorf("missing %q parameter", key)
	}
	typ, ok := sub["type"].(string)
	if !ok {
		return nil, "", errors.Errorf("%q parameter missing \"type\"", key)
	}
	return sub, typ, nil
}

func intParam(v interface{}) (int, bool) {
	switch v := v.(type) {
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case float64:
		return int(v), true
	}
	return 0, false
}
