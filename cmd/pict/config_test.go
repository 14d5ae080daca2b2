package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/pict/magick"
	"github.com/bobg/pict/upload"
)

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()

	var conf map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&conf); err != nil {
		t.Fatal(err)
	}
	return conf
}

func TestParseConfig(t *testing.T) {
	conf := decode(t, `{
		"store": {"type": "file", "root": "/tmp/files"},
		"repo": {"type": "lru", "size": 100, "nested": {"type": "sqlite3", "conn": "pict.db"}},
		"legacy": "old.db",
		"format": "webp",
		"filters": ["thumbnail", "blur"],
		"ffmpeg": "/usr/local/bin/ffmpeg",
		"max_width": 4000,
		"max_frames": 100,
		"log": {"level": "debug"}
	}`)

	c, err := parseConfig(conf)
	if err != nil {
		t.Fatal(err)
	}
	if c.storeType != "file" || c.repoType != "lru" {
		t.Errorf("got store %s, repo %s", c.storeType, c.repoType)
	}
	if c.legacy != "old.db" || c.logLevel != "debug" {
		t.Errorf("got legacy %q, log level %q", c.legacy, c.logLevel)
	}
	want := upload.Options{
		Format:    magick.WEBP,
		Filters:   []string{"thumbnail", "blur"},
		MaxWidth:  4000,
		MaxFrames: 100,
	}
	if diff := cmp.Diff(want, c.opts); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if c.magick != (magick.Magick{FFmpeg: "/usr/local/bin/ffmpeg"}) {
		t.Errorf("got magick config %+v", c.magick)
	}
}

func TestParseConfigErrors(t *testing.T) {
	cases := map[string]string{
		"no store":      `{"repo": {"type": "sqlite3"}}`,
		"untyped repo":  `{"store": {"type": "mem"}, "repo": {}}`,
		"bad format":    `{"store": {"type": "mem"}, "repo": {"type": "sqlite3"}, "format": "tiff"}`,
		"bad filters":   `{"store": {"type": "mem"}, "repo": {"type": "sqlite3"}, "filters": "blur"}`,
		"bad max_width": `{"store": {"type": "mem"}, "repo": {"type": "sqlite3"}, "max_width": "big"}`,
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseConfig(decode(t, s)); err == nil {
				t.Error("got no error")
			}
		})
	}
}
