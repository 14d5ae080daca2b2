package magick

import (
	stderrs "errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseChain(t *testing.T) {
	cases := []struct {
		name     string
		params   []Param
		wantPath string
		wantArgs []string
	}{
		{name: "empty", wantPath: "identity"},
		{name: "identity", params: []Param{{Name: "identity"}}, wantPath: "identity"},
		{
			name:     "thumbnail",
			params:   []Param{{Name: "thumbnail", Value: "0256"}},
			wantPath: "thumbnail/256",
			wantArgs: []string{"-sample", "256x256>"},
		},
		{
			name: "several",
			params: []Param{
				{Name: "resize", Value: "100"},
				{Name: "identity"},
				{Name: "crop", Value: "40x30"},
				{Name: "blur", Value: "2.50"},
			},
			wantPath: "resize/100/crop/40x30/blur/2.5",
			wantArgs: []string{
				"-thumbnail", "100x100>",
				"-gravity", "center", "-crop", "40x30+0+0", "+repage",
				"-gaussian-blur", "2.5",
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := ParseChain(tc.params, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got := c.Path(); got != tc.wantPath {
				t.Errorf("got path %s, want %s", got, tc.wantPath)
			}
			if diff := cmp.Diff(tc.wantArgs, c.Args()); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseChainInvalid(t *testing.T) {
	cases := []struct {
		name    string
		params  []Param
		allowed []string
	}{
		{name: "unknown", params: []Param{{Name: "sharpen", Value: "1"}}},
		{name: "zero thumbnail", params: []Param{{Name: "thumbnail", Value: "0"}}},
		{name: "negative resize", params: []Param{{Name: "resize", Value: "-5"}}},
		{name: "bad crop", params: []Param{{Name: "crop", Value: "40"}}},
		{name: "nan blur", params: []Param{{Name: "blur", Value: "NaN"}}},
		{name: "disallowed", params: []Param{{Name: "blur", Value: "1"}}, allowed: []string{"thumbnail"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseChain(tc.params, tc.allowed)
			if !stderrs.Is(err, ErrInvalidChain) {
				t.Errorf("got %v, want ErrInvalidChain", err)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"jpg", ".jpeg", "PNG", "webp"} {
		f, err := ParseFormat(s)
		if err != nil {
			t.Errorf("ParseFormat(%s): %s", s, err)
			continue
		}
		if got := InputTypeFromFormat(f).Ext(); got != f.Ext() {
			t.Errorf("%s: input type extension %s differs from format extension %s", s, got, f.Ext())
		}
	}
	if _, err := ParseFormat("bmp"); !stderrs.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}
