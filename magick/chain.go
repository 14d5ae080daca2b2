package magick

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidChain is returned by ParseChain for an unknown, disallowed, or malformed operation.
var ErrInvalidChain = errors.New("invalid processing chain")

// Param is one requested operation, as a name and an argument.
type Param struct {
	Name, Value string
}

// Op is a parsed transformation.
type Op struct {
	Name string
	args []string // magick arguments
	path string   // canonical form, for variant keys
}

// Chain is an ordered list of transformations.
type Chain []Op

// Ops lists every operation name ParseChain understands.
var Ops = []string{"identity", "thumbnail", "resize", "crop", "blur"}

// ParseChain parses params into a Chain.
// If allowed is non-empty,
// only operations it names are accepted.
func ParseChain(params []Param, allowed []string) (Chain, error) {
	var c Chain
	for _, p := range params {
		if len(allowed) > 0 && !slices.Contains(allowed, p.Name) {
			return nil, errors.Wrapf(ErrInvalidChain, "operation %s not allowed", p.Name)
		}
		op, err := parseOp(p)
		if err != nil {
			return nil, err
		}
		if op.Name == "identity" {
			continue
		}
		c = append(c, op)
	}
	return c, nil
}

func parseOp(p Param) (Op, error) {
	switch p.Name {
	case "identity":
		return Op{Name: p.Name, path: p.Name}, nil

	case "thumbnail", "resize":
		n, err := strconv.ParseUint(p.Value, 10, 16)
		if err != nil || n == 0 {
			return Op{}, errors.Wrapf(ErrInvalidChain, "%s size %q", p.Name, p.Value)
		}
		geom := fmt.Sprintf("%dx%d>", n, n)
		flag := "-sample"
		if p.Name == "resize" {
			flag = "-thumbnail"
		}
		return Op{Name: p.Name, args: []string{flag, geom}, path: fmt.Sprintf("%s/%d", p.Name, n)}, nil

	case "crop":
		ws, hs, ok := strings.Cut(p.Value, "x")
		w, werr := strconv.ParseUint(ws, 10, 16)
		h, herr := strconv.ParseUint(hs, 10, 16)
		if !ok || werr != nil || herr != nil || w == 0 || h == 0 {
			return Op{}, errors.Wrapf(ErrInvalidChain, "crop geometry %q", p.Value)
		}
		geom := fmt.Sprintf("%dx%d", w, h)
		return Op{
			Name: p.Name,
			args: []string{"-gravity", "center", "-crop", geom + "+0+0", "+repage"},
			path: "crop/" + geom,
		}, nil

	case "blur":
		sigma, err := strconv.ParseFloat(p.Value, 64)
		if err != nil || !(sigma > 0) || sigma > 1000 {
			return Op{}, errors.Wrapf(ErrInvalidChain, "blur sigma %q", p.Value)
		}
		s := strconv.FormatFloat(sigma, 'f', -1, 64)
		return Op{Name: p.Name, args: []string{"-gaussian-blur", s}, path: "blur/" + s}, nil
	}
	return Op{}, errors.Wrapf(ErrInvalidChain, "unknown operation %q", p.Name)
}

// Path is the canonical form of c.
// Chains that transform the same way have the same Path.
func (c Chain) Path() string {
	if len(c) == 0 {
		return "identity"
	}
	parts := make([]string, 0, len(c))
	for _, op := range c {
		parts = append(parts, op.path)
	}
	return strings.Join(parts, "/")
}

// Args is the magick argument vector applying c.
func (c Chain) Args() []string {
	var args []string
	for _, op := range c {
		args = append(args, op.args...)
	}
	return args
}
