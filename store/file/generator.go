package file

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
)

// FanOut is the number of subdirectories per level of the generated hierarchy.
const FanOut = 256

// Path is a position in the generated directory hierarchy,
// one segment per level, each segment in [0, FanOut).
type Path []uint16

// Next returns the path following p.
// The last segment advances first;
// when every segment has wrapped, a level is added.
// The empty path is followed by the first one-level path.
func (p Path) Next() Path {
	next := append(Path(nil), p...)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] < FanOut {
			return next
		}
		next[i] = 0
	}
	return make(Path, len(p)+1)
}

// Dirs renders p as directory names, two hex digits each.
func (p Path) Dirs() []string {
	out := make([]string, 0, len(p))
	for _, seg := range p {
		out = append(out, fmt.Sprintf("%02x", seg))
	}
	return out
}

func (p Path) String() string {
	return filepath.ToSlash(filepath.Join(p.Dirs()...))
}

// Bytes encodes p as a sequence of big-endian uint16s.
func (p Path) Bytes() []byte {
	out := make([]byte, 2*len(p))
	for i, seg := range p {
		binary.BigEndian.PutUint16(out[2*i:], seg)
	}
	return out
}

// PathFromBytes decodes the output of Path.Bytes.
func PathFromBytes(b []byte) (Path, error) {
	if len(b)%2 != 0 {
		return nil, errors.Wrapf(pict.ErrMalformed, "path cursor has odd length %d", len(b))
	}
	out := make(Path, 0, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		seg := binary.BigEndian.Uint16(b[i:])
		if seg >= FanOut {
			return nil, errors.Wrapf(pict.ErrMalformed, "path segment %d out of range", seg)
		}
		out = append(out, seg)
	}
	return out, nil
}

// Generator hands out directory paths in sequence, never repeating one.
// It is safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	current Path
}

// NewGenerator produces a Generator resuming after start.
// A nil start means nothing has been allocated yet.
func NewGenerator(start Path) *Generator {
	return &Generator{current: start}
}

// Next allocates the next path.
func (g *Generator) Next() Path {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.current = g.current.Next()
	return append(Path(nil), g.current...)
}

// Current returns the most recently allocated path.
func (g *Generator) Current() Path {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append(Path(nil), g.current...)
}

// Reset moves the generator to p,
// as when another process has advanced the persisted cursor.
func (g *Generator) Reset(p Path) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.current = append(Path(nil), p...)
}
