// Package magick runs ImageMagick and ffmpeg
// to identify, transform, and take stills from uploaded media.
package magick

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
	"github.com/bobg/pict/process"
)

// Magick locates the external tools.
// The zero value uses "magick" and "ffmpeg" from $PATH
// and the default temporary directory.
type Magick struct {
	Program string // ImageMagick executable, run as "Program identify" and "Program convert"
	FFmpeg  string
	TempDir string
}

func (m Magick) program() string {
	if m.Program == "" {
		return "magick"
	}
	return m.Program
}

func (m Magick) ffmpeg() string {
	if m.FFmpeg == "" {
		return "ffmpeg"
	}
	return m.FFmpeg
}

// Details identifies the media read from r.
// A hint of zero means the format is unknown.
// Video containers cannot be identified from a pipe,
// so for those the input is spooled to a temporary file first.
func (m Magick) Details(ctx context.Context, r io.Reader, hint InputType) (pict.Details, error) {
	if ext := hint.videoHint(); ext != "" {
		path, err := m.spool(r, ext)
		if err != nil {
			return pict.Details{}, err
		}
		defer os.Remove(path)
		return m.identify(ctx, nil, path)
	}

	last := "-"
	if name := hint.Magick(); name != "" {
		last = name + ":-"
	}
	return m.identify(ctx, r, last)
}

// With a nil input, the process gets none.
func (m Magick) identify(ctx context.Context, input io.Reader, last string) (pict.Details, error) {
	p, err := process.Spawn(ctx, m.program(), "identify", "-ping", "-format", DetailsFormat, last)
	if err != nil {
		return pict.Details{}, err
	}
	var out io.ReadCloser
	if input == nil {
		out = p.Read()
	} else {
		out = p.Pipe(input)
	}
	defer out.Close()

	b, err := io.ReadAll(out)
	if err != nil {
		return pict.Details{}, errors.Wrap(err, "running identify")
	}
	d, err := ParseDetails(b)
	if err != nil {
		return pict.Details{}, process.ParseError(m.program(), err)
	}
	return d, nil
}

// Convert applies the magick arguments args to the image read from r,
// producing format.
// The caller must close the result,
// whose final Read reports any failure of the conversion.
func (m Magick) Convert(ctx context.Context, r io.Reader, args []string, format Format) (io.ReadCloser, error) {
	argv := append([]string{"convert", "-"}, args...)
	argv = append(argv, format.Magick()+":-")
	p, err := process.Spawn(ctx, m.program(), argv...)
	if err != nil {
		return nil, err
	}
	return p.Pipe(r), nil
}

// Thumbnail extracts the first frame of the video or animation read from r
// as a still image in format.
// The input is spooled to a temporary file,
// which is removed when the result is closed.
func (m Magick) Thumbnail(ctx context.Context, r io.Reader, from InputType, format Format) (io.ReadCloser, error) {
	ext := from.Ext()
	if ext == "" {
		ext = ".mp4"
	}
	path, err := m.spool(r, ext)
	if err != nil {
		return nil, err
	}
	p, err := process.Spawn(ctx, m.ffmpeg(),
		"-hide_banner", "-v", "error",
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", format.ffmpegCodec(),
		"-",
	)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return &tempReader{ReadCloser: p.Read(), path: path}, nil
}

// spool copies r to a new temporary file with the given extension
// and returns its name.
func (m Magick) spool(r io.Reader, ext string) (string, error) {
	f, err := os.CreateTemp(m.TempDir, "pict-*"+ext)
	if err != nil {
		return "", errors.Wrap(err, "creating temp file")
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", errors.Wrap(err, "writing temp file")
	}
	return f.Name(), nil
}

type tempReader struct {
	io.ReadCloser
	path string
}

func (r *tempReader) Close() error {
	err := r.ReadCloser.Close()
	if rerr := os.Remove(r.path); err == nil && !os.IsNotExist(rerr) {
		err = rerr
	}
	return errors.Wrap(err, "closing thumbnail")
}
