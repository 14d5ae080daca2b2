package magick

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
)

// DetailsFormat is the identify format string whose output ParseDetails reads.
// It produces one line per frame.
const DetailsFormat = "%w %h | %m\n"

var mimeTypes = map[string]string{
	"GIF":  "image/gif",
	"JPEG": "image/jpeg",
	"MP4":  "video/mp4",
	"PNG":  "image/png",
	"WEBM": "video/webm",
	"WEBP": "image/webp",
}

// ParseDetails parses identify output produced with DetailsFormat.
// Dimensions come from the first frame.
// Every frame must have the same format.
func ParseDetails(out []byte) (pict.Details, error) {
	var (
		width, height int
		format        string
		frames        int
	)

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		dims, f, ok := strings.Cut(line, " | ")
		if !ok {
			return pict.Details{}, errors.Wrapf(pict.ErrMalformed, "identify line %q", line)
		}
		f = strings.TrimSpace(f)
		if frames == 0 {
			ws, hs, ok := strings.Cut(strings.TrimSpace(dims), " ")
			if !ok {
				return pict.Details{}, errors.Wrapf(pict.ErrMalformed, "identify dimensions %q", dims)
			}
			var err error
			if width, err = strconv.Atoi(ws); err != nil {
				return pict.Details{}, errors.Wrapf(pict.ErrMalformed, "width %q", ws)
			}
			if height, err = strconv.Atoi(hs); err != nil {
				return pict.Details{}, errors.Wrapf(pict.ErrMalformed, "height %q", hs)
			}
			format = f
		} else if f != format {
			return pict.Details{}, errors.Wrapf(pict.ErrMalformed, "frame %d is %s, not %s", frames, f, format)
		}
		frames++
	}
	if err := sc.Err(); err != nil {
		return pict.Details{}, errors.Wrap(err, "scanning identify output")
	}
	if frames == 0 {
		return pict.Details{}, errors.Wrap(pict.ErrMalformed, "empty identify output")
	}

	mimeType, ok := mimeTypes[format]
	if !ok {
		return pict.Details{}, errors.Wrapf(ErrUnsupportedFormat, "format %s", format)
	}
	if frames == 1 {
		frames = 0
	}
	return pict.NewDetails(width, height, mimeType, frames), nil
}
