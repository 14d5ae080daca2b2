package magick

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/pict"
)

// ErrUnsupportedFormat is returned for media this package cannot handle.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Format is an output image format.
type Format int

const (
	JPEG Format = iota + 1
	PNG
	WEBP
)

// ParseFormat parses a format name such as "png" or an extension such as ".png".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "webp":
		return WEBP, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedFormat, "format %q", s)
}

func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	case WEBP:
		return "webp"
	}
	return "unknown"
}

// Ext is the file extension for f, including the leading dot.
func (f Format) Ext() string {
	return "." + f.String()
}

// Magick is ImageMagick's name for f.
func (f Format) Magick() string {
	return strings.ToUpper(f.String())
}

func (f Format) MimeType() string {
	return "image/" + f.String()
}

// ffmpegCodec names the ffmpeg encoder producing f.
func (f Format) ffmpegCodec() string {
	switch f {
	case JPEG:
		return "mjpeg"
	case WEBP:
		return "libwebp"
	}
	return "png"
}

// InputType is an accepted kind of upload.
// The zero value means unknown.
type InputType int

const (
	MP4 InputType = iota + 1
	WEBM
	GIF
	PNGInput
	JPEGInput
	WEBPInput
)

// Magick is ImageMagick's name for t.
func (t InputType) Magick() string {
	switch t {
	case MP4:
		return "MP4"
	case WEBM:
		return "WEBM"
	case GIF:
		return "GIF"
	case PNGInput:
		return "PNG"
	case JPEGInput:
		return "JPEG"
	case WEBPInput:
		return "WEBP"
	}
	return ""
}

func (t InputType) String() string {
	return strings.ToLower(t.Magick())
}

// Ext is the file extension for t, including the leading dot.
func (t InputType) Ext() string {
	if t == 0 {
		return ""
	}
	return "." + t.String()
}

// IsVideo tells whether t needs a motion preview for still renditions.
func (t InputType) IsVideo() bool {
	return t == MP4 || t == WEBM || t == GIF
}

// videoHint is the extension a temporary file needs
// for the tools to recognize t,
// or the empty string if t can be read from a pipe.
func (t InputType) videoHint() string {
	if t.IsVideo() {
		return t.Ext()
	}
	return ""
}

// Format returns the output format matching t, if there is one.
func (t InputType) Format() (Format, bool) {
	switch t {
	case JPEGInput:
		return JPEG, true
	case PNGInput:
		return PNG, true
	case WEBPInput:
		return WEBP, true
	}
	return 0, false
}

// InputTypeFromFormat returns the InputType of output in format f.
func InputTypeFromFormat(f Format) InputType {
	switch f {
	case JPEG:
		return JPEGInput
	case PNG:
		return PNGInput
	case WEBP:
		return WEBPInput
	}
	return 0
}

// ParseInputType parses an input extension such as ".mp4" or a name such as "gif".
func ParseInputType(s string) (InputType, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "mp4":
		return MP4, nil
	case "webm":
		return WEBM, nil
	case "gif":
		return GIF, nil
	case "png":
		return PNGInput, nil
	case "jpeg", "jpg":
		return JPEGInput, nil
	case "webp":
		return WEBPInput, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedFormat, "input type %q", s)
}

// InputTypeFromMime maps a mime type to an InputType.
func InputTypeFromMime(mimeType string) (InputType, error) {
	switch mimeType {
	case "video/mp4", "video/mpeg":
		return MP4, nil
	case "video/webm":
		return WEBM, nil
	case "image/gif":
		return GIF, nil
	case "image/png":
		return PNGInput, nil
	case "image/jpeg":
		return JPEGInput, nil
	case "image/webp":
		return WEBPInput, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedFormat, "mime type %s", mimeType)
}

// DetailsHint chooses an InputType hint for identifying the content of alias a.
// Only video containers need one.
func DetailsHint(a pict.Alias) InputType {
	ext := a.Extension()
	switch {
	case strings.HasSuffix(ext, ".mp4"):
		return MP4
	case strings.HasSuffix(ext, ".webm"):
		return WEBM
	}
	return 0
}
