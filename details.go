package pict

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Details is content-derived metadata about a stored blob.
// Because it depends only on the bytes,
// once computed for an Identifier it never changes.
type Details struct {
	Width     int
	Height    int
	MimeType  string
	Frames    int // 0 when the format has no frame count
	CreatedAt time.Time
}

// NewDetails produces Details stamped with the current time.
func NewDetails(width, height int, mimeType string, frames int) Details {
	return Details{
		Width:     width,
		Height:    height,
		MimeType:  mimeType,
		Frames:    frames,
		CreatedAt: time.Now().UTC(),
	}
}

// IsMotion tells whether the content is a video or an animated gif,
// for which still renditions need a motion preview.
func (d Details) IsMotion() bool {
	return strings.HasPrefix(d.MimeType, "video/") || d.MimeType == "image/gif"
}

const (
	detailsWidthField     protowire.Number = 1
	detailsHeightField    protowire.Number = 2
	detailsMimeTypeField  protowire.Number = 3
	detailsFramesField    protowire.Number = 4
	detailsCreatedAtField protowire.Number = 5
)

// MarshalBinary encodes d in protobuf wire format.
func (d Details) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, detailsWidthField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Width))
	b = protowire.AppendTag(b, detailsHeightField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Height))
	b = protowire.AppendTag(b, detailsMimeTypeField, protowire.BytesType)
	b = protowire.AppendString(b, d.MimeType)
	if d.Frames > 0 {
		b = protowire.AppendTag(b, detailsFramesField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.Frames))
	}

	ts, err := proto.Marshal(timestamppb.New(d.CreatedAt))
	if err != nil {
		return nil, errors.Wrap(err, "marshaling created-at timestamp")
	}
	b = protowire.AppendTag(b, detailsCreatedAtField, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)

	return b, nil
}

// UnmarshalBinary decodes the output of MarshalBinary.
// Unknown fields are skipped.
func (d *Details) UnmarshalBinary(b []byte) error {
	var out Details
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrapf(ErrMalformed, "details tag: %s", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == detailsWidthField || num == detailsHeightField || num == detailsFramesField):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrapf(ErrMalformed, "details field %d: %s", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case detailsWidthField:
				out.Width = int(v)
			case detailsHeightField:
				out.Height = int(v)
			case detailsFramesField:
				out.Frames = int(v)
			}

		case typ == protowire.BytesType && (num == detailsMimeTypeField || num == detailsCreatedAtField):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrapf(ErrMalformed, "details field %d: %s", num, protowire.ParseError(n))
			}
			b = b[n:]
			if num == detailsMimeTypeField {
				out.MimeType = string(v)
				continue
			}
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return errors.Wrapf(ErrMalformed, "details created-at: %s", err)
			}
			out.CreatedAt = ts.AsTime()

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(ErrMalformed, "skipping details field %d: %s", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	*d = out
	return nil
}
