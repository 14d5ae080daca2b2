package pict

import (
	"bytes"
	"crypto/subtle"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// maybeUUID is either a UUID or, for imported and legacy data, an arbitrary name.
type maybeUUID struct {
	id     uuid.UUID
	name   string
	isName bool
}

func maybeUUIDFromString(s string) maybeUUID {
	if id, err := uuid.Parse(s); err == nil {
		return maybeUUID{id: id}
	}
	return maybeUUID{name: s, isName: true}
}

func (m maybeUUID) bytes() []byte {
	if m.isName {
		return []byte(m.name)
	}
	return append([]byte(nil), m.id[:]...)
}

func (m maybeUUID) String() string {
	if m.isName {
		return m.name
	}
	return m.id.String()
}

// UUIDs sort before names.
func (m maybeUUID) compare(other maybeUUID) int {
	switch {
	case !m.isName && other.isName:
		return -1
	case m.isName && !other.isName:
		return 1
	case m.isName:
		return strings.Compare(m.name, other.name)
	default:
		return bytes.Compare(m.id[:], other.id[:])
	}
}

// Alias is the public name of an upload.
// It consists of an id,
// normally a random UUID but possibly an arbitrary name for imported files,
// and an optional extension such as ".png".
//
// Aliases are comparable with ==.
type Alias struct {
	id  maybeUUID
	ext string // includes the leading dot; empty means none
}

// GenerateAlias produces a new alias with a random UUID and the given extension.
// The extension should include its leading dot.
func GenerateAlias(ext string) Alias {
	return Alias{id: maybeUUID{id: uuid.New()}, ext: ext}
}

// AliasFromExisting parses the text form of an alias.
// Everything from the first dot onward is the extension.
func AliasFromExisting(s string) Alias {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return Alias{id: maybeUUIDFromString(s[:i]), ext: s[i:]}
	}
	return Alias{id: maybeUUIDFromString(s)}
}

// AliasFromBytes decodes an alias from either of its encodings.
// Bytes that are valid UTF-8 are parsed as the text form.
// Otherwise at least 16 bytes are required:
// a raw UUID followed by the extension.
func AliasFromBytes(b []byte) (Alias, error) {
	if utf8.Valid(b) {
		return AliasFromExisting(string(b)), nil
	}
	if len(b) < 16 {
		return Alias{}, errors.Wrapf(ErrMalformed, "alias of %d non-text bytes", len(b))
	}
	var id uuid.UUID
	copy(id[:], b[:16])
	return Alias{
		id:  maybeUUID{id: id},
		ext: strings.ToValidUTF8(string(b[16:]), "\uFFFD"),
	}, nil
}

// Bytes produces the compact binary form of the alias:
// the raw UUID (or the name) followed by the extension.
func (a Alias) Bytes() []byte {
	return append(a.id.bytes(), a.ext...)
}

func (a Alias) String() string {
	return a.id.String() + a.ext
}

// Extension returns the alias's extension, including the leading dot,
// or the empty string if there is none.
func (a Alias) Extension() string {
	return a.ext
}

// IsUUID tells whether the alias id is a UUID rather than a name.
func (a Alias) IsUUID() bool {
	return !a.id.isName
}

// IsZero tells whether a is the zero Alias.
func (a Alias) IsZero() bool {
	return a == Alias{}
}

// Compare orders aliases:
// UUID aliases before name aliases,
// then by id,
// then aliases without an extension before those with one.
func (a Alias) Compare(other Alias) int {
	if c := a.id.compare(other.id); c != 0 {
		return c
	}
	switch {
	case a.ext == other.ext:
		return 0
	case a.ext == "":
		return -1
	case other.ext == "":
		return 1
	}
	return strings.Compare(a.ext, other.ext)
}

func (a Alias) Less(other Alias) bool {
	return a.Compare(other) < 0
}

// DeleteToken is the capability required to delete an alias.
type DeleteToken struct {
	id maybeUUID
}

// GenerateDeleteToken produces a new random token.
func GenerateDeleteToken() DeleteToken {
	return DeleteToken{id: maybeUUID{id: uuid.New()}}
}

// DeleteTokenFromExisting parses the text form of a token.
func DeleteTokenFromExisting(s string) DeleteToken {
	return DeleteToken{id: maybeUUIDFromString(s)}
}

// DeleteTokenFromBytes decodes a token from either of its encodings.
// Bytes that are valid UTF-8 are parsed as text;
// otherwise exactly 16 raw UUID bytes are required.
func DeleteTokenFromBytes(b []byte) (DeleteToken, error) {
	if utf8.Valid(b) {
		return DeleteTokenFromExisting(string(b)), nil
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return DeleteToken{}, errors.Wrapf(ErrMalformed, "delete token of %d non-text bytes", len(b))
	}
	return DeleteToken{id: maybeUUID{id: id}}, nil
}

func (t DeleteToken) Bytes() []byte {
	return t.id.bytes()
}

func (t DeleteToken) String() string {
	return t.id.String()
}

// Equal compares two tokens in constant time.
func (t DeleteToken) Equal(other DeleteToken) bool {
	if t.id.isName != other.id.isName {
		return false
	}
	return subtle.ConstantTimeCompare(t.id.bytes(), other.id.bytes()) == 1
}
