package pict

import "github.com/pkg/errors"

// Identifier locates a blob within the Store that issued it.
// It is opaque to everything but that Store:
// relations in the Repo hold only its bytes.
type Identifier string

// IdentifierFromBytes decodes an Identifier from its stored form.
func IdentifierFromBytes(b []byte) (Identifier, error) {
	if len(b) == 0 {
		return "", errors.Wrap(ErrMalformed, "empty identifier")
	}
	return Identifier(b), nil
}

func (id Identifier) Bytes() []byte {
	return []byte(id)
}

func (id Identifier) String() string {
	return string(id)
}

// Variant pairs a variant key with the identifier of the stored variant.
type Variant struct {
	Key        string
	Identifier Identifier
}
