package pict

import "errors"

var (
	// ErrNotFound is the error returned
	// when looking up a non-existent alias, hash, identifier, variant, or blob.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by guarded inserts
	// (hash creation, alias creation, delete-token assignment)
	// when the key is already present.
	// Nothing is written in that case.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidToken is returned when a delete token does not match the alias it is presented for.
	ErrInvalidToken = errors.New("invalid delete token")

	// ErrMalformed is returned when an Identifier, Alias, DeleteToken, Hash, or Details
	// cannot be decoded from its stored form.
	ErrMalformed = errors.New("malformed value")

	// ErrFileExists is returned by a Store that was asked to write over an existing blob.
	ErrFileExists = errors.New("blob already exists")
)
