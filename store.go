package pict

import (
	"context"
	"io"
)

// Store is a blob store.
// It stores byte sequences - "blobs" - of arbitrary length
// and hands back an Identifier for each,
// which is meaningful only to the Store that issued it.
//
// A Store never overwrites a blob and never leaves a partial one behind:
// if Save fails, whatever was written is removed before the error is returned.
//
// Reading a blob that is concurrently removed may fail with ErrNotFound.
// Callers must treat that as a valid (if rare) outcome.
type Store interface {
	// Save stores the bytes read from r until EOF.
	Save(ctx context.Context, r io.Reader) (Identifier, error)

	// SaveBytes stores b.
	SaveBytes(ctx context.Context, b []byte) (Identifier, error)

	// Stream opens the blob for reading,
	// starting at byte offset and continuing for length bytes,
	// or to the end if length is negative.
	// Each call produces an independent reader.
	Stream(ctx context.Context, id Identifier, offset, length int64) (io.ReadCloser, error)

	// ReadInto copies the whole blob to w.
	ReadInto(ctx context.Context, id Identifier, w io.Writer) error

	// Len reports the size of the blob in bytes.
	Len(ctx context.Context, id Identifier) (int64, error)

	// Remove deletes the blob.
	// Removing a blob that does not exist reports ErrNotFound;
	// callers that may race with other removals should tolerate it.
	Remove(ctx context.Context, id Identifier) error
}
