// Package pict is a content-addressed media repository and derivation cache.
//
// Uploaded files are stored once per distinct content,
// keyed by their SHA2-256 hash.
// Each upload gets its own _alias_,
// a public name that resolves to the hash,
// plus a _delete token_ that is required to remove the alias again.
// Many aliases may share one hash;
// the stored bytes go away only when the last alias does.
//
// A file may also be requested in derived forms,
// or _variants_:
// resized, cropped, reformatted, or transcoded renditions
// produced on demand by an external converter.
// Variants are computed at most once at a time,
// stored next to the original,
// and remembered so later requests are served from storage.
//
// This package defines the value types
// (Hash, Alias, DeleteToken, Identifier, Details)
// and the two storage abstractions everything else is written against:
// Store, which holds opaque blobs,
// and the Repo interfaces, which hold the relations between them.
// Backends live in the store and repo subpackages;
// the upload subpackage ties them together.
package pict
