package pict

import "context"

// SettingsRepo holds process-wide singleton values,
// such as the file store's path-generator cursor and migration markers.
type SettingsRepo interface {
	SetSetting(ctx context.Context, key string, value []byte) error

	// GetSetting returns ErrNotFound if key is not set.
	GetSetting(ctx context.Context, key string) ([]byte, error)

	RemoveSetting(ctx context.Context, key string) error
}

// IdentifierRepo relates stored blobs to their Details.
// It is keyed by identifier alone,
// independent of which hash, variant, or motion relation points at the identifier.
type IdentifierRepo interface {
	RelateDetails(ctx context.Context, id Identifier, details Details) error

	// Details returns ErrNotFound if no details have been related to id.
	Details(ctx context.Context, id Identifier) (Details, error)

	CleanupIdentifier(ctx context.Context, id Identifier) error
}

// HashRepo holds the relations owned by a content hash:
// the aliases referring to it,
// the identifier of its original bytes,
// its variants,
// and its motion preview.
type HashRepo interface {
	// Hashes calls f for each known hash, in order.
	// If f returns an error, Hashes stops and returns it.
	Hashes(ctx context.Context, f func(Hash) error) error

	// CreateHash records h.
	// It returns ErrAlreadyExists,
	// having changed nothing,
	// if h was already recorded.
	CreateHash(ctx context.Context, h Hash) error

	RelateAlias(ctx context.Context, h Hash, a Alias) error
	RemoveAlias(ctx context.Context, h Hash, a Alias) error
	Aliases(ctx context.Context, h Hash) ([]Alias, error)

	RelateIdentifier(ctx context.Context, h Hash, id Identifier) error
	Identifier(ctx context.Context, h Hash) (Identifier, error)

	RelateVariantIdentifier(ctx context.Context, h Hash, variant string, id Identifier) error
	VariantIdentifier(ctx context.Context, h Hash, variant string) (Identifier, error)
	Variants(ctx context.Context, h Hash) ([]Variant, error)

	RelateMotionIdentifier(ctx context.Context, h Hash, id Identifier) error
	MotionIdentifier(ctx context.Context, h Hash) (Identifier, error)

	// CleanupHash removes h and every relation it owns.
	CleanupHash(ctx context.Context, h Hash) error
}

// AliasRepo holds the relations owned by an alias.
type AliasRepo interface {
	// CreateAlias records a.
	// It returns ErrAlreadyExists,
	// having changed nothing,
	// if a was already recorded.
	CreateAlias(ctx context.Context, a Alias) error

	// RelateDeleteToken sets the delete token for a.
	// A token can be set only once;
	// later calls return ErrAlreadyExists.
	RelateDeleteToken(ctx context.Context, a Alias, t DeleteToken) error
	DeleteToken(ctx context.Context, a Alias) (DeleteToken, error)

	RelateHash(ctx context.Context, a Alias, h Hash) error
	Hash(ctx context.Context, a Alias) (Hash, error)

	CleanupAlias(ctx context.Context, a Alias) error
}

// FullRepo is a metadata repository with every capability,
// plus the transactional alias-deletion protocol.
type FullRepo interface {
	SettingsRepo
	IdentifierRepo
	HashRepo
	AliasRepo

	// DeleteAlias atomically verifies t against a's delete token
	// and removes a's token, its hash relation, its own record,
	// and its membership in the hash's alias set.
	// It returns the hash a referred to.
	//
	// If t does not match,
	// the result is ErrInvalidToken and nothing changes.
	// If a does not exist, the result is ErrNotFound.
	//
	// DeleteAlias does not decide whether the hash is still referenced;
	// that is the caller's follow-up step.
	DeleteAlias(ctx context.Context, a Alias, t DeleteToken) (Hash, error)

	Close() error
}
