// Package lru implements a metadata repository that caches identifier details
// for a nested repository in a least-recently-used cache.
package lru

import (
	"context"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/pict"
	"github.com/bobg/pict/repo"
)

var _ pict.FullRepo = &Repo{}

// Repo implements a memory-based least-recently-used cache for a metadata repository.
// At present it caches only Details,
// which are derived from content and so never change once related.
// Writes pass through to the nested repository.
type Repo struct {
	pict.FullRepo
	c *lru.Cache // Identifier->Details
}

// New produces a new Repo backed by r and caching up to size Details.
func New(r pict.FullRepo, size int) (*Repo, error) {
	c, err := lru.New(size)
	return &Repo{FullRepo: r, c: c}, err
}

// Details implements pict.IdentifierRepo.
func (r *Repo) Details(ctx context.Context, id pict.Identifier) (pict.Details, error) {
	if got, ok := r.c.Get(id); ok {
		return got.(pict.Details), nil
	}
	details, err := r.FullRepo.Details(ctx, id)
	if err != nil {
		return details, err
	}
	r.c.Add(id, details)
	return details, nil
}

// RelateDetails implements pict.IdentifierRepo.
func (r *Repo) RelateDetails(ctx context.Context, id pict.Identifier, details pict.Details) error {
	if err := r.FullRepo.RelateDetails(ctx, id, details); err != nil {
		return err
	}
	r.c.Add(id, details)
	return nil
}

// CleanupIdentifier implements pict.IdentifierRepo.
func (r *Repo) CleanupIdentifier(ctx context.Context, id pict.Identifier) error {
	r.c.Remove(id)
	return r.FullRepo.CleanupIdentifier(ctx, id)
}

// intParam accepts the forms a config number can take,
// depending on how the JSON was decoded.
func intParam(v interface{}) (int, bool) {
	switch v := v.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

func init() {
	repo.Register("lru", func(ctx context.Context, conf map[string]interface{}) (pict.FullRepo, error) {
		size, ok := intParam(conf["size"])
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, ok := conf["nested"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "nested" parameter`)
		}
		nestedType, ok := nested["type"].(string)
		if !ok {
			return nil, errors.New(`"nested" parameter missing "type"`)
		}
		nestedRepo, err := repo.Create(ctx, nestedType, nested)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested repo")
		}
		r, err := New(nestedRepo, size)
		if err != nil {
			return nil, errors.Wrap(err, "creating cache")
		}
		return r, nil
	})
}
