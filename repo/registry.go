// Package repo holds the registry of metadata-repository backends.
// Backends live in subpackages and register themselves when imported.
package repo

import (
	"context"
	"fmt"

	"github.com/bobg/pict"
)

type Factory func(context.Context, map[string]interface{}) (pict.FullRepo, error)

var registry = make(map[string]Factory)

func Register(key string, f Factory) {
	registry[key] = f
}

func Create(ctx context.Context, key string, conf map[string]interface{}) (pict.FullRepo, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}
