package store

import (
	"context"
	"fmt"

	"github.com/bobg/pict"
)

// Factory creates a Store from a config map.
// Stores that persist state of their own (such as the file store's path cursor)
// keep it in settings.
type Factory func(ctx context.Context, conf map[string]interface{}, settings pict.SettingsRepo) (pict.Store, error)

var registry = make(map[string]Factory)

func Register(key string, f Factory) {
	registry[key] = f
}

func Create(ctx context.Context, key string, conf map[string]interface{}, settings pict.SettingsRepo) (pict.Store, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf, settings)
}
