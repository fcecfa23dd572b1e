package store

import (
	"bytes"
	"context"

	"github.com/tealrun/teal/bytecode"
)

// RawSource fetches the serialised bytes for an executable_ref from
// wherever they actually live -- a blob column, object storage, a local
// file. Providing this is outside this repository's scope (spec §1: the
// parser/compiler frontend, and by extension wherever it publishes
// compiled bytes, is an external collaborator); this repository only
// consumes a pre-compiled bytecode.Executable.
type RawSource func(ctx context.Context, ref string) ([]byte, error)

// Executables resolves session.Session.ExecutableRef to a decoded
// Executable through an ExecutableCache, falling back to RawSource and
// deserialising on a cache miss. Grounded on pkg/fpm/opcache.OpcodeCache's
// check-cache-then-compile shape.
type Executables struct {
	cache  *ExecutableCache
	source RawSource
}

// NewExecutables builds an Executables resolver with the given cache
// capacity and underlying byte source.
func NewExecutables(cacheCapacity int, source RawSource) *Executables {
	return &Executables{cache: NewExecutableCache(cacheCapacity), source: source}
}

func (e *Executables) Load(ctx context.Context, ref string) (*bytecode.Executable, error) {
	if exe, ok := e.cache.Get(ref); ok {
		return exe, nil
	}
	raw, err := e.source(ctx, ref)
	if err != nil {
		return nil, err
	}
	exe, err := bytecode.Deserialize(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	e.cache.Put(ref, exe)
	return exe, nil
}
