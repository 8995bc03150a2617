// Package types implements the kernel's object type registry: every
// StorableObject is tagged with a "/type/<id>" path whose definition
// dict describes its initializer and property schema.
package types

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/concordkernel/appserver/internal/kernel/dict"
	"github.com/concordkernel/appserver/internal/kernel/path"
)

// ErrUnknownType is returned when a type id has no registered
// definition and no registered alias resolves it either.
var ErrUnknownType = errors.New("types: unknown type")

// Initializer builds an in-memory representation from a raw stored
// dict. Types without a Go-native representation (declared "remote" in
// their definition) are left as plain dicts and have no Initializer.
type Initializer func(data *dict.Dict) (any, error)

// Definition is the resolved shape of a "/type/<id>" object: its
// property schema plus, for locally-initialized types, the Initializer
// used to turn a stored dict into a typed Go value.
type Definition struct {
	ID          string
	Description string
	Remote      bool
	Properties  *dict.Dict
	Init        Initializer
}

// Registry is the process-wide table of type definitions. Definitions
// are loaded from storage at bootstrap and on every plug-in load that
// introduces or updates a "/type/" object; Registry itself never reads
// storage directly so it can be unit tested without a backing store.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Definition
	aliases map[string]string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byID:    make(map[string]*Definition),
		aliases: make(map[string]string),
	}
}

// Register adds or replaces the definition for def.ID.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[def.ID] = def
}

// Alias makes lookups of alias resolve to target when alias itself has
// no direct definition, matching spec.md's "unknown types fall back to
// their declared alias" rule (e.g. deprecated type ids kept for
// backward compatibility).
func (r *Registry) Alias(alias, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = target
}

// Unregister removes a definition. No-op if absent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Lookup resolves id to its Definition, following one level of alias if
// id has no direct definition.
func (r *Registry) Lookup(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if def, ok := r.byID[id]; ok {
		return def, nil
	}
	if target, ok := r.aliases[id]; ok {
		if def, ok := r.byID[target]; ok {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, id)
}

// Activate builds the in-memory representation for data, whose "type"
// key names a registered type id. Remote types, and types without a
// registered Initializer, are returned unchanged as *dict.Dict.
func (r *Registry) Activate(data *dict.Dict) (any, error) {
	id := data.GetString("type", "")
	if id == "" {
		return data, nil
	}
	def, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	if def.Remote || def.Init == nil {
		return data, nil
	}
	return def.Init(data)
}

// Loader reads "/type/" definitions out of storage into a Registry. It
// is a thin seam over storage.Storage so this package does not import
// the storage package.
type Loader interface {
	Query(ctx context.Context, base path.Path) ([]path.Path, error)
	Load(ctx context.Context, p path.Path) (*dict.Dict, error)
}

// typeRoot is the well-known mount point under which every type
// definition is stored.
var typeRoot = path.Parse("/type/")

// LoadAll queries typeRoot for every "/type/<id>" object and registers
// each as a schema-only definition, remote unless its "remote" key is
// false. Callers that have Go-native
// representations for specific types should call Register for those ids
// afterward to attach an Initializer; LoadAll never overwrites an
// existing registration's Initializer, only fills in missing ones.
func LoadAll(ctx context.Context, r *Registry, store Loader) error {
	paths, err := store.Query(ctx, typeRoot)
	if err != nil {
		return fmt.Errorf("types: load all: %w", err)
	}
	for _, p := range paths {
		data, err := store.Load(ctx, p)
		if err != nil {
			continue
		}
		id := data.GetString("id", p.Name())
		desc := data.GetString("description", "")

		r.mu.Lock()
		existing, hasExisting := r.byID[id]
		def := &Definition{
			ID:          id,
			Description: desc,
			Remote:      data.GetBool("remote", true),
			Properties:  data.GetDict("properties"),
		}
		if hasExisting {
			def.Init = existing.Init
			def.Remote = existing.Remote
		}
		r.byID[id] = def
		r.mu.Unlock()
	}
	return nil
}
