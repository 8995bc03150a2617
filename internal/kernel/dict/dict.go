// Package dict implements the kernel's untyped, ordered, structured value
// model (spec.md §3 "Dict") used for every persisted object.
package dict

import (
	"fmt"
	"strings"
	"time"

	"github.com/concordkernel/appserver/internal/kernel/path"
)

// Dict is an ordered string-keyed map whose values are one of the
// variants accepted by Value. Insertion order is preserved across
// Set/Copy/serialization, matching spec.md's "Dicts preserve insertion
// order" requirement.
type Dict struct {
	keys   []string
	values map[string]any
	sealed bool
}

// New returns an empty, unsealed Dict.
func New() *Dict {
	return &Dict{values: make(map[string]any)}
}

// FromMap builds a Dict from a Go map, in the map's (unspecified) Go
// iteration order — callers that need deterministic order should build
// via repeated Set calls instead.
func FromMap(m map[string]any) *Dict {
	d := New()
	for k, v := range m {
		_ = d.Set(k, v)
	}
	return d
}

// ErrSealed is returned by mutating operations on a sealed Dict.
var ErrSealed = fmt.Errorf("dict: sealed")

// Seal forbids further mutation. Sealing is one-way.
func (d *Dict) Seal() { d.sealed = true }

// Sealed reports whether the dict has been sealed.
func (d *Dict) Sealed() bool { return d.sealed }

// Set assigns key to value, appending key to the insertion order if new.
// Returns ErrSealed if the dict is sealed.
func (d *Dict) Set(key string, value any) error {
	if d.sealed {
		return ErrSealed
	}
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return nil
}

// Delete removes key. No-op if absent. Returns ErrSealed if sealed.
func (d *Dict) Delete(key string) error {
	if d.sealed {
		return ErrSealed
	}
	if _, exists := d.values[key]; !exists {
		return nil
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the raw value and whether key was present.
func (d *Dict) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	cp := make([]string, len(d.keys))
	copy(cp, d.keys)
	return cp
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Copy returns a shallow copy: nested Dict/List values are shared, not
// deep-cloned. The copy is always unsealed regardless of the source.
func (d *Dict) Copy() *Dict {
	cp := New()
	for _, k := range d.keys {
		cp.keys = append(cp.keys, k)
		cp.values[k] = d.values[k]
	}
	return cp
}

// IsComputed reports whether key denotes a computed (non-persisted) slot.
func IsComputed(key string) bool { return strings.HasPrefix(key, "_") }

// IsHidden reports whether key denotes a hidden (persisted, not
// externally serialized) slot.
func IsHidden(key string) bool { return strings.HasPrefix(key, ".") }

// --- typed accessors -------------------------------------------------

// GetString returns the value at key coerced to string, or def if absent
// or not coercible.
func (d *Dict) GetString(key, def string) string {
	v, ok := d.values[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return def
	}
}

// GetBool returns the value at key coerced to bool, or def.
func (d *Dict) GetBool(key string, def bool) bool {
	v, ok := d.values[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// GetInt returns the value at key coerced to int64, or def.
func (d *Dict) GetInt(key string, def int64) int64 {
	v, ok := d.values[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return def
	}
}

// GetFloat returns the value at key coerced to float64, or def.
func (d *Dict) GetFloat(key string, def float64) float64 {
	v, ok := d.values[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return def
	}
}

// GetTime returns the value at key coerced to time.Time, or def.
func (d *Dict) GetTime(key string, def time.Time) time.Time {
	v, ok := d.values[key]
	if !ok {
		return def
	}
	t, ok := v.(time.Time)
	if !ok {
		return def
	}
	return t
}

// GetPath returns the value at key coerced to a path.Path, or def.
func (d *Dict) GetPath(key string, def path.Path) path.Path {
	v, ok := d.values[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case path.Path:
		return t
	case string:
		return path.Parse(t)
	default:
		return def
	}
}

// GetDict returns the value at key as a *Dict, or nil.
func (d *Dict) GetDict(key string) *Dict {
	v, ok := d.values[key]
	if !ok {
		return nil
	}
	sub, ok := v.(*Dict)
	if !ok {
		return nil
	}
	return sub
}

// GetList returns the value at key as a []any, or nil.
func (d *Dict) GetList(key string) []any {
	v, ok := d.values[key]
	if !ok {
		return nil
	}
	l, ok := v.([]any)
	if !ok {
		return nil
	}
	return l
}

// Meta holds the cache lifecycle pair every StorableObject carries
// (spec.md §3 "Lifecycle"): the last activation time and whether the
// in-memory instance has unwritten changes.
type Meta struct {
	ActivatedTime time.Time
	Modified      bool
}

// Touch refreshes ActivatedTime to now.
func (m *Meta) Touch(now time.Time) { m.ActivatedTime = now }

// MarkModified sets the dirty flag.
func (m *Meta) MarkModified() { m.Modified = true }

// ClearModified clears the dirty flag (called by passivate on write-back).
func (m *Meta) ClearModified() { m.Modified = false }
