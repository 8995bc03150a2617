// Package path implements the kernel's hierarchical object identifier: an
// absolute, slash-separated sequence of non-empty segments with a
// terminal "is-index" flag.
package path

import "strings"

// Path is an immutable, absolute storage identifier. The zero value is
// the root path ("/"). Equality is case-sensitive.
type Path struct {
	segments []string
	index    bool
}

// Root is the empty, non-index path ("/").
var Root = Path{}

// Parse splits an absolute path string into a Path. Leading and trailing
// slashes are normalized; a trailing slash (other than the root itself)
// sets the index flag. Empty interior segments ("//") are dropped.
func Parse(s string) Path {
	s = strings.TrimPrefix(s, "/")
	index := strings.HasSuffix(s, "/") || s == ""
	s = strings.Trim(s, "/")

	if s == "" {
		return Path{}
	}

	raw := strings.Split(s, "/")
	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" {
			continue
		}
		segments = append(segments, seg)
	}

	return Path{segments: segments, index: index}
}

// New builds a Path from already-split segments.
func New(segments []string, isIndex bool) Path {
	cp := make([]string, len(segments))
	copy(cp, segments)
	return Path{segments: cp, index: isIndex}
}

// String renders the absolute, slash-separated representation.
func (p Path) String() string {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(strings.Join(p.segments, "/"))
	if p.index && len(p.segments) > 0 {
		b.WriteByte('/')
	}
	return b.String()
}

// IsIndex reports whether the path denotes a directory-like index.
func (p Path) IsIndex() bool { return p.index }

// IsRoot reports whether the path has no segments.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Segments returns a defensive copy of the path's segments.
func (p Path) Segments() []string {
	cp := make([]string, len(p.segments))
	copy(cp, p.segments)
	return cp
}

// Name returns the last segment, or "" for the root path.
func (p Path) Name() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path with its last segment removed. Parent of the
// root path is the root path itself.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return p
	}
	return Path{segments: append([]string(nil), p.segments[:len(p.segments)-1]...), index: true}
}

// Child returns a new path with name appended as the final segment.
func (p Path) Child(name string, isIndex bool) Path {
	segs := append(append([]string(nil), p.segments...), name)
	return Path{segments: segs, index: isIndex}
}

// Resolve resolves a relative path string against base, the way a
// filesystem resolves "./x" or "../y" against a working directory.
// Absolute relative strings (leading "/") resolve from the root instead
// of from base.
func Resolve(base Path, relative string) Path {
	if strings.HasPrefix(relative, "/") {
		return Parse(relative)
	}

	cur := base
	if !cur.index {
		cur = cur.Parent()
	}

	relative = strings.TrimSuffix(relative, "/")
	trailingIndex := strings.HasSuffix(relative, "/") || relative == ""

	for _, seg := range strings.Split(relative, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			cur = cur.Parent()
		default:
			cur = cur.Child(seg, true)
		}
	}
	cur.index = trailingIndex || cur.index
	return cur
}

// Equal reports whether two paths denote the same identifier, including
// the index flag.
func (p Path) Equal(o Path) bool {
	if p.index != o.index || len(p.segments) != len(o.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p is prefix or equal to other: every segment
// of p matches the corresponding leading segment of other.
func (p Path) HasPrefix(other Path) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}
