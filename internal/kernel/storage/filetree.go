package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/concordkernel/appserver/internal/kernel/dict"
	"github.com/concordkernel/appserver/internal/kernel/path"
)

// FileTreeStorage persists each object as one JSON file under a root
// directory on disk, mirroring the object's path as a directory tree.
// There is no dedicated serialization library in the dependency set for
// this shape of storage, so object bodies are marshalled with
// encoding/json (see DESIGN.md).
type FileTreeStorage struct {
	root     string
	readOnly bool
	mu       sync.Mutex
}

// NewFileTreeStorage opens root as a file-tree backend, creating it if
// missing unless readOnly is set.
func NewFileTreeStorage(root string, readOnly bool) (*FileTreeStorage, error) {
	if !readOnly {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, &OpFailed{Op: "open", Path: root, Cause: err}
		}
	}
	return &FileTreeStorage{root: root, readOnly: readOnly}, nil
}

func (f *FileTreeStorage) file(p path.Path) string {
	segs := p.Segments()
	if len(segs) == 0 {
		return filepath.Join(f.root, "_root.json")
	}
	rel := filepath.Join(segs...)
	return filepath.Join(f.root, rel+".json")
}

func (f *FileTreeStorage) Load(_ context.Context, p path.Path) (*dict.Dict, error) {
	name := f.file(p)
	raw, err := os.ReadFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &OpFailed{Op: "load", Path: p.String(), Cause: err}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &OpFailed{Op: "load", Path: p.String(), Cause: err}
	}
	return dict.FromMap(m), nil
}

func (f *FileTreeStorage) Store(_ context.Context, p path.Path, data *dict.Dict) error {
	if f.readOnly {
		return ErrReadOnly
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	name := f.file(p)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return &OpFailed{Op: "store", Path: p.String(), Cause: err}
	}
	m := make(map[string]any, data.Len())
	for _, k := range data.Keys() {
		if dict.IsComputed(k) {
			continue
		}
		v, _ := data.Get(k)
		m[k] = v
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &OpFailed{Op: "store", Path: p.String(), Cause: err}
	}
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return &OpFailed{Op: "store", Path: p.String(), Cause: err}
	}
	return os.Rename(tmp, name)
}

func (f *FileTreeStorage) Remove(_ context.Context, p path.Path) error {
	if f.readOnly {
		return ErrReadOnly
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if p.IsIndex() {
		dir := filepath.Join(f.root, filepath.Join(p.Segments()...))
		return os.RemoveAll(dir)
	}
	err := os.Remove(f.file(p))
	if err != nil && !os.IsNotExist(err) {
		return &OpFailed{Op: "remove", Path: p.String(), Cause: err}
	}
	return nil
}

func (f *FileTreeStorage) Query(_ context.Context, base path.Path) ([]path.Path, error) {
	dir := filepath.Join(f.root, filepath.Join(base.Segments()...))
	var out []path.Path
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(p, ".json") {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		rel = strings.TrimSuffix(rel, ".json")
		segs := strings.Split(filepath.ToSlash(rel), "/")
		out = append(out, path.New(segs, false))
		return nil
	})
	if err != nil {
		return nil, &OpFailed{Op: "query", Path: base.String(), Cause: err}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (f *FileTreeStorage) Close() error { return nil }
